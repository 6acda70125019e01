package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/store"
)

// Client talks to a remote evaluation server. It holds no key material.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a Client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: http.DefaultClient}
}

// Evaluate sends prog to the server and returns its encrypted result.
// Pipeline failures come back as *qerr.Error, so the qerr.IsXxx helpers
// work the same as for local evaluation.
func (c *Client) Evaluate(ctx context.Context, prog *program.Program) (*program.Result, error) {
	body, err := prog.MarshalBinary()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", ContentType)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	return program.ReadResult(resp.Body)
}

// Tables lists the server's tables.
func (c *Client) Tables(ctx context.Context) ([]store.TableInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/tables", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var out struct {
		Tables []store.TableInfo `json:"tables"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tables: %w", err)
	}
	return out.Tables, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var er ErrorResponse
	if err := json.Unmarshal(raw, &er); err != nil || er.Error.Code == "" {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	switch code := qerr.Code(er.Error.Code); code {
	case qerr.CodeUnsupportedQuery, qerr.CodeSchemaMismatch, qerr.CodeTableNotFound,
		qerr.CodeCapacityExceeded, qerr.CodeDecryptionLengthMismatch,
		qerr.CodeMalformedProgram, qerr.CodeParseError:
		return &qerr.Error{
			Code:    code,
			Message: er.Error.Message,
			Table:   er.Error.Table,
			Column:  er.Error.Column,
			Details: er.Error.Details,
		}
	}
	return fmt.Errorf("server returned %s: %s: %s", resp.Status, er.Error.Code, er.Error.Message)
}
