// Package server exposes the homomorphic evaluator over HTTP.
//
// The server holds only the server key and the encrypted store. Clients
// post a serialized predicate program and receive the serialized
// encrypted result; nothing the server sees or returns is plaintext
// except table metadata.
//
//	POST /v1/evaluate   program bytes in, result bytes out
//	GET  /v1/tables     table schemas and row counts
//	GET  /metrics       Prometheus metrics
//	GET  /healthz       liveness and parameter preset
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mahmudsudo/encrypted-sql/internal/evaluator"
	"github.com/mahmudsudo/encrypted-sql/internal/metrics"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/store"
)

// ContentType is the media type of program and result bodies.
const ContentType = "application/vnd.encsql"

// Response headers set by /v1/evaluate.
const (
	HeaderQueryID = "X-Encsql-Query-Id"
	HeaderRows    = "X-Encsql-Rows"
	HeaderElapsed = "X-Encsql-Elapsed-Ms"
)

// Backend is what the server evaluates against. The SQLite store
// implements it.
type Backend interface {
	evaluator.Source
	Tables(ctx context.Context) ([]store.TableInfo, error)
}

// Options configures a Server.
type Options struct {
	Preset       string // reported by /healthz
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ShutdownTimeout bounds the wait for in-flight requests once the
	// server is asked to stop. Zero means DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// DefaultShutdownTimeout applies when Options.ShutdownTimeout is zero.
const DefaultShutdownTimeout = 30 * time.Second

// Server serves evaluation requests.
type Server struct {
	eval    *evaluator.Evaluator
	backend Backend
	opts    Options
	router  *gin.Engine
}

// New creates a Server and registers its routes.
func New(eval *evaluator.Evaluator, backend Backend, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 30
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observe())

	s := &Server{eval: eval, backend: backend, opts: opts, router: router}

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/v1")
	api.POST("/evaluate", s.evaluate)
	api.GET("/tables", s.tables)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully, letting in-flight evaluations finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "preset", s.opts.Preset)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("server shutting down", "timeout", s.opts.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "preset": s.opts.Preset, "max_depth": s.eval.MaxDepth()})
}

func (s *Server) tables(c *gin.Context) {
	infos, err := s.backend.Tables(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tables": infos})
}

func (s *Server) evaluate(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorBody("REQUEST_TOO_LARGE", err.Error()))
			return
		}
		c.JSON(http.StatusBadRequest, errorBody("BAD_REQUEST", err.Error()))
		return
	}

	prog, err := program.UnmarshalProgram(body)
	if err != nil {
		writeError(c, err)
		return
	}

	res, rep, err := s.eval.Run(c.Request.Context(), prog, s.backend)
	if err != nil {
		writeError(c, err)
		return
	}

	var buf bytes.Buffer
	if _, err := res.WriteTo(&buf); err != nil {
		writeError(c, err)
		return
	}
	c.Header(HeaderQueryID, prog.ID)
	c.Header(HeaderRows, strconv.Itoa(rep.Rows))
	c.Header(HeaderElapsed, strconv.FormatInt(rep.Elapsed.Milliseconds(), 10))
	c.Data(http.StatusOK, ContentType, buf.Bytes())
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail mirrors qerr.Error on the wire.
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Table   string            `json:"table,omitempty"`
	Column  string            `json:"column,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func errorBody(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
}

// writeError maps pipeline errors to 4xx responses; anything else is a
// 500. Query failures never take the server down.
func writeError(c *gin.Context, err error) {
	var qe *qerr.Error
	if errors.As(err, &qe) {
		c.JSON(statusFor(qe.Code), ErrorResponse{Error: ErrorDetail{
			Code:    string(qe.Code),
			Message: qe.Message,
			Table:   qe.Table,
			Column:  qe.Column,
			Details: qe.Details,
		}})
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusServiceUnavailable, errorBody("CANCELLED", err.Error()))
		return
	}
	slog.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, errorBody("INTERNAL", err.Error()))
}

func statusFor(code qerr.Code) int {
	switch code {
	case qerr.CodeTableNotFound:
		return http.StatusNotFound
	case qerr.CodeSchemaMismatch, qerr.CodeCapacityExceeded:
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

// observe records request metrics and logs each request at debug level.
func observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()
		metrics.RequestTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(c.Request.Method, path).Observe(elapsed.Seconds())
		slog.Debug("request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"elapsed", elapsed,
		)
	}
}
