package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mahmudsudo/encrypted-sql/internal/decoder"
	"github.com/mahmudsudo/encrypted-sql/internal/encoder"
	"github.com/mahmudsudo/encrypted-sql/internal/evaluator"
	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/ingest"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
	"github.com/mahmudsudo/encrypted-sql/internal/store"
	"github.com/mahmudsudo/encrypted-sql/internal/testutil"
)

// Options configures a harness run.
type Options struct {
	// Client and Server are the key pair the scenario runs under.
	// Both are required.
	Client *fhe.ClientKey
	Server *fhe.ServerKey

	// Workers bounds concurrent row evaluation and encryption.
	// Zero or less means runtime.NumCPU().
	Workers int
}

// Harness is the test execution engine.
// It holds the encrypted tables of one scenario in an in-memory store
// next to their plaintext, so every encrypted answer can be checked
// against a plaintext reference.
type Harness struct {
	store   *store.Store
	enc     *fhe.Encryptor
	dec     *fhe.Decryptor
	eval    *evaluator.Evaluator
	traced  *evaluator.Evaluator
	catalog encoder.Tables
	plain   map[string]*plainTable
	clock   *testutil.DeterministicClock
	ids     *testutil.FixedIDGenerator
}

// plainTable is a loaded table's plaintext, kept for the reference.
type plainTable struct {
	schema schema.Table
	rows   [][]schema.Value
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Query IDs and outcome sequence numbers are deterministic.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Encrypt and load the scenario's tables
// 3. Encode, evaluate and decode every query
// 4. Check expect clauses and assertions
// 5. Return result with pass/fail, outcomes, and errors
//
// The returned error reports a harness failure (bad fixture, store
// error). Query failures are outcomes, not errors.
func Run(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	if opts.Client == nil || opts.Server == nil {
		return nil, errors.New("harness needs a client and a server key")
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		enc:    fhe.NewEncryptor(opts.Client),
		dec:    fhe.NewDecryptor(opts.Client),
		eval:   evaluator.New(opts.Server, evaluator.Options{Workers: opts.Workers}),
		traced: evaluator.New(opts.Server, evaluator.Options{Workers: opts.Workers, TraceRows: true}),
		plain:  make(map[string]*plainTable),
		clock:  testutil.NewDeterministicClock(),
		ids:    testutil.NewFixedIDGenerator(scenario.QueryID),
	}

	loader := ingest.NewLoader(st, h.enc, ingest.Options{Workers: opts.Workers})
	if err := h.loadData(ctx, loader, scenario.Data); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	if err := h.loadTables(ctx, loader, scenario.Tables); err != nil {
		return nil, fmt.Errorf("failed to load tables: %w", err)
	}

	wantTraces := false
	for _, a := range scenario.Assertions {
		if a.Type == AssertOblivious {
			wantTraces = true
		}
	}

	result := NewResult(scenario.Name)
	for _, q := range scenario.Queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kind, err := q.ProjectionKind()
		if err != nil {
			return nil, err
		}

		out := h.runQuery(ctx, q, kind, wantTraces)
		result.AddOutcome(out)

		if msg := checkExpect(q, out); msg != "" {
			result.AddError(msg)
		}
		if out.Err != nil {
			continue
		}
		for _, msg := range EvaluateAssertions(ctx, h, q, kind, out, scenario.Assertions) {
			result.AddError(msg)
		}
	}

	slog.Debug("scenario finished",
		"scenario", scenario.Name,
		"queries", len(result.Outcomes),
		"pass", result.Pass,
	)
	return result, nil
}

// loadData loads every CSV file in dir, using dir's catalog.cue when present.
func (h *Harness) loadData(ctx context.Context, loader *ingest.Loader, dir string) error {
	if dir == "" {
		return nil
	}

	var cat *ingest.Catalog
	catPath := filepath.Join(dir, ingest.CatalogFile)
	if _, err := os.Stat(catPath); err == nil {
		if cat, err = ingest.LoadCatalog(catPath); err != nil {
			return err
		}
	}

	files, err := ingest.FindCSVFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		tbl, rows, err := readCSVFile(path, cat)
		if err != nil {
			return err
		}
		if err := h.load(ctx, loader, tbl, rows); err != nil {
			return err
		}
	}
	return nil
}

func readCSVFile(path string, cat *ingest.Catalog) (schema.Table, [][]schema.Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return schema.Table{}, nil, err
	}
	defer f.Close()
	return ingest.ReadCSV(f, ingest.TableName(path), cat)
}

// loadTables parses inline fixtures and loads them.
func (h *Harness) loadTables(ctx context.Context, loader *ingest.Loader, fixtures []TableFixture) error {
	for _, fx := range fixtures {
		tbl := schema.Table{Name: fx.Name, Columns: fx.Columns}
		rows := make([][]schema.Value, len(fx.Rows))
		for i, raw := range fx.Rows {
			row := make([]schema.Value, len(raw))
			for j, cell := range raw {
				v, err := parseCell(cell, tbl.Columns[j].Type)
				if err != nil {
					return fmt.Errorf("table %s row %d column %s: %w", tbl.Name, i, tbl.Columns[j].Name, err)
				}
				row[j] = v
			}
			rows[i] = row
		}
		if err := h.load(ctx, loader, tbl, rows); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) load(ctx context.Context, loader *ingest.Loader, tbl schema.Table, rows [][]schema.Value) error {
	if _, err := loader.LoadTable(ctx, tbl, rows); err != nil {
		return err
	}
	h.catalog = append(h.catalog, tbl)
	h.plain[strings.ToLower(tbl.Name)] = &plainTable{schema: tbl, rows: rows}
	return nil
}

// runQuery encodes, evaluates and decodes one query.
func (h *Harness) runQuery(ctx context.Context, q Query, kind program.ProjectionKind, traces bool) Outcome {
	out := Outcome{Query: q.Name, SQL: q.SQL, Seq: h.clock.Next()}
	start := time.Now()

	ev := h.eval
	if traces {
		ev = h.traced
	}
	prog, ans, rep, err := h.execute(ctx, ev, q.SQL, kind)
	out.Elapsed = time.Since(start)
	out.program = prog
	if err != nil {
		out.Err = err
		out.Code = qerr.CodeOf(err)
		slog.Debug("query failed", "query", q.Name, "error", err)
		return out
	}

	out.Answer = ans
	out.Depth = rep.Depth
	out.Ops = rep.Ops
	out.Traces = rep.Traces
	slog.Debug("query answered", "query", q.Name, "matches", ans.Count, "elapsed", out.Elapsed)
	return out
}

// execute runs the full pipeline on sql. The program is returned even
// when evaluation or decoding fails.
func (h *Harness) execute(ctx context.Context, ev *evaluator.Evaluator, sql string, kind program.ProjectionKind) (
	*program.Program, *decoder.Answer, *evaluator.Report, error,
) {
	enc := encoder.New(h.enc, encoder.Options{Catalog: h.catalog, Kind: kind, IDs: h.ids})
	prog, err := enc.EncodeSQL(sql)
	if err != nil {
		return nil, nil, nil, err
	}
	ans, rep, err := h.evaluate(ctx, ev, prog, kind)
	return prog, ans, rep, err
}

// evaluate runs an encoded program and decodes its result.
func (h *Harness) evaluate(ctx context.Context, ev *evaluator.Evaluator, prog *program.Program, kind program.ProjectionKind) (
	*decoder.Answer, *evaluator.Report, error,
) {
	res, rep, err := ev.Run(ctx, prog, h.store)
	if err != nil {
		return nil, nil, err
	}
	ans, err := decoder.Decode(res, h.dec, kind)
	if err != nil {
		return nil, nil, err
	}
	return ans, rep, nil
}

// checkExpect compares an outcome with the query's expect clause.
// Returns an empty string when they agree.
func checkExpect(q Query, out Outcome) string {
	e := q.Expect
	if e == nil {
		if out.Err != nil {
			return fmt.Sprintf("query %s: unexpected failure: %v", q.Name, out.Err)
		}
		return ""
	}

	if e.Error != "" {
		if out.Err == nil {
			return fmt.Sprintf("query %s: expected %s, query succeeded", q.Name, e.Error)
		}
		if string(out.Code) != e.Error {
			return fmt.Sprintf("query %s: expected %s, got %v", q.Name, e.Error, out.Err)
		}
		return ""
	}
	if out.Err != nil {
		return fmt.Sprintf("query %s: unexpected failure: %v", q.Name, out.Err)
	}

	if err := matchExpect(e, out.Answer); err != nil {
		return fmt.Sprintf("query %s: %v", q.Name, err)
	}
	return ""
}
