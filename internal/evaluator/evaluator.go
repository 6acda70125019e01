// Package evaluator runs encrypted predicate programs over encrypted
// tables without ever decrypting.
//
// Evaluation has two phases. Preflight resolves the program against the
// table schema on a symbolic stack, reporting TABLE_NOT_FOUND,
// SCHEMA_MISMATCH, CAPACITY_EXCEEDED and MALFORMED_PROGRAM before any
// ciphertext work starts. The row phase then runs the same fixed circuit
// on every row: substitute the row's cells for column references, run the
// postfix program on a ciphertext stack, broadcast the resulting selector
// and multiply every projected cell by it.
//
// The sequence of homomorphic operations for a row depends only on the
// program and the column types, never on cell values. Every row is
// visited and every row contributes a tuple to the result.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/metrics"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// Source resolves tables by name and streams their encrypted rows.
// The SQLite store implements it.
type Source interface {
	// Schema returns the table's schema or a TABLE_NOT_FOUND error.
	Schema(ctx context.Context, table string) (*schema.Table, error)

	// Scan calls fn once per row in store order with the row's cells in
	// column order.
	Scan(ctx context.Context, table string, fn func(cells []*fhe.Ciphertext) error) error
}

// Options configures an Evaluator.
type Options struct {
	// Workers bounds the number of rows evaluated concurrently.
	// Zero or less means runtime.NumCPU(); 1 is sequential.
	Workers int

	// Recorder observes every operation of every row. It must be safe for
	// concurrent use when Workers > 1.
	Recorder fhe.Recorder

	// TraceRows keeps a per-row operation trace in the Report.
	TraceRows bool
}

// Report describes one evaluation.
type Report struct {
	QueryID    string
	Table      string
	Rows       int
	Depth      int
	MaxDepth   int
	Workers    int
	Ops        map[fhe.Op]int
	Elapsed    time.Duration
	RowLatency metrics.Summary
	Traces     []*fhe.Trace // per row, when Options.TraceRows is set
}

// Evaluator evaluates programs with the server key. It is safe for
// concurrent use; every row gets its own copy of the circuit evaluator.
type Evaluator struct {
	base *fhe.Evaluator
	opts Options
}

// New creates an Evaluator from the server key.
func New(key *fhe.ServerKey, opts Options) *Evaluator {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Evaluator{base: fhe.NewEvaluator(key), opts: opts}
}

// MaxDepth returns the multiplicative depth budget of the parameter set.
func (e *Evaluator) MaxDepth() int {
	return e.base.Params().MaxDepth()
}

// Evaluate runs prog against its source table and returns the encrypted
// result. Failures are structured qerr errors or ctx.Err(); there are no
// partial results.
func (e *Evaluator) Evaluate(ctx context.Context, prog *program.Program, src Source) (*program.Result, error) {
	res, _, err := e.Run(ctx, prog, src)
	return res, err
}

// Run is Evaluate plus a Report.
func (e *Evaluator) Run(ctx context.Context, prog *program.Program, src Source) (res *program.Result, rep *Report, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveQuery(metrics.StageEvaluate, err)
		if err != nil {
			slog.Warn("evaluation failed",
				"query_id", prog.ID,
				"table", prog.Table,
				"error", err,
			)
		}
	}()

	p, err := preflight(ctx, prog, src, e.MaxDepth())
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("program resolved", "query_id", prog.ID, "plan", p.String())

	var rows [][]*fhe.Ciphertext
	err = src.Scan(ctx, prog.Table, func(cells []*fhe.Ciphertext) error {
		if len(cells) != len(p.table.Columns) {
			return fmt.Errorf("row %d has %d cells for %d columns", len(rows), len(cells), len(p.table.Columns))
		}
		rows = append(rows, cells)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	rep = &Report{
		QueryID:  prog.ID,
		Table:    p.table.Name,
		Rows:     len(rows),
		Depth:    p.depth,
		MaxDepth: e.MaxDepth(),
		Workers:  e.opts.Workers,
	}
	tuples, latencies, traces, tally, err := e.evaluateRows(ctx, p, rows)
	if err != nil {
		return nil, nil, err
	}

	res = &program.Result{ID: prog.ID, Columns: p.columns}
	res.Ciphertexts = make([]*fhe.Ciphertext, 0, len(rows)*(1+len(p.columns)))
	for _, t := range tuples {
		res.Ciphertexts = append(res.Ciphertexts, t...)
	}

	rep.Elapsed = time.Since(start)
	rep.Ops = tally.Counts()
	rep.RowLatency = metrics.Summarize(latencies)
	rep.Traces = traces
	metrics.RowsEvaluated.Add(float64(len(rows)))
	metrics.EvaluationDuration.Observe(rep.Elapsed.Seconds())

	slog.Info("evaluation finished",
		"query_id", prog.ID,
		"table", p.table.Name,
		"rows", len(rows),
		"depth", p.depth,
		"elapsed", rep.Elapsed,
	)
	return res, rep, nil
}

// evaluateRows runs the plan over every row on a bounded pool. Tuples are
// written by row index so output order equals store order.
func (e *Evaluator) evaluateRows(ctx context.Context, p *plan, rows [][]*fhe.Ciphertext) (
	[][]*fhe.Ciphertext, []time.Duration, []*fhe.Trace, *fhe.Tally, error,
) {
	tuples := make([][]*fhe.Ciphertext, len(rows))
	latencies := make([]time.Duration, len(rows))
	tally := &fhe.Tally{}
	var traces []*fhe.Trace
	if e.opts.TraceRows {
		traces = make([]*fhe.Trace, len(rows))
	}
	if len(rows) == 0 {
		return tuples, nil, traces, tally, nil
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once     sync.Once
		firstErr error
		wg       sync.WaitGroup
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	pool, err := ants.NewPool(min(e.opts.Workers, len(rows)), ants.WithPanicHandler(func(v any) {
		fail(fmt.Errorf("row evaluation panicked: %v", v))
	}))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	for i := range rows {
		if ctx.Err() != nil {
			break
		}
		i := i
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}

			var trace *fhe.Trace
			if traces != nil {
				trace = &fhe.Trace{}
				traces[i] = trace
			}
			var rowRec fhe.Recorder
			if trace != nil {
				rowRec = trace
			}
			ev := e.base.ShallowCopy().WithRecorder(fhe.Tee(tally, metrics.OpCounter{}, e.opts.Recorder, rowRec))

			started := time.Now()
			tuple, err := p.evalRow(ev, rows[i])
			if err != nil {
				fail(fmt.Errorf("row %d: %w", i, err))
				return
			}
			latencies[i] = time.Since(started)
			tuples[i] = tuple
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit row %d: %w", i, err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, nil, nil, nil, firstErr
	}
	// The caller's context may have been cancelled without any row failing.
	if err := parent.Err(); err != nil {
		return nil, nil, nil, nil, err
	}
	return tuples, latencies, traces, tally, nil
}
