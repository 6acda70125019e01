package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mahmudsudo/encrypted-sql/internal/evaluator"
	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/metrics"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	Output  string
	Workers int
}

// EvalResult describes one evaluation.
type EvalResult struct {
	QueryID    string          `json:"query_id"`
	Table      string          `json:"table"`
	Rows       int             `json:"rows"`
	Depth      int             `json:"depth"`
	MaxDepth   int             `json:"max_depth"`
	Workers    int             `json:"workers"`
	Ops        map[fhe.Op]int  `json:"ops"`
	ElapsedMs  int64           `json:"elapsed_ms"`
	RowLatency metrics.Summary `json:"row_latency"`
	Output     string          `json:"output"`
}

func (r EvalResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Evaluated query %s over %d rows of %s in %s\n",
		r.QueryID, r.Rows, r.Table, time.Duration(r.ElapsedMs)*time.Millisecond)
	fmt.Fprintf(&b, "  depth:   %d of %d\n", r.Depth, r.MaxDepth)
	fmt.Fprintf(&b, "  workers: %d\n", r.Workers)
	fmt.Fprintf(&b, "  ops:     %s\n", formatOps(r.Ops))
	fmt.Fprintf(&b, "  per row: %s\n", r.RowLatency)
	fmt.Fprintf(&b, "Result written to %s", r.Output)
	return b.String()
}

// formatOps renders operation counts sorted by name.
func formatOps(ops map[fhe.Op]int) string {
	if len(ops) == 0 {
		return "none"
	}
	names := make([]fhe.Op, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	slices.Sort(names)
	parts := make([]string, len(names))
	for i, op := range names {
		parts[i] = fmt.Sprintf("%s=%d", op, ops[op])
	}
	return strings.Join(parts, " ")
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <query.prog>",
		Short: "Evaluate a program file over the store",
		Long: `Evaluate an encoded program over the encrypted table with the server
key and write the encrypted result.

Only server.key is read. The result can be decrypted with "encsql decode"
by the holder of client.key.

Example:
  encsql eval q.prog
  encsql eval -o out.res --workers 8 q.prog`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "result file to write (default <input>.res)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "rows evaluated concurrently (default evaluator.workers)")

	return cmd
}

func runEval(opts *EvalOptions, path string, cmd *cobra.Command) error {
	e, err := newEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	in, err := os.Open(path)
	if err != nil {
		return e.f.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("program not found: %s", path), err)
	}
	prog, err := program.ReadProgram(in)
	in.Close()
	if err != nil {
		return e.f.queryFailed(err)
	}

	sk, err := e.serverKey()
	if err != nil {
		return err
	}
	st, err := e.openStore(cmd.Context(), sk.Params.Preset())
	if err != nil {
		return err
	}
	defer st.Close()

	ev := e.newEvaluator(sk, evaluator.Options{Workers: opts.Workers})
	res, rep, err := ev.Run(cmd.Context(), prog, st)
	if err != nil {
		return e.f.queryFailed(err)
	}

	output := opts.Output
	if output == "" {
		output = strings.TrimSuffix(path, filepath.Ext(path)) + ".res"
	}
	if err := writeResult(output, res); err != nil {
		return e.f.fail(ExitCommandError, ErrCodeWriteFailed, "failed to write result", err)
	}

	return e.f.SuccessWithID(rep.QueryID, EvalResult{
		QueryID:    rep.QueryID,
		Table:      rep.Table,
		Rows:       rep.Rows,
		Depth:      rep.Depth,
		MaxDepth:   rep.MaxDepth,
		Workers:    rep.Workers,
		Ops:        rep.Ops,
		ElapsedMs:  rep.Elapsed.Milliseconds(),
		RowLatency: rep.RowLatency,
		Output:     output,
	})
}

func writeResult(path string, res *program.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := res.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
