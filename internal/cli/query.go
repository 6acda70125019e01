package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mahmudsudo/encrypted-sql/internal/decoder"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Scalar bool
}

// QueryResult is a decoded answer plus how the query ran.
type QueryResult struct {
	Answer     *decoder.Answer `json:"answer"`
	Depth      int             `json:"depth,omitempty"` // local evaluation only
	EncodeMs   int64           `json:"encode_ms"`
	EvaluateMs int64           `json:"evaluate_ms"`
	DecodeMs   int64           `json:"decode_ms"`
}

func (r QueryResult) String() string {
	return r.Answer.String()
}

func newQueryResult(run *queryRun) QueryResult {
	r := QueryResult{
		Answer:     run.Answer,
		EncodeMs:   run.Timings.Encode.Milliseconds(),
		EvaluateMs: run.Timings.Evaluate.Milliseconds(),
		DecodeMs:   run.Timings.Decode.Milliseconds(),
	}
	if run.Report != nil {
		r.Depth = run.Report.Depth
	}
	return r
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <sql|file.sql>",
		Short: "Run an encrypted query",
		Long: `Encode a SELECT query, evaluate it over the encrypted table and
decrypt the answer.

Evaluation runs in-process against the store unless --server (or
server.url) names an evaluation server. With --scalar the answer is the
count of matching rows and per-column sums instead of the rows.

Supported: SELECT <cols|*> FROM <table> [WHERE <predicate>] with =, !=,
<, <=, >, >=, AND, OR, NOT, IN and BETWEEN.

Example:
  encsql query "SELECT site FROM sensors WHERE celsius < 0"
  encsql query --scalar "SELECT hits FROM sensors WHERE ok = true"
  encsql query --server http://eval:8080 ./report.sql`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Scalar, "scalar", false, "return count and sums instead of rows")

	return cmd
}

func runQuery(opts *QueryOptions, arg string, cmd *cobra.Command) error {
	e, err := newEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	sql, err := readSQL(arg)
	if err != nil {
		return e.f.fail(ExitCommandError, ErrCodeNotFound, "failed to read query file", err)
	}

	s, err := e.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := s.query(cmd.Context(), sql, projectionKind(opts.Scalar))
	if err != nil {
		return e.f.queryFailed(err)
	}

	e.f.VerboseLog("query %s: %s", run.Program.ID, run.Timings)
	if run.Report != nil {
		e.f.VerboseLog("depth %d of %d, %d rows", run.Report.Depth, run.Report.MaxDepth, run.Report.Rows)
	}
	return e.f.SuccessWithID(run.Program.ID, newQueryResult(run))
}

// readSQL returns arg itself, or the contents of arg when it names a
// .sql file.
func readSQL(arg string) (string, error) {
	if !strings.HasSuffix(strings.ToLower(arg), ".sql") {
		return arg, nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func projectionKind(scalar bool) program.ProjectionKind {
	if scalar {
		return program.ProjectScalar
	}
	return program.ProjectRows
}
