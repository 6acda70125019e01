package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mahmudsudo/encrypted-sql/internal/encoder"
	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/ingest"
)

// EncodeOptions holds flags for the encode command.
type EncodeOptions struct {
	*RootOptions
	Output  string
	Scalar  bool
	Catalog string
}

// EncodeResult describes a written program.
type EncodeResult struct {
	QueryID string `json:"query_id"`
	Table   string `json:"table"`
	Kind    string `json:"kind"`
	Tokens  int    `json:"tokens"`
	Output  string `json:"output"`
}

func (r EncodeResult) String() string {
	return fmt.Sprintf("✓ Encoded query %s on %s (%s, %d tokens) to %s",
		r.QueryID, r.Table, r.Kind, r.Tokens, r.Output)
}

// NewEncodeCommand creates the encode command.
func NewEncodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EncodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "encode <sql|file.sql>",
		Short: "Encode a query into an encrypted program file",
		Long: `Encode a SELECT query into a predicate program and write it to a file.

Literals are encrypted with the client key. Column types come from
--catalog when given, otherwise from the store (or --server). The program
file can be evaluated with "encsql eval" on the server side.

Example:
  encsql encode -o q.prog "SELECT site FROM sensors WHERE celsius < 0"
  encsql encode --catalog schema.cue --scalar -o q.prog ./report.sql`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "query.prog", "program file to write")
	cmd.Flags().BoolVar(&opts.Scalar, "scalar", false, "request count and sums instead of rows")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "CUE catalog declaring table schemas")

	return cmd
}

func runEncode(opts *EncodeOptions, arg string, cmd *cobra.Command) error {
	e, err := newEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	sql, err := readSQL(arg)
	if err != nil {
		return e.f.fail(ExitCommandError, ErrCodeNotFound, "failed to read query file", err)
	}

	key, err := e.clientKey()
	if err != nil {
		return err
	}

	var cat encoder.Catalog
	switch {
	case opts.Catalog != "":
		c, err := ingest.LoadCatalog(opts.Catalog)
		if err != nil {
			return e.f.fail(ExitCommandError, ErrCodeLoadFailed, "invalid catalog", err)
		}
		cat = c
	case e.remote() != nil:
		tables, err := catalogOf(cmd.Context(), e.remote())
		if err != nil {
			return e.f.fail(ExitCommandError, ErrCodeRemote, "failed to list remote tables", err)
		}
		cat = tables
	default:
		st, err := e.openStore(cmd.Context(), key.Params.Preset())
		if err != nil {
			return err
		}
		tables, err := catalogOf(cmd.Context(), st)
		st.Close()
		if err != nil {
			return e.f.fail(ExitCommandError, ErrCodeStore, "failed to list tables", err)
		}
		cat = tables
	}

	enc := encoder.New(fhe.NewEncryptor(key), encoder.Options{Catalog: cat, Kind: projectionKind(opts.Scalar)})
	prog, err := enc.EncodeSQL(sql)
	if err != nil {
		return e.f.queryFailed(err)
	}
	e.f.VerboseLog("%s", prog.Dump())

	f, err := os.Create(opts.Output)
	if err != nil {
		return e.f.fail(ExitCommandError, ErrCodeWriteFailed, "failed to write program", err)
	}
	if _, err := prog.WriteTo(f); err != nil {
		f.Close()
		return e.f.fail(ExitCommandError, ErrCodeWriteFailed, "failed to write program", err)
	}
	if err := f.Close(); err != nil {
		return e.f.fail(ExitCommandError, ErrCodeWriteFailed, "failed to write program", err)
	}

	return e.f.SuccessWithID(prog.ID, EncodeResult{
		QueryID: prog.ID,
		Table:   prog.Table,
		Kind:    prog.Kind.String(),
		Tokens:  len(prog.Predicate),
		Output:  opts.Output,
	})
}
