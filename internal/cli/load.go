package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/ingest"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Catalog string
	Replace bool
	Workers int
}

// LoadResult lists the tables a load wrote.
type LoadResult struct {
	Tables []ingest.Report `json:"tables"`
}

func (r LoadResult) String() string {
	var b strings.Builder
	for i, rep := range r.Tables {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "✓ %s: %d rows, %d columns (%s)",
			rep.Table, rep.Rows, rep.Columns, rep.Elapsed.Round(time.Millisecond))
	}
	if len(r.Tables) == 0 {
		b.WriteString("No tables loaded")
	}
	return b.String()
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <dir|file.csv>",
		Short: "Encrypt CSV tables into the store",
		Long: `Encrypt CSV files with the client key and write them to the store.

Each file becomes a table named after the file. Column types come from a
typed header (id:uint8,name:text) or from a CUE catalog; a directory is
searched for catalog.cue when --catalog is not given.

Example:
  encsql load ./data
  encsql load --catalog schema.cue --replace ./data/sensors.csv`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "CUE catalog declaring table schemas")
	cmd.Flags().BoolVar(&opts.Replace, "replace", false, "replace tables that already exist")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "rows encrypted concurrently (default NumCPU)")

	return cmd
}

func runLoad(opts *LoadOptions, path string, cmd *cobra.Command) error {
	e, err := newEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err != nil {
		return e.f.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("input not found: %s", path), err)
	}

	var cat *ingest.Catalog
	if opts.Catalog != "" {
		if cat, err = ingest.LoadCatalog(opts.Catalog); err != nil {
			return e.f.fail(ExitCommandError, ErrCodeLoadFailed, "invalid catalog", err)
		}
	}

	key, err := e.clientKey()
	if err != nil {
		return err
	}
	st, err := e.openStore(cmd.Context(), key.Params.Preset())
	if err != nil {
		return err
	}
	defer st.Close()

	loader := ingest.NewLoader(st, fhe.NewEncryptor(key), ingest.Options{
		Catalog: cat,
		Replace: opts.Replace,
		Workers: opts.Workers,
	})
	reports, err := loader.Load(cmd.Context(), path)
	if err != nil {
		var qe *qerr.Error
		if errors.As(err, &qe) {
			return e.f.queryFailed(err)
		}
		return e.f.fail(ExitFailure, ErrCodeLoadFailed, "load failed", err)
	}

	return e.f.Success(LoadResult{Tables: reports})
}
