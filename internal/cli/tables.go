package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mahmudsudo/encrypted-sql/internal/store"
)

// TablesOptions holds flags for the tables command.
type TablesOptions struct {
	*RootOptions
}

// TablesResult lists the tables available for querying.
type TablesResult struct {
	Tables []store.TableInfo `json:"tables"`
}

func (r TablesResult) String() string {
	if len(r.Tables) == 0 {
		return "No tables"
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tROWS\tCOLUMNS")
	for _, t := range r.Tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name + ":" + c.Type.String()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", t.Name, t.Rows, strings.Join(cols, " "))
	}
	tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// NewTablesCommand creates the tables command.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TablesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List encrypted tables",
		Long: `List the tables in the store with their schemas and row counts.

Schemas and row counts are public metadata; no key is needed. With
--server the listing comes from the evaluation server.

Example:
  encsql tables --db ./encsql.db
  encsql tables --server http://eval:8080 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTables(opts, cmd)
		},
	}

	return cmd
}

func runTables(opts *TablesOptions, cmd *cobra.Command) error {
	e, err := newEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	if client := e.remote(); client != nil {
		infos, err := client.Tables(cmd.Context())
		if err != nil {
			return e.f.fail(ExitCommandError, ErrCodeRemote, "failed to list remote tables", err)
		}
		return e.f.Success(TablesResult{Tables: infos})
	}

	st, err := e.openStore(cmd.Context(), "")
	if err != nil {
		return err
	}
	defer st.Close()

	infos, err := st.Tables(cmd.Context())
	if err != nil {
		return e.f.fail(ExitCommandError, ErrCodeStore, "failed to list tables", err)
	}
	return e.f.Success(TablesResult{Tables: infos})
}
