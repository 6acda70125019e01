package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/mahmudsudo/encrypted-sql/internal/program"
)

const historyFile = ".encsql_history"

const shellHelp = `Enter a SELECT query, or one of:
  \tables           list tables
  \scalar on|off    toggle count-and-sums answers
  \timing on|off    toggle stage timings
  \help             show this help
  \q                quit`

// ShellOptions holds flags for the shell command.
type ShellOptions struct {
	*RootOptions
	Scalar bool
}

// NewShellCommand creates the shell command.
func NewShellCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShellOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive encrypted query shell",
		Long: `Start an interactive shell that runs every line as an encrypted query.

Keys and the store (or server connection) are opened once for the whole
session. History is kept in ~/` + historyFile + `.

Example:
  encsql shell
  encsql shell --server http://eval:8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Scalar, "scalar", false, "start with count-and-sums answers")

	return cmd
}

func runShell(opts *ShellOptions, cmd *cobra.Command) error {
	e, err := newEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	s, err := e.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	sh := &shell{session: s, out: cmd.OutOrStdout(), scalar: opts.Scalar}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(sh.complete(cmd.Context()))

	histPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		histPath = filepath.Join(home, historyFile)
		if f, err := os.Open(histPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if histPath == "" {
			return
		}
		f, err := os.Create(histPath)
		if err != nil {
			slog.Warn("could not save history", "path", histPath, "error", err)
			return
		}
		line.WriteHistory(f)
		f.Close()
	}()

	fmt.Fprintln(sh.out, `encsql shell. Type \help for commands.`)
	for {
		input, err := line.Prompt("encsql> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			// io.EOF on Ctrl-D
			fmt.Fprintln(sh.out)
			return nil
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if sh.handle(cmd.Context(), input) {
			return nil
		}
	}
}

// shell executes shell input against a session. It is separate from the
// line editor so it can be driven without a terminal.
type shell struct {
	session *session
	out     io.Writer
	scalar  bool
	timing  bool
}

// handle runs one line of input and reports whether the shell should exit.
func (sh *shell) handle(ctx context.Context, input string) (quit bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}
	if strings.HasPrefix(input, `\`) {
		return sh.meta(ctx, strings.Fields(input))
	}

	sql := strings.TrimSuffix(input, ";")
	run, err := sh.session.query(ctx, sql, sh.kind())
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return false
	}
	fmt.Fprintln(sh.out, run.Answer)
	if sh.timing {
		fmt.Fprintf(sh.out, "Time: %s\n", run.Timings)
	}
	return false
}

func (sh *shell) meta(ctx context.Context, args []string) bool {
	switch args[0] {
	case `\q`, `\quit`:
		return true
	case `\help`, `\?`:
		fmt.Fprintln(sh.out, shellHelp)
	case `\tables`:
		infos, err := sh.session.tables().Tables(ctx)
		if err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintln(sh.out, TablesResult{Tables: infos})
	case `\scalar`:
		sh.toggle(args, "scalar", &sh.scalar)
	case `\timing`:
		sh.toggle(args, "timing", &sh.timing)
	default:
		fmt.Fprintf(sh.out, "Unknown command %s. Type \\help for commands.\n", args[0])
	}
	return false
}

func (sh *shell) toggle(args []string, name string, flag *bool) {
	if len(args) == 2 {
		switch strings.ToLower(args[1]) {
		case "on":
			*flag = true
		case "off":
			*flag = false
		default:
			fmt.Fprintf(sh.out, "Usage: \\%s on|off\n", name)
			return
		}
	}
	state := "off"
	if *flag {
		state = "on"
	}
	fmt.Fprintf(sh.out, "%s is %s\n", name, state)
}

func (sh *shell) kind() program.ProjectionKind {
	return projectionKind(sh.scalar)
}

// complete returns a liner completer for table names after FROM and for
// meta commands.
func (sh *shell) complete(ctx context.Context) liner.Completer {
	metas := []string{`\tables`, `\scalar`, `\timing`, `\help`, `\q`}
	return func(line string) []string {
		if strings.HasPrefix(line, `\`) {
			var out []string
			for _, m := range metas {
				if strings.HasPrefix(m, line) {
					out = append(out, m)
				}
			}
			return out
		}

		i := strings.LastIndex(strings.ToUpper(line), "FROM ")
		if i < 0 {
			return nil
		}
		head, partial := line[:i+len("FROM ")], line[i+len("FROM "):]
		infos, err := sh.session.tables().Tables(ctx)
		if err != nil {
			return nil
		}
		var out []string
		for _, info := range infos {
			if strings.HasPrefix(strings.ToLower(info.Name), strings.ToLower(partial)) {
				out = append(out, head+info.Name)
			}
		}
		return out
	}
}
