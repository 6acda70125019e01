package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mahmudsudo/encrypted-sql/internal/decoder"
	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/harness"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Scalar bool
	Preset string
}

// CheckResult is the outcome of checking one query.
type CheckResult struct {
	SQL    string          `json:"sql"`
	Answer *decoder.Answer `json:"answer,omitempty"`
	Depth  int             `json:"depth"`
	Pass   bool            `json:"pass"`
	Errors []string        `json:"errors,omitempty"`
}

func (r CheckResult) String() string {
	var b strings.Builder
	if r.Answer != nil {
		fmt.Fprintf(&b, "%s\n\n", r.Answer)
	}
	if r.Pass {
		fmt.Fprintf(&b, "✓ matches plaintext reference\n")
		fmt.Fprintf(&b, "✓ oblivious: every row ran the same operations (depth %d)", r.Depth)
		return b.String()
	}
	fmt.Fprintf(&b, "✗ check failed")
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  %s", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n  "))
	}
	return b.String()
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <csv-dir> <sql>",
		Short: "Check a query against its plaintext answer",
		Long: `Encrypt a directory of CSV tables under ephemeral keys, run one query
through the encrypted pipeline, and verify the decrypted answer against
the same query evaluated over the plaintext. Every row's operation
sequence is also checked to be identical.

Nothing is written: the store is in memory and the keys are discarded.

Example:
  encsql check ./data "SELECT site FROM sensors WHERE celsius < 0"
  encsql check --scalar ./data "SELECT hits FROM sensors WHERE ok"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Scalar, "scalar", false, "check count and sums instead of rows")
	cmd.Flags().StringVar(&opts.Preset, "preset", fhe.PresetTest, "parameter preset for the ephemeral keys")

	return cmd
}

func runCheck(opts *CheckOptions, dataDir, arg string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	if info, err := os.Stat(dataDir); err != nil || !info.IsDir() {
		return f.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("data directory not found: %s", dataDir), err)
	}
	sql, err := readSQL(arg)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeNotFound, "failed to read query file", err)
	}

	hopts, err := ephemeralKeys(opts.Preset)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeKeys, "failed to generate keys", err)
	}

	kind := projectionKind(opts.Scalar)
	scenario := &harness.Scenario{
		Name:        "check",
		Description: sql,
		Data:        dataDir,
		Queries:     []harness.Query{{Name: "check", SQL: sql, Kind: kind.String()}},
		Assertions: []harness.Assertion{
			{Type: harness.AssertMatchesReference},
			{Type: harness.AssertOblivious},
		},
	}

	result, err := harness.Run(cmd.Context(), scenario, hopts)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeLoadFailed, "failed to load data", err)
	}

	out := result.Outcomes[0]
	if out.Err != nil {
		return f.queryFailed(out.Err)
	}

	res := CheckResult{
		SQL:    sql,
		Answer: out.Answer,
		Depth:  out.Depth,
		Pass:   result.Pass,
		Errors: result.Errors,
	}
	if !res.Pass {
		if err := f.Success(res); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "check failed")
	}
	return f.SuccessWithID(out.Answer.QueryID, res)
}
