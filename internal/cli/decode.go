package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mahmudsudo/encrypted-sql/internal/decoder"
	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
)

// DecodeOptions holds flags for the decode command.
type DecodeOptions struct {
	*RootOptions
	Scalar bool
}

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DecodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "decode <result.res>",
		Short: "Decrypt a result file",
		Long: `Decrypt an encrypted result written by "encsql eval" with the client key.

Result files do not record how the query was projected; pass --scalar for
programs encoded with --scalar.

Example:
  encsql decode q.res
  encsql decode --scalar --format json q.res`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Scalar, "scalar", false, "decode count and sums instead of rows")

	return cmd
}

func runDecode(opts *DecodeOptions, path string, cmd *cobra.Command) error {
	e, err := newEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	in, err := os.Open(path)
	if err != nil {
		return e.f.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("result not found: %s", path), err)
	}
	res, err := program.ReadResult(in)
	in.Close()
	if err != nil {
		return e.f.queryFailed(err)
	}

	key, err := e.clientKey()
	if err != nil {
		return err
	}

	ans, err := decoder.Decode(res, fhe.NewDecryptor(key), projectionKind(opts.Scalar))
	if err != nil {
		return e.f.queryFailed(err)
	}
	return e.f.SuccessWithID(ans.QueryID, ans)
}
