package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	Preset string
	Force  bool
}

// KeygenResult describes a generated key pair.
type KeygenResult struct {
	Dir      string `json:"dir"`
	Preset   string `json:"preset"`
	LogN     int    `json:"log_n"`
	Slots    int    `json:"slots"`
	MaxDepth int    `json:"max_depth"`
}

func (r KeygenResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Keys written to %s\n", r.Dir)
	fmt.Fprintf(&b, "  preset:    %s\n", r.Preset)
	fmt.Fprintf(&b, "  ring:      2^%d (%d slots)\n", r.LogN, r.Slots)
	fmt.Fprintf(&b, "  max depth: %d", r.MaxDepth)
	return b.String()
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a client/server key pair",
		Long: `Generate a fresh key pair under the configured parameter preset.

client.key holds the secret key and stays with the query issuer.
server.key holds only public evaluation keys and may be shipped to the
evaluation server.

Presets:
  test     insecure, fast; for tests only
  default  production parameters
  large    deeper circuits, slower

Example:
  encsql keygen --keys ./keys
  encsql keygen --preset test --force`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Preset, "preset", "", "parameter preset (default from fhe.preset)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite existing keys")

	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	e, err := newEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	preset := opts.Preset
	if preset == "" {
		preset = e.cfg.FHE.Preset
	}
	params, err := fhe.NewParameters(preset)
	if err != nil {
		return e.f.fail(ExitCommandError, ErrCodeGeneric, "invalid preset", err)
	}

	dir := e.cfg.Keys.Dir
	if _, err := os.Stat(filepath.Join(dir, fhe.ClientKeyFile)); err == nil && !opts.Force {
		return e.f.fail(ExitCommandError, ErrCodeGeneric,
			fmt.Sprintf("keys already exist in %s (use --force to overwrite)", dir), nil)
	}

	slog.Info("generating keys", "preset", preset, "log_n", params.LogN())
	ck, sk, err := fhe.GenerateKeys(params)
	if err != nil {
		return e.f.fail(ExitFailure, ErrCodeGeneric, "key generation failed", err)
	}
	if err := fhe.SaveKeys(dir, ck, sk); err != nil {
		return e.f.fail(ExitCommandError, ErrCodeWriteFailed, "failed to write keys", err)
	}

	return e.f.Success(KeygenResult{
		Dir:      dir,
		Preset:   params.Preset(),
		LogN:     params.LogN(),
		Slots:    params.Slots(),
		MaxDepth: params.MaxDepth(),
	})
}
