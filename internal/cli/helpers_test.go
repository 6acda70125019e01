package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/mahmudsudo/encrypted-sql/internal/config"
	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/testutil"
)

// cliFixture is a key directory holding the shared test keys and a store
// path, both in a temp dir.
type cliFixture struct {
	dir  string
	keys string
	db   string
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	t.Chdir(t.TempDir()) // no stray encsql.yaml
	for _, k := range []string{"ENCSQL_STORE_PATH", "ENCSQL_KEYS_DIR", "ENCSQL_SERVER_URL", "ENCSQL_FHE_PRESET"} {
		t.Setenv(k, "")
	}

	dir := t.TempDir()
	f := &cliFixture{
		dir:  dir,
		keys: filepath.Join(dir, "keys"),
		db:   filepath.Join(dir, "encsql.db"),
	}
	ck, sk := testutil.Keys(t)
	require.NoError(t, fhe.SaveKeys(f.keys, ck, sk))
	return f
}

func (f *cliFixture) opts(format string) *RootOptions {
	return &RootOptions{Format: format, Store: f.db, KeysDir: f.keys}
}

func (f *cliFixture) config() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Store.Path = f.db
	cfg.Keys.Dir = f.keys
	cfg.Evaluator.Workers = 2
	return cfg
}

// withSensors loads testdata/data into the fixture's store.
func (f *cliFixture) withSensors(t *testing.T) *cliFixture {
	t.Helper()
	_, err := execute(t, NewLoadCommand(f.opts("text")), sensorsDir(t))
	require.NoError(t, err)
	return f
}

// testdataDir is absolute; fixtures chdir away from the package directory.
var testdataDir, _ = filepath.Abs("testdata")

func testdata(parts ...string) string {
	return filepath.Join(append([]string{testdataDir}, parts...)...)
}

func sensorsDir(t *testing.T) string {
	t.Helper()
	return testdata("data")
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
