package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "./encsql.db", cfg.Store.Path)
	assert.Equal(t, "./keys", cfg.Keys.Dir)
	assert.Equal(t, "default", cfg.FHE.Preset)
	assert.Equal(t, runtime.NumCPU(), cfg.Evaluator.Workers)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.Server.URL)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, time.Minute, cfg.Server.ShutdownTimeout)
}

func TestLoad_ShutdownTimeoutIndependentOfWriteTimeout(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENCSQL_SERVER_WRITE_TIMEOUT", "0s")
	t.Setenv("ENCSQL_SERVER_SHUTDOWN_TIMEOUT", "45s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Zero(t, cfg.Server.WriteTimeout)
	assert.Equal(t, 45*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  path: /data/tables.db
fhe:
  preset: test
evaluator:
  workers: 3
server:
  url: http://eval:8080
  read_timeout: 5s
`), 0o644))

	t.Setenv("ENCSQL_EVALUATOR_WORKERS", "7")
	t.Setenv("ENCSQL_KEYS_DIR", "/secrets")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/tables.db", cfg.Store.Path)
	assert.Equal(t, "/secrets", cfg.Keys.Dir)
	assert.Equal(t, "test", cfg.FHE.Preset)
	assert.Equal(t, 7, cfg.Evaluator.Workers, "environment beats file")
	assert.Equal(t, "http://eval:8080", cfg.Server.URL)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_DefaultFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(DefaultFile, []byte("server:\n  addr: \":9090\"\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestLoad_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	t.Setenv("ENCSQL_FHE_PRESET", "huge")
	_, err = Load("")
	assert.ErrorContains(t, err, `fhe.preset "huge"`)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Store.Path = ""
	cfg.Evaluator.Workers = -1
	cfg.Server.ShutdownTimeout = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.path is empty")
	assert.Contains(t, err.Error(), "evaluator.workers is -1")
	assert.Contains(t, err.Error(), "server.shutdown_timeout must be positive")
}
