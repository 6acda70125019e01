package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
	"github.com/mahmudsudo/encrypted-sql/internal/store"
	"github.com/mahmudsudo/encrypted-sql/internal/testutil"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "encsql.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// decryptTable returns every stored row of table as plaintext.
func decryptTable(t *testing.T, st *store.Store, table string) [][]schema.Value {
	t.Helper()
	tbl, err := st.Schema(context.Background(), table)
	require.NoError(t, err)
	dec := testutil.Decryptor(t)

	var out [][]schema.Value
	err = st.Scan(context.Background(), table, func(cells []*fhe.Ciphertext) error {
		row := make([]schema.Value, len(cells))
		for i, ct := range cells {
			v, err := dec.Value(ct, tbl.Columns[i].Type)
			if err != nil {
				return err
			}
			row[i] = v
		}
		out = append(out, row)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestLoader_LoadDir(t *testing.T) {
	st := openStore(t)
	l := NewLoader(st, testutil.Encryptor(t), Options{Workers: 2})

	reports, err := l.Load(context.Background(), filepath.Join("testdata", "basic"))
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "readings", reports[0].Table)
	assert.Equal(t, 3, reports[0].Rows)
	assert.Equal(t, 3, reports[0].Columns)
	assert.Equal(t, "t", reports[1].Table)

	assert.Equal(t, [][]schema.Value{
		{schema.IntValue(-5), schema.TextValue("north"), schema.UintValue(300)},
		{schema.IntValue(0), schema.TextValue("south"), schema.UintValue(7)},
		{schema.IntValue(40), schema.TextValue("north"), schema.UintValue(1000)},
	}, decryptTable(t, st, "readings"))

	_, want := testutil.ScenarioTable()
	assert.Equal(t, want, decryptTable(t, st, "t"))

	preset, err := st.Preset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fhe.PresetTest, preset)
}

func TestLoader_ExistingTable(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	file := filepath.Join("testdata", "basic", "t.csv")

	_, err := NewLoader(st, testutil.Encryptor(t), Options{}).Load(ctx, file)
	require.NoError(t, err)

	_, err = NewLoader(st, testutil.Encryptor(t), Options{}).Load(ctx, file)
	assert.ErrorIs(t, err, store.ErrTableExists)

	reports, err := NewLoader(st, testutil.Encryptor(t), Options{Replace: true}).Load(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, 3, reports[0].Rows)
	assert.Len(t, decryptTable(t, st, "t"), 3)
}

func TestLoader_BadFileLeavesNoTable(t *testing.T) {
	st := openStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.csv")
	require.NoError(t, os.WriteFile(path, []byte("id:uint8\n1\n999\n"), 0o644))

	_, err := NewLoader(st, testutil.Encryptor(t), Options{}).Load(context.Background(), path)
	require.Error(t, err)

	_, err = st.Schema(context.Background(), "broken")
	assert.True(t, qerr.IsTableNotFound(err))
}

func TestLoader_LoadTableRowArity(t *testing.T) {
	st := openStore(t)
	tbl, _ := testutil.ScenarioTable()
	rows := [][]schema.Value{{schema.UintValue(1)}}

	_, err := NewLoader(st, testutil.Encryptor(t), Options{}).LoadTable(context.Background(), tbl, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 values for 2 columns")

	_, err = st.Schema(context.Background(), "t")
	assert.True(t, qerr.IsTableNotFound(err))
}

func TestLoader_EmptyDir(t *testing.T) {
	st := openStore(t)
	_, err := NewLoader(st, testutil.Encryptor(t), Options{}).Load(context.Background(), t.TempDir())
	assert.ErrorContains(t, err, "no CSV files")
}

func TestFindCSVFiles(t *testing.T) {
	files, err := FindCSVFiles(filepath.Join("testdata", "basic"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata", "basic", "readings.csv"),
		filepath.Join("testdata", "basic", "t.csv"),
	}, files)
}
