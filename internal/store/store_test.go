package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
	"github.com/mahmudsudo/encrypted-sql/internal/testutil"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// encryptRows encrypts plaintext rows for tbl with the shared test key.
func encryptRows(t *testing.T, tbl schema.Table, rows [][]schema.Value) [][]*fhe.Ciphertext {
	t.Helper()
	enc := testutil.Encryptor(t)
	out := make([][]*fhe.Ciphertext, len(rows))
	for i, row := range rows {
		out[i] = make([]*fhe.Ciphertext, len(row))
		for j, v := range row {
			ct, err := enc.Encrypt(v, tbl.Columns[j].Type)
			if err != nil {
				t.Fatalf("Encrypt() row %d column %d failed: %v", i, j, err)
			}
			out[i][j] = ct
		}
	}
	return out
}

// loadScenario creates table t and inserts its three rows.
func loadScenario(t *testing.T, s *Store) (schema.Table, [][]schema.Value) {
	t.Helper()
	ctx := context.Background()
	tbl, rows := testutil.ScenarioTable()
	if err := s.CreateTable(ctx, tbl); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}
	if err := s.InsertRows(ctx, tbl.Name, encryptRows(t, tbl, rows)); err != nil {
		t.Fatalf("InsertRows() failed: %v", err)
	}
	return tbl, rows
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"tables", "columns", "rows", "meta"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct{ name, want string }{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.want); err != nil {
			t.Error(err)
		}
	}
}

func TestOpen_MigratesVersionZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	// Simulate a database written before the meta table existed.
	if _, err := s.db.Exec("DROP TABLE meta"); err != nil {
		t.Fatalf("drop meta: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("reset user_version: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	if err := s.SetPreset(context.Background(), "test"); err != nil {
		t.Fatalf("SetPreset() after migration failed: %v", err)
	}
}

func TestCreateTable_RoundTripsSchema(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tbl := schema.Table{
		Name: "Readings",
		Columns: []schema.Column{
			{Name: "celsius", Type: schema.Int(16)},
			{Name: "site", Type: schema.Str},
			{Name: "ok", Type: schema.Bool},
			{Name: "hits", Type: schema.Uint(64)},
		},
	}
	if err := s.CreateTable(ctx, tbl); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}

	// Lookups ignore case and return the stored spelling.
	got, err := s.Schema(ctx, "readings")
	if err != nil {
		t.Fatalf("Schema() failed: %v", err)
	}
	if got.Name != "Readings" {
		t.Errorf("Name = %q, want %q", got.Name, "Readings")
	}
	if len(got.Columns) != len(tbl.Columns) {
		t.Fatalf("got %d columns, want %d", len(got.Columns), len(tbl.Columns))
	}
	for i := range tbl.Columns {
		if got.Columns[i] != tbl.Columns[i] {
			t.Errorf("column %d = %+v, want %+v", i, got.Columns[i], tbl.Columns[i])
		}
	}
}

func TestCreateTable_Rejects(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tbl, _ := testutil.ScenarioTable()
	if err := s.CreateTable(ctx, tbl); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}

	upper := tbl
	upper.Name = "T"
	if err := s.CreateTable(ctx, upper); !errors.Is(err, ErrTableExists) {
		t.Errorf("duplicate CreateTable() error = %v, want ErrTableExists", err)
	}

	if err := s.CreateTable(ctx, schema.Table{Name: "empty"}); err == nil {
		t.Error("CreateTable() with no columns succeeded")
	}
}

func TestSchema_TableNotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Schema(context.Background(), "missing")
	if !qerr.IsTableNotFound(err) {
		t.Errorf("Schema() error = %v, want TABLE_NOT_FOUND", err)
	}
	_, err = s.Table(context.Background(), "missing")
	if !qerr.IsTableNotFound(err) {
		t.Errorf("Table() error = %v, want TABLE_NOT_FOUND", err)
	}
	err = s.Scan(context.Background(), "missing", func([]*fhe.Ciphertext) error { return nil })
	if !qerr.IsTableNotFound(err) {
		t.Errorf("Scan() error = %v, want TABLE_NOT_FOUND", err)
	}
}

func TestRows_PreservesOrderAndValues(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tbl, want := loadScenario(t, s)
	dec := testutil.Decryptor(t)

	h, err := s.Table(ctx, "t")
	if err != nil {
		t.Fatalf("Table() failed: %v", err)
	}

	// Two passes: iteration is restartable.
	for pass := 0; pass < 2; pass++ {
		it := h.Rows(ctx)
		i := 0
		for it.Next() {
			cells := it.Cells()
			for j, ct := range cells {
				v, err := dec.Value(ct, tbl.Columns[j].Type)
				if err != nil {
					t.Fatalf("pass %d row %d: decrypt: %v", pass, i, err)
				}
				if !schema.Equal(v, want[i][j]) {
					t.Errorf("pass %d row %d column %d = %v, want %v", pass, i, j, v, want[i][j])
				}
			}
			i++
		}
		if err := it.Err(); err != nil {
			t.Fatalf("pass %d: iteration failed: %v", pass, err)
		}
		if err := it.Close(); err != nil {
			t.Fatalf("pass %d: Close() failed: %v", pass, err)
		}
		if i != len(want) {
			t.Errorf("pass %d: saw %d rows, want %d", pass, i, len(want))
		}
	}

	n, err := h.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

func TestInsertRow_AppendsAfterExisting(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tbl, _ := loadScenario(t, s)

	extra := encryptRows(t, tbl, [][]schema.Value{{schema.UintValue(4), schema.BoolValue(false)}})
	if err := s.InsertRow(ctx, "t", extra[0]); err != nil {
		t.Fatalf("InsertRow() failed: %v", err)
	}

	dec := testutil.Decryptor(t)
	var ids []schema.Value
	err := s.Scan(ctx, "t", func(cells []*fhe.Ciphertext) error {
		v, err := dec.Value(cells[0], schema.Uint(8))
		ids = append(ids, v)
		return err
	})
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(ids) != 4 || ids[3] != schema.UintValue(4) {
		t.Errorf("ids = %v, want 1 2 3 4", ids)
	}
}

func TestInsertRow_WrongArity(t *testing.T) {
	s := createTestStore(t)
	tbl, _ := loadScenario(t, s)
	cells := encryptRows(t, tbl, [][]schema.Value{{schema.UintValue(4), schema.BoolValue(false)}})[0]

	err := s.InsertRow(context.Background(), "t", cells[:1])
	if !qerr.IsSchemaMismatch(err) {
		t.Errorf("InsertRow() error = %v, want SCHEMA_MISMATCH", err)
	}
	if err := s.InsertRow(context.Background(), "missing", cells); !qerr.IsTableNotFound(err) {
		t.Errorf("InsertRow() error = %v, want TABLE_NOT_FOUND", err)
	}
}

func TestScan_StopsOnCallbackError(t *testing.T) {
	s := createTestStore(t)
	loadScenario(t, s)
	stop := errors.New("stop")

	calls := 0
	err := s.Scan(context.Background(), "t", func([]*fhe.Ciphertext) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Scan() error = %v, want %v", err, stop)
	}
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
}

func TestTables_ListsWithCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	infos, err := s.Tables(ctx)
	if err != nil {
		t.Fatalf("Tables() failed: %v", err)
	}
	if infos == nil || len(infos) != 0 {
		t.Errorf("Tables() on empty store = %#v, want empty slice", infos)
	}

	loadScenario(t, s)
	if err := s.CreateTable(ctx, schema.Table{Name: "a", Columns: []schema.Column{{Name: "x", Type: schema.Bool}}}); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}

	infos, err = s.Tables(ctx)
	if err != nil {
		t.Fatalf("Tables() failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d tables, want 2", len(infos))
	}
	if infos[0].Name != "a" || infos[0].Rows != 0 {
		t.Errorf("infos[0] = %+v, want a with 0 rows", infos[0])
	}
	if infos[1].Name != "t" || infos[1].Rows != 3 || len(infos[1].Columns) != 2 {
		t.Errorf("infos[1] = %+v, want t with 3 rows and 2 columns", infos[1])
	}
}

func TestDropTable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	loadScenario(t, s)

	if err := s.DropTable(ctx, "T"); err != nil {
		t.Fatalf("DropTable() failed: %v", err)
	}
	if _, err := s.Schema(ctx, "t"); !qerr.IsTableNotFound(err) {
		t.Errorf("Schema() after drop error = %v, want TABLE_NOT_FOUND", err)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM rows").Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if n != 0 {
		t.Errorf("%d rows survived the drop", n)
	}
	if err := s.DropTable(ctx, "t"); !qerr.IsTableNotFound(err) {
		t.Errorf("second DropTable() error = %v, want TABLE_NOT_FOUND", err)
	}
}

func TestPreset(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	got, err := s.Preset(ctx)
	if err != nil || got != "" {
		t.Fatalf("Preset() on new store = %q, %v", got, err)
	}
	if err := s.SetPreset(ctx, "test"); err != nil {
		t.Fatalf("SetPreset() failed: %v", err)
	}
	if err := s.SetPreset(ctx, "test"); err != nil {
		t.Errorf("repeated SetPreset() failed: %v", err)
	}
	if err := s.SetPreset(ctx, "large"); err == nil {
		t.Error("SetPreset() with a different preset succeeded")
	}
	if got, _ := s.Preset(ctx); got != "test" {
		t.Errorf("Preset() = %q, want test", got)
	}
}
