package testutil

import (
	"context"
	"strings"
	"testing"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// MemSource is an in-memory table source holding encrypted rows. It has
// the same Schema and Scan methods as the SQLite store.
type MemSource struct {
	tables map[string]*memTable
}

type memTable struct {
	schema schema.Table
	rows   [][]*fhe.Ciphertext
}

// NewMemSource creates an empty source.
func NewMemSource() *MemSource {
	return &MemSource{tables: make(map[string]*memTable)}
}

// Add encrypts rows under enc and stores them as table tbl.
// Row values must match the column order of tbl.
func (s *MemSource) Add(t testing.TB, enc *fhe.Encryptor, tbl schema.Table, rows [][]schema.Value) {
	t.Helper()
	if err := tbl.Validate(); err != nil {
		t.Fatalf("table %s: %v", tbl.Name, err)
	}
	mt := &memTable{schema: tbl}
	for i, row := range rows {
		if len(row) != len(tbl.Columns) {
			t.Fatalf("table %s row %d: %d values for %d columns", tbl.Name, i, len(row), len(tbl.Columns))
		}
		cells := make([]*fhe.Ciphertext, len(row))
		for j, v := range row {
			ct, err := enc.Encrypt(v, tbl.Columns[j].Type)
			if err != nil {
				t.Fatalf("table %s row %d column %s: %v", tbl.Name, i, tbl.Columns[j].Name, err)
			}
			cells[j] = ct
		}
		mt.rows = append(mt.rows, cells)
	}
	s.tables[strings.ToLower(tbl.Name)] = mt
}

// Schema returns the named table's schema.
func (s *MemSource) Schema(_ context.Context, name string) (*schema.Table, error) {
	mt, ok := s.tables[strings.ToLower(name)]
	if !ok {
		return nil, qerr.TableNotFound(name)
	}
	tbl := mt.schema
	return &tbl, nil
}

// Scan calls fn with every row of the named table in insertion order.
func (s *MemSource) Scan(ctx context.Context, name string, fn func(cells []*fhe.Ciphertext) error) error {
	mt, ok := s.tables[strings.ToLower(name)]
	if !ok {
		return qerr.TableNotFound(name)
	}
	for _, row := range mt.rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}
