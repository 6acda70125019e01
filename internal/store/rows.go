package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
	"github.com/mahmudsudo/encrypted-sql/internal/wire"
)

// tagCell marks one ciphertext in a stored row stream.
const tagCell byte = 0x01

// Table is a handle on a stored table.
type Table struct {
	schema.Table
	store *Store
}

// Table returns a handle on the named table, or TABLE_NOT_FOUND.
func (s *Store) Table(ctx context.Context, name string) (*Table, error) {
	tbl, err := s.Schema(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Table{Table: *tbl, store: s}, nil
}

// Count returns the number of stored rows.
func (t *Table) Count(ctx context.Context) (int, error) {
	var n int
	if err := t.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM rows WHERE table_name = ?
	`, t.Name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows of %q: %w", t.Name, err)
	}
	return n, nil
}

// Rows starts a new pass over the table in insertion order. Every call
// re-queries the store, so iteration can be restarted.
func (t *Table) Rows(ctx context.Context) *RowIterator {
	rows, err := t.store.db.QueryContext(ctx, `
		SELECT seq, cells FROM rows
		WHERE table_name = ?
		ORDER BY seq ASC
	`, t.Name)
	if err != nil {
		return &RowIterator{err: fmt.Errorf("query rows of %q: %w", t.Name, err)}
	}
	return &RowIterator{rows: rows, table: &t.Table}
}

// RowIterator walks a table's rows.
//
//	it := tbl.Rows(ctx)
//	defer it.Close()
//	for it.Next() {
//	    use(it.Cells())
//	}
//	if err := it.Err(); err != nil { ... }
type RowIterator struct {
	rows  *sql.Rows
	table *schema.Table
	cells []*fhe.Ciphertext
	err   error
}

// Next advances to the next row. It returns false at the end or on error.
func (it *RowIterator) Next() bool {
	if it.err != nil || it.rows == nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}

	var (
		seq  int64
		blob []byte
	)
	if err := it.rows.Scan(&seq, &blob); err != nil {
		it.err = fmt.Errorf("scan row of %q: %w", it.table.Name, err)
		return false
	}
	cells, err := unmarshalCells(blob)
	if err != nil {
		it.err = fmt.Errorf("row %d of %q: %w", seq, it.table.Name, err)
		return false
	}
	if len(cells) != len(it.table.Columns) {
		it.err = fmt.Errorf("row %d of %q has %d cells for %d columns", seq, it.table.Name, len(cells), len(it.table.Columns))
		return false
	}
	it.cells = cells
	return true
}

// Cells returns the current row's ciphertexts in column order.
func (it *RowIterator) Cells() []*fhe.Ciphertext {
	return it.cells
}

// Err returns the error that stopped iteration, if any.
func (it *RowIterator) Err() error {
	return it.err
}

// Close releases the underlying query. It is safe to call more than once.
func (it *RowIterator) Close() error {
	if it.rows == nil {
		return nil
	}
	err := it.rows.Close()
	it.rows = nil
	return err
}

func marshalCells(cells []*fhe.Ciphertext) ([]byte, error) {
	var buf bytes.Buffer
	w, err := wire.NewWriter(&buf, wire.KindRow)
	if err != nil {
		return nil, err
	}
	for i, ct := range cells {
		if ct == nil {
			return nil, fmt.Errorf("cell %d is nil", i)
		}
		b, err := fhe.MarshalCiphertext(ct)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		if err := w.Write(tagCell, b); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalCells(blob []byte) ([]*fhe.Ciphertext, error) {
	r, err := wire.NewReader(bytes.NewReader(blob), wire.KindRow)
	if err != nil {
		return nil, err
	}
	var cells []*fhe.Ciphertext
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			return cells, nil
		}
		if err != nil {
			return nil, err
		}
		if f.Tag != tagCell {
			return nil, fmt.Errorf("unexpected tag 0x%02x in row", f.Tag)
		}
		ct, err := fhe.UnmarshalCiphertext(f.Payload)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", len(cells), err)
		}
		cells = append(cells, ct)
	}
}
