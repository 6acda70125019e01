package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// ErrTableExists is returned by CreateTable when the name is taken.
var ErrTableExists = errors.New("table already exists")

// CreateTable registers a new, empty table. Names are unique without
// regard to case.
func (s *Store) CreateTable(ctx context.Context, tbl schema.Table) error {
	if err := tbl.Validate(); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create table: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tables (name, created_seq)
		VALUES (?, (SELECT COALESCE(MAX(created_seq), 0) + 1 FROM tables))
	`, tbl.Name)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("create table %q: %w", tbl.Name, ErrTableExists)
		}
		return fmt.Errorf("create table %q: %w", tbl.Name, err)
	}

	for i, c := range tbl.Columns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO columns (table_name, position, name, type)
			VALUES (?, ?, ?, ?)
		`, tbl.Name, i, c.Name, c.Type.String()); err != nil {
			return fmt.Errorf("create table %q: column %q: %w", tbl.Name, c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create table %q: commit: %w", tbl.Name, err)
	}
	return nil
}

// DropTable removes a table and its rows. Dropping a missing table is a
// TABLE_NOT_FOUND error.
func (s *Store) DropTable(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tables WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("drop table %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("drop table %q: %w", name, err)
	}
	if n == 0 {
		return qerr.TableNotFound(name)
	}
	return nil
}

// InsertRow appends one encrypted row. cells must be in column order.
func (s *Store) InsertRow(ctx context.Context, table string, cells []*fhe.Ciphertext) error {
	return s.InsertRows(ctx, table, [][]*fhe.Ciphertext{cells})
}

// InsertRows appends rows in one transaction, preserving their order.
func (s *Store) InsertRows(ctx context.Context, table string, rows [][]*fhe.Ciphertext) error {
	tbl, err := s.Schema(ctx, table)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert rows: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM rows WHERE table_name = ?
	`, tbl.Name).Scan(&seq); err != nil {
		return fmt.Errorf("insert rows: next seq: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO rows (table_name, seq, cells) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("insert rows: prepare: %w", err)
	}
	defer stmt.Close()

	for i, cells := range rows {
		if len(cells) != len(tbl.Columns) {
			return qerr.SchemaMismatch(tbl.Name, "", "row has %d cells for %d columns", len(cells), len(tbl.Columns))
		}
		blob, err := marshalCells(cells)
		if err != nil {
			return fmt.Errorf("insert rows: row %d: %w", i, err)
		}
		seq++
		if _, err := stmt.ExecContext(ctx, tbl.Name, seq, blob); err != nil {
			return fmt.Errorf("insert rows: row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert rows: commit: %w", err)
	}
	return nil
}

// Schema returns the named table's schema, or TABLE_NOT_FOUND.
// The returned name is the stored spelling.
func (s *Store) Schema(ctx context.Context, name string) (*schema.Table, error) {
	var canonical string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM tables WHERE name = ?`, name).Scan(&canonical)
	if err == sql.ErrNoRows {
		return nil, qerr.TableNotFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("read table %q: %w", name, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type FROM columns
		WHERE table_name = ?
		ORDER BY position ASC
	`, canonical)
	if err != nil {
		return nil, fmt.Errorf("read columns of %q: %w", canonical, err)
	}
	defer rows.Close()

	tbl := &schema.Table{Name: canonical}
	for rows.Next() {
		var col, typ string
		if err := rows.Scan(&col, &typ); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", canonical, err)
		}
		ct, err := schema.ParseType(typ)
		if err != nil {
			return nil, fmt.Errorf("column %q of %q: %w", col, canonical, err)
		}
		tbl.Columns = append(tbl.Columns, schema.Column{Name: col, Type: ct})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %q: %w", canonical, err)
	}
	return tbl, nil
}

// TableInfo is a table's schema plus its row count.
type TableInfo struct {
	schema.Table
	Rows int `json:"rows"`
}

// Tables lists every table ordered by name.
// Returns an empty slice (not nil) when the store is empty.
func (s *Store) Tables(ctx context.Context) ([]TableInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name, (SELECT COUNT(*) FROM rows r WHERE r.table_name = t.name)
		FROM tables t
		ORDER BY t.name COLLATE NOCASE ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}

	type entry struct {
		name string
		rows int
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.name, &e.rows); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table: %w", err)
		}
		entries = append(entries, e)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	// The single connection is free again; column lookups can run.
	infos := make([]TableInfo, 0, len(entries))
	for _, e := range entries {
		tbl, err := s.Schema(ctx, e.name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, TableInfo{Table: *tbl, Rows: e.rows})
	}
	return infos, nil
}

// Scan calls fn with every row of the named table in insertion order.
// It is the evaluator's view of the store. fn must not use the store: the
// single connection is held until Scan returns.
func (s *Store) Scan(ctx context.Context, name string, fn func(cells []*fhe.Ciphertext) error) error {
	tbl, err := s.Table(ctx, name)
	if err != nil {
		return err
	}
	it := tbl.Rows(ctx)
	defer it.Close()
	for it.Next() {
		if err := fn(it.Cells()); err != nil {
			return err
		}
	}
	return it.Err()
}
