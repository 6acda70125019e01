package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// ReadCSV reads one table from CSV. The first record is the header: each
// cell is "name:type", or a bare "name" when the catalog declares the
// table. Every following record is a row parsed at the column types.
//
// When the catalog declares the table, the header must list the declared
// columns in declared order, and typed header cells must agree with the
// declared types.
func ReadCSV(r io.Reader, name string, cat *Catalog) (schema.Table, [][]schema.Value, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return schema.Table{}, nil, fmt.Errorf("%s: no header row", name)
	}
	if err != nil {
		return schema.Table{}, nil, fmt.Errorf("%s: %w", name, err)
	}

	tbl, err := resolveHeader(name, header, cat)
	if err != nil {
		return schema.Table{}, nil, err
	}

	var rows [][]schema.Value
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return schema.Table{}, nil, fmt.Errorf("%s: %w", name, err)
		}
		line, _ := cr.FieldPos(0)
		row := make([]schema.Value, len(record))
		for i, cell := range record {
			col := tbl.Columns[i]
			v, err := schema.ParseValue(cell, col.Type)
			if err != nil {
				return schema.Table{}, nil, fmt.Errorf("%s:%d: column %s: %w", name, line, col.Name, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if rows == nil {
		rows = [][]schema.Value{}
	}
	return tbl, rows, nil
}

func resolveHeader(name string, header []string, cat *Catalog) (schema.Table, error) {
	declared, hasDecl := cat.Lookup(name)
	if hasDecl && len(declared.Columns) != len(header) {
		return schema.Table{}, fmt.Errorf("%s: header has %d columns, catalog declares %d", name, len(header), len(declared.Columns))
	}

	tbl := schema.Table{Name: name, Columns: make([]schema.Column, len(header))}
	for i, cell := range header {
		cell = strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff"))
		var col schema.Column
		if strings.Contains(cell, ":") {
			c, err := schema.ParseHeader(cell)
			if err != nil {
				return schema.Table{}, fmt.Errorf("%s: %w", name, err)
			}
			col = c
		} else {
			if !hasDecl {
				return schema.Table{}, fmt.Errorf("%s: column %q has no type: write %q or declare the table in %s", name, cell, cell+":type", CatalogFile)
			}
			col = schema.Column{Name: cell, Type: declared.Columns[i].Type}
		}

		if hasDecl {
			want := declared.Columns[i]
			if !strings.EqualFold(col.Name, want.Name) {
				return schema.Table{}, fmt.Errorf("%s: header column %d is %q, catalog declares %q", name, i+1, col.Name, want.Name)
			}
			if col.Type != want.Type {
				return schema.Table{}, fmt.Errorf("%s: column %q is %s in the header, %s in the catalog", name, col.Name, col.Type, want.Type)
			}
		}
		tbl.Columns[i] = col
	}

	if err := tbl.Validate(); err != nil {
		return schema.Table{}, fmt.Errorf("%s: %w", name, err)
	}
	return tbl, nil
}
