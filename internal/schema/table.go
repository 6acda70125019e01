package schema

import (
	"fmt"
	"strings"
)

// Column is a named, typed column of a table.
type Column struct {
	Name string     `json:"name" yaml:"name"`
	Type ColumnType `json:"type" yaml:"type"`
}

// Table describes a table's name and ordered columns.
// Row data lives in the store; Table is metadata only.
type Table struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []Column `json:"columns" yaml:"columns"`
}

// Lookup returns the column with the given name and its position.
// Column names are matched case-insensitively, as SQL identifiers are.
func (t *Table) Lookup(name string) (Column, int, bool) {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, i, true
		}
	}
	return Column{}, -1, false
}

// Validate checks that the table has a name, at least one column,
// unique column names, and only valid column types.
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %q has no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("table %q has a column with an empty name", t.Name)
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return fmt.Errorf("table %q has duplicate column %q", t.Name, c.Name)
		}
		seen[key] = true
		if !c.Type.Valid() {
			return fmt.Errorf("table %q column %q has invalid type %s", t.Name, c.Name, c.Type)
		}
	}
	return nil
}

// ParseHeader parses a typed CSV header cell of the form "name:type".
func ParseHeader(cell string) (Column, error) {
	name, typ, ok := strings.Cut(cell, ":")
	name = strings.TrimSpace(name)
	if !ok {
		return Column{}, fmt.Errorf("header %q: missing \":type\" suffix", cell)
	}
	if name == "" {
		return Column{}, fmt.Errorf("header %q: empty column name", cell)
	}
	ct, err := ParseType(typ)
	if err != nil {
		return Column{}, fmt.Errorf("header %q: %w", cell, err)
	}
	return Column{Name: name, Type: ct}, nil
}
