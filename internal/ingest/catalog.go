package ingest

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// CatalogFile is the catalog file name LoadDir looks for.
const CatalogFile = "catalog.cue"

// catalogSchema constrains catalog files. It is unified with every
// catalog before any table is read.
const catalogSchema = `
#Column: {
	name: string & =~"^[A-Za-z_][A-Za-z0-9_]*$"
	type: "bool" | "boolean" | "string" | "text" | =~"^u?int(8|16|32|64)$"
}
tables: [string]: columns: [#Column, ...#Column]
`

// Catalog declares table schemas ahead of the data. It supplies types for
// untyped CSV headers, checks typed ones, and lets the encoder type
// literals without contacting the server.
//
// Example catalog.cue:
//
//	tables: t: columns: [
//		{name: "id", type: "uint8"},
//		{name: "flag", type: "bool"},
//	]
type Catalog struct {
	Path   string
	tables []schema.Table
	index  map[string]int
}

// LoadError is a catalog error with its CUE source position when known.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	cat, err := ParseCatalog(src, path)
	if err != nil {
		return nil, err
	}
	cat.Path = path
	return cat, nil
}

// ParseCatalog compiles catalog source. filename is used in positions.
func ParseCatalog(src []byte, filename string) (*Catalog, error) {
	ctx := cuecontext.New()
	constraints := ctx.CompileString(catalogSchema)
	if err := constraints.Err(); err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v = constraints.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	cat := &Catalog{index: make(map[string]int)}
	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return cat, nil
	}
	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		tbl, err := parseTable(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(tbl.Name)
		if _, dup := cat.index[key]; dup {
			return nil, &LoadError{Field: "tables", Message: fmt.Sprintf("table %q declared twice", tbl.Name), Pos: iter.Value().Pos()}
		}
		cat.index[key] = len(cat.tables)
		cat.tables = append(cat.tables, tbl)
	}
	return cat, nil
}

func parseTable(name string, v cue.Value) (schema.Table, error) {
	tbl := schema.Table{Name: name}
	list, err := v.LookupPath(cue.ParsePath("columns")).List()
	if err != nil {
		return tbl, formatCUEError(err)
	}
	for list.Next() {
		col := list.Value()
		colName, err := col.LookupPath(cue.ParsePath("name")).String()
		if err != nil {
			return tbl, formatCUEError(err)
		}
		typName, err := col.LookupPath(cue.ParsePath("type")).String()
		if err != nil {
			return tbl, formatCUEError(err)
		}
		typ, err := schema.ParseType(typName)
		if err != nil {
			return tbl, &LoadError{Field: "type", Message: err.Error(), Pos: col.Pos()}
		}
		tbl.Columns = append(tbl.Columns, schema.Column{Name: colName, Type: typ})
	}
	if err := tbl.Validate(); err != nil {
		return tbl, &LoadError{Field: "tables." + name, Message: err.Error(), Pos: v.Pos()}
	}
	return tbl, nil
}

// Lookup returns the declared schema of a table. A nil catalog declares
// nothing.
func (c *Catalog) Lookup(table string) (*schema.Table, bool) {
	if c == nil {
		return nil, false
	}
	i, ok := c.index[strings.ToLower(table)]
	if !ok {
		return nil, false
	}
	tbl := c.tables[i]
	return &tbl, true
}

// Tables returns the declared tables in file order.
func (c *Catalog) Tables() []schema.Table {
	if c == nil {
		return nil
	}
	return c.tables
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
