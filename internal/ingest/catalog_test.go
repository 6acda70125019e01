package ingest

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

func TestLoadCatalog(t *testing.T) {
	cat, err := LoadCatalog(filepath.Join("testdata", "basic", CatalogFile))
	require.NoError(t, err)

	tbl, ok := cat.Lookup("READINGS")
	require.True(t, ok)
	assert.Equal(t, "readings", tbl.Name)
	assert.Equal(t, []schema.Column{
		{Name: "celsius", Type: schema.Int(16)},
		{Name: "site", Type: schema.Str},
		{Name: "hits", Type: schema.Uint(16)},
	}, tbl.Columns)

	_, ok = cat.Lookup("t")
	assert.False(t, ok)
	assert.Len(t, cat.Tables(), 1)
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"bad type", `tables: t: columns: [{name: "a", type: "float"}]`},
		{"bad width", `tables: t: columns: [{name: "a", type: "uint12"}]`},
		{"no columns", `tables: t: columns: []`},
		{"bad name", `tables: t: columns: [{name: "a b", type: "bool"}]`},
		{"unknown field", `tables: t: columns: [{name: "a", type: "bool", width: 3}]`},
		{"missing type", `tables: t: columns: [{name: "a"}]`},
		{"duplicate column", `tables: t: columns: [{name: "a", type: "bool"}, {name: "A", type: "bool"}]`},
		{"case duplicate table", "tables: {\n\tt: columns: [{name: \"a\", type: \"bool\"}]\n\tT: columns: [{name: \"a\", type: \"bool\"}]\n}"},
		{"syntax", `tables: t: columns: [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.src), "catalog.cue")
			assert.Error(t, err)
		})
	}
}

func TestParseCatalog_ErrorHasPosition(t *testing.T) {
	src := "tables: t: columns: [\n\t{name: \"a\", type: \"float\"},\n]\n"
	_, err := ParseCatalog([]byte(src), "catalog.cue")
	require.Error(t, err)

	var le *LoadError
	require.True(t, errors.As(err, &le), "got %T: %v", err, err)
	assert.True(t, le.Pos.IsValid())
	assert.Equal(t, "catalog.cue", le.Pos.Filename())
	assert.Contains(t, le.Error(), "catalog.cue:")
}

func TestCatalog_NilDeclaresNothing(t *testing.T) {
	var cat *Catalog
	_, ok := cat.Lookup("t")
	assert.False(t, ok)
	assert.Nil(t, cat.Tables())
}

func TestParseCatalog_Empty(t *testing.T) {
	cat, err := ParseCatalog([]byte(""), "catalog.cue")
	require.NoError(t, err)
	assert.Empty(t, cat.Tables())
}
