package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

func readingsCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := ParseCatalog([]byte(`tables: readings: columns: [
	{name: "celsius", type: "int16"},
	{name: "site", type: "text"},
]`), "catalog.cue")
	require.NoError(t, err)
	return cat
}

func TestReadCSV_TypedHeader(t *testing.T) {
	src := "id:uint8,flag:bool,name:string\n1,true,Ann\n2,FALSE,\"Smith, J\"\n"
	tbl, rows, err := ReadCSV(strings.NewReader(src), "people", nil)
	require.NoError(t, err)

	assert.Equal(t, schema.Table{Name: "people", Columns: []schema.Column{
		{Name: "id", Type: schema.Uint(8)},
		{Name: "flag", Type: schema.Bool},
		{Name: "name", Type: schema.Str},
	}}, tbl)
	assert.Equal(t, [][]schema.Value{
		{schema.UintValue(1), schema.BoolValue(true), schema.TextValue("Ann")},
		{schema.UintValue(2), schema.BoolValue(false), schema.TextValue("Smith, J")},
	}, rows)
}

func TestReadCSV_CatalogTypes(t *testing.T) {
	src := "celsius,site\n-12,north\n"
	tbl, rows, err := ReadCSV(strings.NewReader(src), "readings", readingsCatalog(t))
	require.NoError(t, err)
	assert.Equal(t, schema.Int(16), tbl.Columns[0].Type)
	assert.Equal(t, [][]schema.Value{{schema.IntValue(-12), schema.TextValue("north")}}, rows)

	// A typed header that agrees with the catalog is fine.
	_, _, err = ReadCSV(strings.NewReader("celsius:int16,site\n1,x\n"), "readings", readingsCatalog(t))
	assert.NoError(t, err)
}

func TestReadCSV_HeaderOnly(t *testing.T) {
	tbl, rows, err := ReadCSV(strings.NewReader("id:uint8\n"), "t", nil)
	require.NoError(t, err)
	assert.Len(t, tbl.Columns, 1)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		table string
		want  string
	}{
		{"empty", "", "t", "no header row"},
		{"untyped without catalog", "id\n1\n", "t", `column "id" has no type`},
		{"bad type", "id:float\n1\n", "t", "unknown column type"},
		{"duplicate column", "a:bool,A:bool\ntrue,false\n", "t", "duplicate column"},
		{"value out of range", "id:uint8\n1\n256\n", "t", "t:3: column id"},
		{"bad bool", "flag:bool\nmaybe\n", "t", "parse bool"},
		{"ragged row", "a:uint8,b:uint8\n1\n", "t", "wrong number of fields"},
		{"catalog arity", "celsius\n1\n", "readings", "catalog declares 2"},
		{"catalog name", "celsius,place\n1,x\n", "readings", `catalog declares "site"`},
		{"catalog type", "celsius:int32,site\n1,x\n", "readings", "int32 in the header, int16 in the catalog"},
		{"text too long", "s:string\n" + strings.Repeat("x", 65) + "\n", "t", "limit is 64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadCSV(strings.NewReader(tt.src), tt.table, readingsCatalog(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "t", TableName("data/t.csv"))
	assert.Equal(t, "sales.2024", TableName("/x/sales.2024.CSV"))
}
