package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

const validScenario = `
name: test_scenario
description: "Test scenario for validation"
tables:
  - name: t
    columns:
      - {name: id, type: uint8}
      - {name: flag, type: bool}
    rows:
      - [1, true]
queries:
  - name: flag_true
    sql: SELECT id FROM t WHERE flag = true
    expect:
      rows: [[1]]
  - name: total
    sql: SELECT id FROM t
    kind: scalar
    expect:
      count: 1
      sums: {id: "1"}
assertions:
  - type: matches_reference
`

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), validScenario)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	require.Len(t, scenario.Tables, 1)
	assert.Equal(t, []schema.Column{
		{Name: "id", Type: schema.Uint(8)},
		{Name: "flag", Type: schema.Bool},
	}, scenario.Tables[0].Columns)
	assert.Equal(t, [][]any{{1, true}}, scenario.Tables[0].Rows)
	require.Len(t, scenario.Queries, 2)
	assert.Len(t, scenario.Assertions, 1)

	kind, err := scenario.Queries[1].ProjectionKind()
	require.NoError(t, err)
	assert.Equal(t, program.ProjectScalar, kind)
	require.NotNil(t, scenario.Queries[1].Expect.Count)
	assert.Equal(t, 1, *scenario.Queries[1].Expect.Count)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_DataResolvesAgainstFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "csv"), 0755))
	path := writeScenario(t, dir, `
name: from_csv
description: "tables from a directory"
data: csv
queries:
  - name: q
    sql: SELECT id FROM t
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "csv"), scenario.Data)
}

func TestLoadScenario_MissingDataDir(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
name: from_csv
description: "tables from a directory"
data: nowhere
queries:
  - name: q
    sql: SELECT id FROM t
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data directory not found")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: validScenario + "assertion: []\n",
			wantErr: "field assertion not found",
		},
		{
			name: "missing name",
			content: `
description: "d"
tables: [{name: t, columns: [{name: id, type: uint8}]}]
queries: [{name: q, sql: SELECT id FROM t}]
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: n
tables: [{name: t, columns: [{name: id, type: uint8}]}]
queries: [{name: q, sql: SELECT id FROM t}]
`,
			wantErr: "description is required",
		},
		{
			name: "no tables",
			content: `
name: n
description: "d"
queries: [{name: q, sql: SELECT id FROM t}]
`,
			wantErr: "data or tables is required",
		},
		{
			name: "no queries",
			content: `
name: n
description: "d"
tables: [{name: t, columns: [{name: id, type: uint8}]}]
`,
			wantErr: "queries list is required",
		},
		{
			name: "bad column type",
			content: `
name: n
description: "d"
tables: [{name: t, columns: [{name: id, type: uint7}]}]
queries: [{name: q, sql: SELECT id FROM t}]
`,
			wantErr: "unsupported integer width",
		},
		{
			name: "row arity",
			content: `
name: n
description: "d"
tables: [{name: t, columns: [{name: id, type: uint8}], rows: [[1, 2]]}]
queries: [{name: q, sql: SELECT id FROM t}]
`,
			wantErr: "tables[0]: row 0 has 2 values for 1 columns",
		},
		{
			name: "duplicate query",
			content: `
name: n
description: "d"
tables: [{name: t, columns: [{name: id, type: uint8}]}]
queries: [{name: q, sql: SELECT id FROM t}, {name: q, sql: SELECT id FROM t}]
`,
			wantErr: `queries[1]: duplicate name "q"`,
		},
		{
			name: "empty sql",
			content: `
name: n
description: "d"
tables: [{name: t, columns: [{name: id, type: uint8}]}]
queries: [{name: q, sql: "  "}]
`,
			wantErr: "queries[0]: sql is required",
		},
		{
			name: "bad kind",
			content: `
name: n
description: "d"
tables: [{name: t, columns: [{name: id, type: uint8}]}]
queries: [{name: q, sql: SELECT id FROM t, kind: columns}]
`,
			wantErr: "unknown projection kind",
		},
		{
			name: "unknown error code",
			content: `
name: n
description: "d"
tables: [{name: t, columns: [{name: id, type: uint8}]}]
queries: [{name: q, sql: SELECT id FROM t, expect: {error: OOPS}}]
`,
			wantErr: `unknown error code "OOPS"`,
		},
		{
			name: "error with rows",
			content: `
name: n
description: "d"
tables: [{name: t, columns: [{name: id, type: uint8}]}]
queries: [{name: q, sql: SELECT id FROM t, expect: {error: TABLE_NOT_FOUND, rows: [[1]]}}]
`,
			wantErr: "error cannot be combined",
		},
		{
			name: "unknown assertion",
			content: `
name: n
description: "d"
tables: [{name: t, columns: [{name: id, type: uint8}]}]
queries: [{name: q, sql: SELECT id FROM t}]
assertions: [{type: trace_order}]
`,
			wantErr: `assertions[0]: unknown assertion type "trace_order"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseCell(t *testing.T) {
	tests := []struct {
		raw  any
		typ  schema.ColumnType
		want schema.Value
	}{
		{raw: 7, typ: schema.Uint(8), want: schema.UintValue(7)},
		{raw: -7, typ: schema.Int(16), want: schema.IntValue(-7)},
		{raw: true, typ: schema.Bool, want: schema.BoolValue(true)},
		{raw: "north", typ: schema.Str, want: schema.TextValue("north")},
		{raw: "12", typ: schema.Uint(16), want: schema.UintValue(12)},
	}
	for _, tt := range tests {
		got, err := parseCell(tt.raw, tt.typ)
		require.NoError(t, err, "%v as %s", tt.raw, tt.typ)
		assert.Equal(t, tt.want, got)
	}

	_, err := parseCell(nil, schema.Bool)
	assert.Error(t, err)

	_, err = parseCell(5, schema.Str)
	assert.Error(t, err, "numbers are not text")
}
