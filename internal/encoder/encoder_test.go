package encoder

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/querysql"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
	"github.com/mahmudsudo/encrypted-sql/internal/testutil"
)

var catalog = Tables{
	{
		Name: "t",
		Columns: []schema.Column{
			{Name: "id", Type: schema.Uint(8)},
			{Name: "flag", Type: schema.Bool},
		},
	},
	{
		Name: "readings",
		Columns: []schema.Column{
			{Name: "temp", Type: schema.Int(16)},
			{Name: "site", Type: schema.Str},
		},
	},
}

func newEncoder(t *testing.T, cat Catalog, kind program.ProjectionKind) *Encoder {
	t.Helper()
	return New(testutil.Encryptor(t), Options{
		Catalog: cat,
		Kind:    kind,
		IDs:     testutil.NewFixedIDGenerator(""),
	})
}

func TestEncode_Golden(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		catalog Catalog
		kind    program.ProjectionKind
	}{
		{"flag_eq_true", "SELECT id FROM t WHERE flag = true", catalog, program.ProjectRows},
		{"between", "SELECT id FROM t WHERE id BETWEEN 2 AND 3", catalog, program.ProjectRows},
		{"in_no_catalog", "SELECT * FROM t WHERE name IN ('a', 'b', 'c')", nil, program.ProjectRows},
		{"le_ge_or", "SELECT temp FROM readings WHERE temp <= -5 OR temp >= 40", catalog, program.ProjectScalar},
		{"bare_bool_not", "SELECT id FROM t WHERE NOT flag AND id <> 2", catalog, program.ProjectRows},
		{"unconditional", "SELECT * FROM t", catalog, program.ProjectScalar},
	}

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := newEncoder(t, tt.catalog, tt.kind).EncodeSQL(tt.sql)
			require.NoError(t, err)
			g.Assert(t, tt.name, []byte(p.Dump()))
		})
	}
}

func TestEncode_LiteralTyping(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		catalog Catalog
		want    schema.ColumnType
	}{
		{"fits column", "SELECT id FROM t WHERE id = 7", catalog, schema.Uint(8)},
		{"too wide for column", "SELECT id FROM t WHERE id = 300", catalog, schema.Uint(16)},
		{"unsigned into signed column", "SELECT temp FROM readings WHERE temp > 5", catalog, schema.Int(16)},
		{"negative into signed column", "SELECT temp FROM readings WHERE temp < -3", catalog, schema.Int(16)},
		{"small unsigned into signed column", "SELECT temp FROM readings WHERE temp = 5", catalog, schema.Int(16)},
		{"small negative into signed column", "SELECT temp FROM readings WHERE temp < -1", catalog, schema.Int(16)},
		{"column unknown to catalog", "SELECT id FROM t WHERE ghost = 70000", catalog, schema.Uint(32)},
		{"no catalog, boolean", "SELECT id FROM t WHERE flag = true", nil, schema.Bool},
		{"no catalog, text", "SELECT temp FROM readings WHERE site = 'x'", nil, schema.Str},
		{"literal on the left", "SELECT id FROM t WHERE 7 = id", catalog, schema.Uint(8)},
		{"text", "SELECT temp FROM readings WHERE site = 'x'", catalog, schema.Str},
		{"unknown table", "SELECT id FROM nope WHERE id = 7", catalog, schema.Uint(8)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := newEncoder(t, tt.catalog, program.ProjectRows).EncodeSQL(tt.sql)
			require.NoError(t, err)

			var lits []program.Token
			for _, tok := range p.Predicate {
				if tok.Kind == program.TokenLiteral {
					lits = append(lits, tok)
				}
			}
			require.Len(t, lits, 1)
			assert.Equal(t, tt.want, lits[0].Type)
		})
	}
}

func TestEncode_IntegerLiteralNeedsCatalog(t *testing.T) {
	for _, sql := range []string{
		"SELECT temp FROM readings WHERE temp = 5",
		"SELECT temp FROM readings WHERE temp < -1",
		"SELECT temp FROM readings WHERE temp BETWEEN -10 AND 10",
		"SELECT id FROM t WHERE 7 = id",
	} {
		t.Run(sql, func(t *testing.T) {
			_, err := newEncoder(t, nil, program.ProjectRows).EncodeSQL(sql)
			require.Error(t, err)
			assert.True(t, qerr.IsUnsupportedQuery(err), "got %v", err)
			assert.ErrorContains(t, err, "needs the table catalog")
		})
	}
}

func TestEncode_LiteralsDecrypt(t *testing.T) {
	p, err := newEncoder(t, catalog, program.ProjectRows).
		EncodeSQL("SELECT temp FROM readings WHERE temp BETWEEN -10 AND 25")
	require.NoError(t, err)

	dec := testutil.Decryptor(t)
	var got []schema.Value
	for _, tok := range p.Predicate {
		if tok.Kind != program.TokenLiteral {
			continue
		}
		v, err := dec.Value(tok.Ciphertext, tok.Type)
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []schema.Value{schema.IntValue(-10), schema.IntValue(25)}, got)
}

func TestEncode_Idempotent(t *testing.T) {
	stmt, err := querysql.Parse("SELECT id FROM t WHERE id IN (1, 3) OR flag")
	require.NoError(t, err)

	enc := newEncoder(t, catalog, program.ProjectRows)
	a, err := enc.Encode(stmt)
	require.NoError(t, err)
	b, err := enc.Encode(stmt)
	require.NoError(t, err)

	// Same shape; fresh randomness in every literal.
	assert.Equal(t, a.Dump(), b.Dump())
	ab, err := a.Predicate[1].Ciphertext.MarshalBinary()
	require.NoError(t, err)
	bb, err := b.Predicate[1].Ciphertext.MarshalBinary()
	require.NoError(t, err)
	assert.NotEqual(t, ab, bb)
}

func TestEncode_ColumnRefsAreTagged(t *testing.T) {
	p, err := newEncoder(t, nil, program.ProjectRows).EncodeSQL("SELECT a FROM t WHERE a < b")
	require.NoError(t, err)
	require.Len(t, p.Predicate, 3)
	assert.Equal(t, program.ColumnRef("a", schema.ColumnType{}), p.Predicate[0])
	assert.Equal(t, program.ColumnRef("b", schema.ColumnType{}), p.Predicate[1])
	assert.Equal(t, program.Operator(program.OpLt), p.Predicate[2])
}

func TestEncode_Unsupported(t *testing.T) {
	enc := newEncoder(t, catalog, program.ProjectRows)
	for _, sql := range []string{
		"SELECT id FROM t JOIN u ON t.id = u.id",
		"SELECT id FROM t WHERE id IN (SELECT id FROM u)",
		"SELECT SUM(id) FROM t",
		"DELETE FROM t",
	} {
		_, err := enc.EncodeSQL(sql)
		assert.True(t, qerr.IsUnsupportedQuery(err), "%s: %v", sql, err)
	}
}

func TestEncode_NeverRaisesSchemaErrors(t *testing.T) {
	enc := newEncoder(t, catalog, program.ProjectRows)
	p, err := enc.EncodeSQL("SELECT missing FROM t WHERE other = 1")
	require.NoError(t, err)
	assert.Equal(t, []schema.Column{{Name: "missing"}}, p.Columns)
}

func TestEncode_ClientKey(t *testing.T) {
	ck, _ := testutil.Keys(t)
	stmt, err := querysql.Parse("SELECT id FROM t WHERE id = 1")
	require.NoError(t, err)

	p, err := Encode(stmt, ck, Options{})
	require.NoError(t, err)
	assert.Len(t, p.ID, 36)
	assert.Len(t, p.Predicate, 3)
}
