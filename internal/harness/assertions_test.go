package harness

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahmudsudo/encrypted-sql/internal/decoder"
	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

func rowsAnswer(ids ...uint64) *decoder.Answer {
	ans := &decoder.Answer{
		QueryID: "a",
		Kind:    program.ProjectRows,
		Columns: []schema.Column{{Name: "id", Type: schema.Uint(8)}},
		Rows:    [][]schema.Value{},
		Count:   len(ids),
		Scanned: 3,
	}
	for _, id := range ids {
		ans.Rows = append(ans.Rows, []schema.Value{schema.UintValue(id)})
	}
	return ans
}

func scalarAnswer(count int, sum int64) *decoder.Answer {
	return &decoder.Answer{
		Kind: program.ProjectScalar,
		Columns: []schema.Column{
			{Name: "id", Type: schema.Uint(8)},
			{Name: "site", Type: schema.Str},
		},
		Count:   count,
		Sums:    []*big.Int{big.NewInt(sum), nil},
		Scanned: 3,
	}
}

func TestDiffAnswers(t *testing.T) {
	a := rowsAnswer(1, 3)
	b := rowsAnswer(1, 3)
	b.QueryID = "b"
	assert.Empty(t, diffAnswers(a, b), "query IDs are not compared")

	c := rowsAnswer(1, 2)
	assert.NotEmpty(t, diffAnswers(a, c))

	assert.Empty(t, diffAnswers(scalarAnswer(2, 4), scalarAnswer(2, 4)))
	assert.NotEmpty(t, diffAnswers(scalarAnswer(2, 4), scalarAnswer(2, 5)))
}

func TestMatchExpect(t *testing.T) {
	two := 2
	three := 3

	tests := []struct {
		name    string
		expect  ExpectClause
		answer  *decoder.Answer
		wantErr string
	}{
		{
			name:   "rows match",
			expect: ExpectClause{Rows: [][]any{{1}, {3}}, Count: &two},
			answer: rowsAnswer(1, 3),
		},
		{
			name:    "rows differ",
			expect:  ExpectClause{Rows: [][]any{{1}}},
			answer:  rowsAnswer(1, 3),
			wantErr: "rows mismatch",
		},
		{
			name:   "empty rows",
			expect: ExpectClause{Rows: [][]any{}},
			answer: rowsAnswer(),
		},
		{
			name:    "row arity",
			expect:  ExpectClause{Rows: [][]any{{1, true}}},
			answer:  rowsAnswer(1),
			wantErr: "expected row 0 has 2 values for 1 columns",
		},
		{
			name:    "rows on scalar",
			expect:  ExpectClause{Rows: [][]any{{1}}},
			answer:  scalarAnswer(1, 1),
			wantErr: "expect rows on a scalar query",
		},
		{
			name:    "count differs",
			expect:  ExpectClause{Count: &three},
			answer:  rowsAnswer(1, 3),
			wantErr: "expected 3 matching rows, got 2",
		},
		{
			name:   "sums match",
			expect: ExpectClause{Count: &two, Sums: map[string]string{"ID": "4"}},
			answer: scalarAnswer(2, 4),
		},
		{
			name:    "sum differs",
			expect:  ExpectClause{Sums: map[string]string{"id": "5"}},
			answer:  scalarAnswer(2, 4),
			wantErr: "sum(id) = 4, expected 5",
		},
		{
			name:    "text has no sum",
			expect:  ExpectClause{Sums: map[string]string{"site": "0"}},
			answer:  scalarAnswer(2, 4),
			wantErr: "no sum for column site",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := matchExpect(&tt.expect, tt.answer)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheckExpect(t *testing.T) {
	q := Query{Name: "q", Expect: &ExpectClause{Error: "TABLE_NOT_FOUND"}}

	assert.Empty(t, checkExpect(q, Outcome{Err: errors.New("x"), Code: "TABLE_NOT_FOUND"}))
	assert.Contains(t, checkExpect(q, Outcome{Err: errors.New("x"), Code: "SCHEMA_MISMATCH"}), "expected TABLE_NOT_FOUND")
	assert.Contains(t, checkExpect(q, Outcome{Answer: rowsAnswer()}), "query succeeded")

	bare := Query{Name: "q"}
	assert.Empty(t, checkExpect(bare, Outcome{Answer: rowsAnswer(1)}))
	assert.Contains(t, checkExpect(bare, Outcome{Err: errors.New("boom")}), "unexpected failure: boom")
}

func TestAssertOblivious(t *testing.T) {
	q := Query{Name: "q", SQL: "SELECT id FROM t"}
	same := []fhe.Op{fhe.OpMul, fhe.OpAdd}

	err := assertOblivious(q, Outcome{Traces: []*fhe.Trace{{Ops: same}, {Ops: same}}})
	assert.NoError(t, err)

	err = assertOblivious(q, Outcome{Traces: []*fhe.Trace{{Ops: same}, {Ops: same}, {Ops: same[:1]}}})
	require.Error(t, err)

	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertOblivious, ae.Type)
	assert.Contains(t, ae.Diff, "row 0 vs row 2")

	assert.NoError(t, assertOblivious(q, Outcome{}), "an empty table is trivially oblivious")
}

func TestAssertionError_Error(t *testing.T) {
	err := &AssertionError{
		Type:  AssertIdempotent,
		Query: "q",
		SQL:   "SELECT id FROM t",
		Diff:  "-a\n+b\n",
	}
	assert.Equal(t, "Assertion failed: idempotent\n"+
		"  Query: q: SELECT id FROM t\n"+
		"  Diff (-want +got):\n"+
		"    -a\n"+
		"    +b\n", err.Error())
}
