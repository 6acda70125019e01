package harness

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/queryir"
	"github.com/mahmudsudo/encrypted-sql/internal/querysql"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
	"github.com/mahmudsudo/encrypted-sql/internal/testutil"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	ck, sk := testutil.Keys(t)
	return Options{Client: ck, Server: sk, Workers: 2}
}

// flagTable is t(id uint8, flag bool) with rows (1,true), (2,false), (3,true).
func flagTable() TableFixture {
	return TableFixture{
		Name: "t",
		Columns: []schema.Column{
			{Name: "id", Type: schema.Uint(8)},
			{Name: "flag", Type: schema.Bool},
		},
		Rows: [][]any{{1, true}, {2, false}, {3, true}},
	}
}

func singleQuery(q Query, assertions ...Assertion) *Scenario {
	return &Scenario{
		Name:        "single",
		Description: "one query over t",
		Tables:      []TableFixture{flagTable()},
		Queries:     []Query{q},
		Assertions:  assertions,
	}
}

func TestRun_RequiresKeys(t *testing.T) {
	_, err := Run(context.Background(), singleQuery(Query{Name: "q", SQL: "SELECT id FROM t"}), Options{})
	require.Error(t, err)
}

func TestRun_InlineScenario(t *testing.T) {
	scenario := singleQuery(Query{
		Name:   "flag_true",
		SQL:    "SELECT id FROM t WHERE flag = true",
		Expect: &ExpectClause{Rows: [][]any{{1}, {3}}},
	}, Assertion{Type: AssertMatchesReference})

	result, err := Run(context.Background(), scenario, testOptions(t))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Outcomes, 1)

	out := result.Outcomes[0]
	assert.Equal(t, int64(1), out.Seq)
	assert.Empty(t, out.Code)
	require.NotNil(t, out.Answer)
	assert.Equal(t, 2, out.Answer.Count)
	assert.Equal(t, 3, out.Answer.Scanned)
	assert.Equal(t, testutil.DefaultQueryID, out.Answer.QueryID)
	assert.Equal(t, fhe.EqDepth(1)+fhe.SelectDepth, out.Depth)
	assert.NotEmpty(t, out.Ops)
	assert.Nil(t, out.Traces, "traces are only kept for the oblivious assertion")
}

func TestRun_ExpectedRowsMismatch(t *testing.T) {
	scenario := singleQuery(Query{
		Name:   "flag_true",
		SQL:    "SELECT id FROM t WHERE flag = true",
		Expect: &ExpectClause{Rows: [][]any{{2}}},
	})

	result, err := Run(context.Background(), scenario, testOptions(t))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "rows mismatch")
}

func TestRun_ExpectedErrorNotRaised(t *testing.T) {
	scenario := singleQuery(Query{
		Name:   "fine",
		SQL:    "SELECT id FROM t",
		Expect: &ExpectClause{Error: string(qerr.CodeTableNotFound)},
	})

	result, err := Run(context.Background(), scenario, testOptions(t))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "query succeeded")
}

func TestRun_UnexpectedFailure(t *testing.T) {
	scenario := singleQuery(Query{Name: "gone", SQL: "SELECT id FROM missing"},
		Assertion{Type: AssertMatchesReference})

	result, err := Run(context.Background(), scenario, testOptions(t))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, qerr.CodeTableNotFound, result.Outcomes[0].Code)
	require.Len(t, result.Errors, 1, "assertions are skipped for failed queries")
	assert.Contains(t, result.Errors[0], "unexpected failure")
}

func TestRun_ObliviousKeepsTraces(t *testing.T) {
	scenario := singleQuery(Query{
		Name: "between",
		SQL:  "SELECT id FROM t WHERE id BETWEEN 2 AND 3",
	}, Assertion{Type: AssertOblivious})

	result, err := Run(context.Background(), scenario, testOptions(t))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	out := result.Outcomes[0]
	require.Len(t, out.Traces, 3)
	for i, tr := range out.Traces {
		assert.Equal(t, out.Traces[0].Ops, tr.Ops, "row %d", i)
	}
}

func TestRun_BadFixture(t *testing.T) {
	scenario := singleQuery(Query{Name: "q", SQL: "SELECT id FROM t"})
	scenario.Tables[0].Rows = [][]any{{300, true}}

	_, err := Run(context.Background(), scenario, testOptions(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0 column id")
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, singleQuery(Query{Name: "q", SQL: "SELECT id FROM t"}), testOptions(t))
	require.Error(t, err)
}

func plainSensors() *plainTable {
	return &plainTable{
		schema: schema.Table{
			Name: "sensors",
			Columns: []schema.Column{
				{Name: "celsius", Type: schema.Int(16)},
				{Name: "site", Type: schema.Str},
				{Name: "ok", Type: schema.Bool},
			},
		},
		rows: [][]schema.Value{
			{schema.IntValue(-12), schema.TextValue("north"), schema.BoolValue(true)},
			{schema.IntValue(3), schema.TextValue("south"), schema.BoolValue(false)},
			{schema.IntValue(-1), schema.TextValue("north"), schema.BoolValue(true)},
		},
	}
}

func compileQuery(t *testing.T, sql string) *queryir.Select {
	t.Helper()
	q, err := querysql.ParseQuery(sql)
	require.NoError(t, err)
	return q
}

func TestReference_Rows(t *testing.T) {
	ans, err := reference(compileQuery(t, "SELECT site FROM sensors WHERE celsius < 0"), plainSensors(), program.ProjectRows)
	require.NoError(t, err)

	assert.Equal(t, 2, ans.Count)
	assert.Equal(t, 3, ans.Scanned)
	assert.Equal(t, [][]schema.Value{{schema.TextValue("north")}, {schema.TextValue("north")}}, ans.Rows)
}

func TestReference_Scalar(t *testing.T) {
	ans, err := reference(compileQuery(t, "SELECT * FROM sensors WHERE ok"), plainSensors(), program.ProjectScalar)
	require.NoError(t, err)

	assert.Equal(t, 2, ans.Count)
	require.Len(t, ans.Sums, 3)
	assert.Equal(t, big.NewInt(-13).String(), ans.Sums[0].String())
	assert.Nil(t, ans.Sums[1], "text columns have no sum")
	assert.Equal(t, "2", ans.Sums[2].String())
	assert.Nil(t, ans.Rows)
}

func TestReference_UnknownColumn(t *testing.T) {
	_, err := reference(compileQuery(t, "SELECT pressure FROM sensors"), plainSensors(), program.ProjectRows)
	require.Error(t, err)
	assert.True(t, qerr.IsSchemaMismatch(err))
}
