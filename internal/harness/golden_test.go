package harness

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
)

// TestScenarios runs every scenario under testdata/scenarios through the
// encrypted pipeline and compares the decoded answers with golden files.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	opts := testOptions(t)
	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, "failed to load scenario from %s", path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario, opts)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario should pass: errors=%v", result.Errors)
		})
	}
}

// TestScenariosDeterministic runs a scenario twice; snapshots must be
// byte-identical even though every run encrypts afresh.
func TestScenariosDeterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/basic_filters.yaml")
	require.NoError(t, err)
	scenario.Assertions = nil

	opts := testOptions(t)
	first, err := Run(t.Context(), scenario, opts)
	require.NoError(t, err)
	second, err := Run(t.Context(), scenario, opts)
	require.NoError(t, err)

	assert.Equal(t, string(Snapshot(first)), string(Snapshot(second)))
}

func TestSnapshot_Error(t *testing.T) {
	result := NewResult("errors_only")
	result.AddOutcome(Outcome{
		Seq:   1,
		Query: "gone",
		SQL:   "  SELECT id FROM missing\n",
		Err:   qerr.TableNotFound("missing"),
		Code:  qerr.CodeTableNotFound,
	})
	result.AddOutcome(Outcome{
		Seq:   2,
		Query: "broken",
		SQL:   "SELEC",
		Err:   errors.New("syntax"),
		Code:  qerr.CodeParseError,
	})

	assert.Equal(t, "# errors_only\n"+
		"\n-- 1 gone\nSELECT id FROM missing\nerror: TABLE_NOT_FOUND\n"+
		"\n-- 2 broken\nSELEC\nerror: PARSE_ERROR\n",
		string(Snapshot(result)))
}
