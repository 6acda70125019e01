package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yml", "a.yaml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0755))

	paths, err := FindScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yml")}, paths)
}

func TestFindScenarios_MissingDir(t *testing.T) {
	_, err := FindScenarios(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestRunSuite(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"1_pass.yaml": `
name: pass
description: "matches"
tables: [{name: t, columns: [{name: id, type: uint8}], rows: [[1], [2]]}]
queries: [{name: q, sql: "SELECT id FROM t WHERE id = 2", expect: {rows: [[2]]}}]
`,
		"2_fail.yaml": `
name: fail
description: "wrong expectation"
tables: [{name: t, columns: [{name: id, type: uint8}], rows: [[1], [2]]}]
queries: [{name: q, sql: "SELECT id FROM t WHERE id = 2", expect: {rows: [[1]]}}]
`,
		"3_broken.yaml": "name: [\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	paths, err := FindScenarios(dir)
	require.NoError(t, err)

	suite, err := RunSuite(context.Background(), paths, testOptions(t))
	require.NoError(t, err)

	assert.Equal(t, 3, suite.TotalScenarios)
	assert.Equal(t, 2, suite.TotalQueries)
	assert.Equal(t, 1, suite.Passed)
	assert.Equal(t, 2, suite.Failed)
	require.Len(t, suite.Failures, 2)
	assert.Equal(t, "fail", suite.Failures[0].Scenario)
	assert.Equal(t, "3_broken.yaml", suite.Failures[1].Scenario)
	assert.Contains(t, suite.Failures[1].Errors[0], "failed to parse YAML")
}

func TestSuiteResult_String(t *testing.T) {
	suite := &SuiteResult{
		TotalScenarios: 2,
		TotalQueries:   5,
		Passed:         1,
		Failed:         1,
		Failures: []ScenarioFailure{{
			Scenario:     "fail",
			ScenarioPath: "s/fail.yaml",
			Errors:       []string{"query q: expected 1 matching rows, got 0"},
		}},
	}
	assert.Equal(t, "2 scenarios, 5 queries: 1 passed, 1 failed\n\n"+
		"FAIL fail (s/fail.yaml)\n"+
		"  query q: expected 1 matching rows, got 0", suite.String())
}
