package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a result as the text stored in golden files: one
// block per query holding its SQL and either the decoded answer or the
// error code. Timings and operation counts are left out so snapshots
// stay stable across parameter sets.
func Snapshot(result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", result.Scenario)
	for _, out := range result.Outcomes {
		fmt.Fprintf(&b, "\n-- %d %s\n%s\n", out.Seq, out.Query, strings.TrimSpace(out.SQL))
		if out.Err != nil {
			fmt.Fprintf(&b, "error: %s\n", out.Code)
			continue
		}
		fmt.Fprintf(&b, "%s\n", out.Answer)
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file. The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario, opts Options) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts)
	if err != nil {
		return nil, err
	}

	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the given result's snapshot against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(result))
}
