package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarises a directory of scenarios.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	TotalQueries   int               `json:"total_queries"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents a failed scenario.
type ScenarioFailure struct {
	Scenario     string   `json:"scenario"`
	ScenarioPath string   `json:"scenario_path"`
	Errors       []string `json:"errors"`
}

// String renders the summary line followed by every failure.
func (s *SuiteResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d scenarios, %d queries: %d passed, %d failed",
		s.TotalScenarios, s.TotalQueries, s.Passed, s.Failed)
	for _, f := range s.Failures {
		fmt.Fprintf(&b, "\n\nFAIL %s (%s)", f.Scenario, f.ScenarioPath)
		for _, e := range f.Errors {
			fmt.Fprintf(&b, "\n  %s", strings.TrimRight(e, "\n"))
		}
	}
	return b.String()
}

// FindScenarios returns the *.yaml and *.yml files in dir, sorted.
// Subdirectories are not searched.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// RunSuite loads and runs every scenario at paths.
//
// A scenario that fails to load or run counts as failed; the suite keeps
// going. The returned error is only for a cancelled context.
func RunSuite(ctx context.Context, paths []string, opts Options) (*SuiteResult, error) {
	suite := &SuiteResult{}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return suite, err
		}
		suite.TotalScenarios++

		scenario, err := LoadScenario(path)
		if err != nil {
			suite.fail(filepath.Base(path), path, err.Error())
			continue
		}

		result, err := Run(ctx, scenario, opts)
		if err != nil {
			if ctx.Err() != nil {
				return suite, ctx.Err()
			}
			suite.fail(scenario.Name, path, err.Error())
			continue
		}
		suite.TotalQueries += len(result.Outcomes)

		if !result.Pass {
			suite.fail(scenario.Name, path, result.Errors...)
			continue
		}
		suite.Passed++
	}

	return suite, nil
}

func (s *SuiteResult) fail(name, path string, errs ...string) {
	s.Failed++
	s.Failures = append(s.Failures, ScenarioFailure{
		Scenario:     name,
		ScenarioPath: path,
		Errors:       errs,
	})
}
