package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// Scenario defines a conformance test scenario: a set of plaintext
// tables, loaded encrypted, and queries run through the encrypted
// pipeline.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Data is a directory of CSV files (and an optional catalog.cue) to
	// load. Relative paths resolve against the scenario file.
	Data string `yaml:"data,omitempty"`

	// Tables are declared inline, in addition to Data.
	Tables []TableFixture `yaml:"tables,omitempty"`

	// Queries run in order against the loaded tables.
	Queries []Query `yaml:"queries"`

	// Assertions apply to every query that is expected to succeed.
	// Supported types: matches_reference, oblivious, idempotent, reencode
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// QueryID fixes the ID of every encoded program so golden snapshots
	// are stable. Defaults to testutil.DefaultQueryID.
	QueryID string `yaml:"query_id,omitempty"`
}

// TableFixture is an inline plaintext table.
type TableFixture struct {
	Name    string          `yaml:"name"`
	Columns []schema.Column `yaml:"columns"`

	// Rows hold one YAML scalar per column, parsed at the column's type.
	Rows [][]any `yaml:"rows"`
}

// Query is one SQL statement and what it should produce.
type Query struct {
	// Name identifies the query within the scenario.
	Name string `yaml:"name"`

	// SQL is the statement to encode.
	SQL string `yaml:"sql"`

	// Kind is "rows" (default) or "scalar".
	Kind string `yaml:"kind,omitempty"`

	// Expect specifies the expected answer. If nil, only the scenario
	// assertions are checked.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies an expected answer or failure.
type ExpectClause struct {
	// Rows are the expected matching rows in store order, one YAML scalar
	// per projected column. An empty list expects no matches.
	Rows [][]any `yaml:"rows,omitempty"`

	// Count is the expected number of matching rows.
	Count *int `yaml:"count,omitempty"`

	// Sums maps column names to expected scalar sums.
	Sums map[string]string `yaml:"sums,omitempty"`

	// Error is the expected qerr code (e.g. "TABLE_NOT_FOUND"). When set,
	// the query must fail with it.
	Error string `yaml:"error,omitempty"`
}

// Assertion is a property checked against every successful query.
type Assertion struct {
	// Type specifies the assertion type:
	// - "matches_reference": decoded answer equals the plaintext filter
	// - "oblivious": every row ran the same operation sequence
	// - "idempotent": evaluating the program twice decodes identically
	// - "reencode": a fresh encoding of the same SQL decodes identically
	Type string `yaml:"type"`
}

// Assertion type constants.
const (
	AssertMatchesReference = "matches_reference"
	AssertOblivious        = "oblivious"
	AssertIdempotent       = "idempotent"
	AssertReencode         = "reencode"
)

// ProjectionKind returns the query's projection kind.
func (q Query) ProjectionKind() (program.ProjectionKind, error) {
	return program.ParseProjectionKind(q.Kind)
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative Data directory is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the Data directory relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Data != "" && !filepath.IsAbs(scenario.Data) && basePath != "" {
		scenario.Data = filepath.Join(basePath, scenario.Data)
	}
	if scenario.Data != "" {
		if info, err := os.Stat(scenario.Data); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("invalid scenario: data directory not found: %s", scenario.Data)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML with strict field validation
// (catches typos like "assertion:" vs "assertions:").
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Data == "" && len(s.Tables) == 0 {
		return fmt.Errorf("data or tables is required")
	}

	if len(s.Queries) == 0 {
		return fmt.Errorf("queries list is required and must be non-empty")
	}

	for i, tbl := range s.Tables {
		if err := validateTable(tbl); err != nil {
			return fmt.Errorf("tables[%d]: %w", i, err)
		}
	}

	names := make(map[string]bool, len(s.Queries))
	for i, q := range s.Queries {
		if q.Name == "" {
			return fmt.Errorf("queries[%d]: name is required", i)
		}
		if names[q.Name] {
			return fmt.Errorf("queries[%d]: duplicate name %q", i, q.Name)
		}
		names[q.Name] = true
		if strings.TrimSpace(q.SQL) == "" {
			return fmt.Errorf("queries[%d]: sql is required", i)
		}
		if _, err := q.ProjectionKind(); err != nil {
			return fmt.Errorf("queries[%d]: %w", i, err)
		}
		if q.Expect != nil {
			if err := validateExpect(q.Expect); err != nil {
				return fmt.Errorf("queries[%d].expect: %w", i, err)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateTable(tbl TableFixture) error {
	t := schema.Table{Name: tbl.Name, Columns: tbl.Columns}
	if err := t.Validate(); err != nil {
		return err
	}
	for i, row := range tbl.Rows {
		if len(row) != len(tbl.Columns) {
			return fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(tbl.Columns))
		}
	}
	return nil
}

func validateExpect(e *ExpectClause) error {
	if e.Error == "" {
		return nil
	}
	if e.Rows != nil || e.Count != nil || e.Sums != nil {
		return fmt.Errorf("error cannot be combined with rows, count or sums")
	}
	switch qerr.Code(e.Error) {
	case qerr.CodeUnsupportedQuery, qerr.CodeSchemaMismatch, qerr.CodeTableNotFound,
		qerr.CodeCapacityExceeded, qerr.CodeDecryptionLengthMismatch,
		qerr.CodeMalformedProgram, qerr.CodeParseError:
		return nil
	}
	return fmt.Errorf("unknown error code %q", e.Error)
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertMatchesReference, AssertOblivious, AssertIdempotent, AssertReencode:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

// parseCell converts a YAML scalar to a value of type t.
func parseCell(v any, t schema.ColumnType) (schema.Value, error) {
	switch x := v.(type) {
	case nil:
		return nil, fmt.Errorf("null value for %s column", t)
	case string:
		return schema.ParseValue(x, t)
	}
	if t.Kind == schema.KindText {
		return nil, fmt.Errorf("%v is not a string", v)
	}
	return schema.ParseValue(fmt.Sprint(v), t)
}
