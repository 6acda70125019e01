package harness

import (
	"time"

	"github.com/mahmudsudo/encrypted-sql/internal/decoder"
	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
)

// Outcome records what one query produced.
type Outcome struct {
	Seq   int64  `json:"seq"`
	Query string `json:"query"`
	SQL   string `json:"sql"`

	// Answer is the decoded answer. Nil when the query failed.
	Answer *decoder.Answer `json:"answer,omitempty"`

	// Code is the qerr code of the failure. Empty on success.
	Code qerr.Code `json:"error,omitempty"`

	// Err is the failure itself.
	Err error `json:"-"`

	// Depth is the multiplicative depth of the program's circuit.
	Depth int `json:"depth,omitempty"`

	// Ops counts the homomorphic operations over all rows.
	Ops map[fhe.Op]int `json:"ops,omitempty"`

	// Traces holds every row's operation sequence.
	Traces []*fhe.Trace `json:"-"`

	Elapsed time.Duration `json:"-"`

	// program is the encoded query, kept for re-evaluation.
	program *program.Program
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Scenario is the name of the scenario that ran.
	Scenario string `json:"scenario"`

	// Pass indicates overall test success.
	// True if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Outcomes holds one entry per query, in scenario order.
	Outcomes []Outcome `json:"outcomes"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Outcomes: []Outcome{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddOutcome appends a query outcome.
func (r *Result) AddOutcome(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}
