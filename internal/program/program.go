package program

import (
	"fmt"
	"strings"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// ProjectionKind selects what the decoder produces from a result.
type ProjectionKind uint8

const (
	// ProjectRows returns every matching row.
	ProjectRows ProjectionKind = iota

	// ProjectScalar returns the match count and per-column sums.
	ProjectScalar
)

// String returns "rows" or "scalar".
func (k ProjectionKind) String() string {
	switch k {
	case ProjectRows:
		return "rows"
	case ProjectScalar:
		return "scalar"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseProjectionKind parses "rows" or "scalar". Empty means rows.
func ParseProjectionKind(s string) (ProjectionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rows":
		return ProjectRows, nil
	case "scalar":
		return ProjectScalar, nil
	}
	return 0, fmt.Errorf("unknown projection kind %q", s)
}

// Program is an encrypted predicate program: the query header plus the
// WHERE clause as postfix tokens. An empty Predicate means an
// unconditional query.
//
// The header (table, projection, column names) travels in the clear.
// Only literal values are encrypted.
type Program struct {
	ID        string
	Table     string
	Columns   []schema.Column // Projected columns; Type is zero when unknown
	Wildcard  bool
	Kind      ProjectionKind
	Predicate []Token
}

// Unconditional reports whether the program has no WHERE predicate.
func (p *Program) Unconditional() bool {
	return len(p.Predicate) == 0
}

// ColumnNames returns the projected column names in order.
func (p *Program) ColumnNames() []string {
	names := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		names[i] = c.Name
	}
	return names
}

// Dump renders the program as text with ciphertexts elided. The output is
// stable for a given query and key-independent, which makes it suitable
// for golden files.
func (p *Program) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "program %s\n", p.ID)
	fmt.Fprintf(&b, "table %s\n", p.Table)
	fmt.Fprintf(&b, "kind %s\n", p.Kind)
	if p.Wildcard {
		b.WriteString("project *\n")
	}
	for _, c := range p.Columns {
		if c.Type.IsZero() {
			fmt.Fprintf(&b, "project %s\n", c.Name)
			continue
		}
		fmt.Fprintf(&b, "project %s %s\n", c.Name, c.Type)
	}
	if p.Unconditional() {
		b.WriteString("predicate (none)\n")
		return b.String()
	}
	b.WriteString("predicate\n")
	for _, t := range p.Predicate {
		fmt.Fprintf(&b, "  %s\n", t)
	}
	return b.String()
}

// Result is the evaluator's output: for every row of the table, in store
// order, a tuple (selector, masked_1, ..., masked_k).
type Result struct {
	ID          string
	Columns     []schema.Column
	Ciphertexts []*fhe.Ciphertext
}

// Width returns the tuple width 1 + len(Columns).
func (r *Result) Width() int {
	return 1 + len(r.Columns)
}

// Tuples returns the number of complete tuples.
func (r *Result) Tuples() int {
	return len(r.Ciphertexts) / r.Width()
}
