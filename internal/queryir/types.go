package queryir

import "github.com/mahmudsudo/encrypted-sql/internal/schema"

// Query represents a parsed query in the QueryIR.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in the encoder.
//
// Query types:
//   - Select: single-table projection with an optional filter
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition in the QueryIR.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Compare: operand <op> operand
//   - In: operand IN (operand, ...)
//   - Between: operand BETWEEN operand AND operand
//   - IsTrue: a bare boolean operand
//   - Not, And, Or: boolean composition
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Operand is a value position inside a predicate: a column of the source
// table or a literal.
type Operand interface {
	operandNode() // Marker method - seals interface to this package
}

// Select represents a single-table query.
//
// Semantics:
//
//	SELECT <columns | *> FROM <from> [WHERE <filter>]
//
// Example:
//
//	Select{
//	  From:    "t",
//	  Columns: []string{"id"},
//	  Filter: &Compare{
//	    Op:    OpEq,
//	    Left:  Column{Name: "flag"},
//	    Right: Literal{Value: schema.BoolValue(true)},
//	  },
//	}
type Select struct {
	From    string    // Source table name
	Columns []string  // Projected columns in order (empty when Star)
	Star    bool      // SELECT *
	Filter  Predicate // WHERE condition (nil = unconditional)
}

func (Select) queryNode() {}

// CompareOp is a binary comparison operator.
type CompareOp uint8

const (
	OpEq CompareOp = iota + 1
	OpNeq
	OpLt
	OpGt
	OpLe
	OpGe
)

// String returns the SQL spelling of the operator.
func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNeq:
		return "<>"
	case OpLt:
		return "<"
	case OpGt:
		return ">"
	case OpLe:
		return "<="
	case OpGe:
		return ">="
	}
	return "?"
}

// Compare represents a binary comparison between two operands.
//
// Either side may be a column or a literal. Comparing two literals is
// legal and evaluates identically for every row.
type Compare struct {
	Op    CompareOp
	Left  Operand
	Right Operand
}

func (Compare) predicateNode() {}

// In represents list membership.
//
// Semantics:
//
//	<expr> IN (<list[0]>, ..., <list[n-1]>)
//
// The encoder lowers it to n equality comparisons chained with OR; the
// cost is linear in the list size.
type In struct {
	Expr Operand
	List []Operand
}

func (In) predicateNode() {}

// Between represents an inclusive range test.
//
// Semantics:
//
//	<expr> BETWEEN <lo> AND <hi>   ==   <expr> >= <lo> AND <expr> <= <hi>
type Between struct {
	Expr Operand
	Lo   Operand
	Hi   Operand
}

func (Between) predicateNode() {}

// IsTrue represents a bare boolean operand used as a predicate
// (e.g. WHERE flag). It is equivalent to <operand> = TRUE.
type IsTrue struct {
	Operand Operand
}

func (IsTrue) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// Predicates are combined left to right. An And needs at least two members.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or represents a disjunction of predicates (any must be true).
// Predicates are combined left to right. An Or needs at least two members.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Column references a column of the source table by name.
type Column struct {
	Name string
}

func (Column) operandNode() {}

// Literal is a constant value supplied by the client.
type Literal struct {
	Value schema.Value
}

func (Literal) operandNode() {}
