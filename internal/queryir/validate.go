package queryir

import (
	"fmt"
)

// ValidationResult contains the structural problems found in a query.
type ValidationResult struct {
	// IsValid indicates the query is well formed and can be lowered.
	IsValid bool

	// Problems lists each structural defect. Empty when IsValid is true.
	Problems []string
}

// Validate checks that a query is structurally well formed:
//  1. A source table is named
//  2. Either Star or at least one column is projected, not both
//  3. No nil predicates or operands anywhere in the filter
//  4. And/Or have at least two members; In has at least one list item
//
// Validate does not resolve names against a schema; that happens where
// the table is known. It is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{problems: []string{}}
	v.validateQuery(query)

	return ValidationResult{
		IsValid:  len(v.problems) == 0,
		Problems: v.problems,
	}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

// addProblem appends a problem message.
func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		if query == nil {
			v.addProblem("nil query")
			return
		}
		v.validateSelect(*query)
	default:
		v.addProblem("unknown query type %T", q)
	}
}

func (v *validator) validateSelect(s Select) {
	if s.From == "" {
		v.addProblem("select has no source table")
	}
	switch {
	case s.Star && len(s.Columns) > 0:
		v.addProblem("select mixes * with named columns")
	case !s.Star && len(s.Columns) == 0:
		v.addProblem("select projects no columns")
	}
	for i, c := range s.Columns {
		if c == "" {
			v.addProblem("projected column %d has an empty name", i)
		}
	}
	if s.Filter != nil {
		v.validatePredicate(s.Filter)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
		v.addProblem("nil predicate")
	case *Compare:
		v.validatePredicate(*pred)
	case Compare:
		if pred.Op < OpEq || pred.Op > OpGe {
			v.addProblem("invalid comparison operator %d", pred.Op)
		}
		v.validateOperand(pred.Left)
		v.validateOperand(pred.Right)
	case *In:
		v.validatePredicate(*pred)
	case In:
		v.validateOperand(pred.Expr)
		if len(pred.List) == 0 {
			v.addProblem("IN list is empty")
		}
		for _, o := range pred.List {
			v.validateOperand(o)
		}
	case *Between:
		v.validatePredicate(*pred)
	case Between:
		v.validateOperand(pred.Expr)
		v.validateOperand(pred.Lo)
		v.validateOperand(pred.Hi)
	case *IsTrue:
		v.validatePredicate(*pred)
	case IsTrue:
		v.validateOperand(pred.Operand)
	case *Not:
		v.validatePredicate(*pred)
	case Not:
		v.validatePredicate(pred.Predicate)
	case *And:
		v.validatePredicate(*pred)
	case And:
		v.validateJunction("AND", pred.Predicates)
	case *Or:
		v.validatePredicate(*pred)
	case Or:
		v.validateJunction("OR", pred.Predicates)
	default:
		v.addProblem("unknown predicate type %T", p)
	}
}

func (v *validator) validateJunction(name string, preds []Predicate) {
	if len(preds) < 2 {
		v.addProblem("%s needs at least two predicates, has %d", name, len(preds))
	}
	for _, p := range preds {
		v.validatePredicate(p)
	}
}

func (v *validator) validateOperand(o Operand) {
	switch op := o.(type) {
	case nil:
		v.addProblem("nil operand")
	case Column:
		if op.Name == "" {
			v.addProblem("column operand has an empty name")
		}
	case *Column:
		v.validateOperand(*op)
	case Literal:
		if op.Value == nil {
			v.addProblem("literal operand has no value")
		}
	case *Literal:
		v.validateOperand(*op)
	default:
		v.addProblem("unknown operand type %T", o)
	}
}
