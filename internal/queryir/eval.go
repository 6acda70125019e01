package queryir

import (
	"fmt"
	"strings"

	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// Row supplies plaintext column values to Eval.
type Row interface {
	Get(column string) (schema.Value, bool)
}

// MapRow is a Row backed by a map. Lookups are case-insensitive.
type MapRow map[string]schema.Value

// Get implements Row.
func (r MapRow) Get(column string) (schema.Value, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// Eval evaluates a predicate over a plaintext row. A nil predicate is true.
//
// Eval is the plaintext reference the encrypted pipeline is checked
// against: for every table and predicate, the rows the decoder returns
// must be exactly the rows for which Eval returns true.
func Eval(p Predicate, row Row) (bool, error) {
	switch pred := p.(type) {
	case nil:
		return true, nil
	case *Compare:
		return Eval(*pred, row)
	case Compare:
		vals, err := resolveAll(row, []Operand{pred.Left, pred.Right})
		if err != nil {
			return false, err
		}
		return compare(pred.Op, vals[0], vals[1])
	case *In:
		return Eval(*pred, row)
	case In:
		vals, err := resolveAll(row, append([]Operand{pred.Expr}, pred.List...))
		if err != nil {
			return false, err
		}
		for _, item := range vals[1:] {
			eq, err := compare(OpEq, vals[0], item)
			if err != nil {
				return false, err
			}
			if eq {
				return true, nil
			}
		}
		return false, nil
	case *Between:
		return Eval(*pred, row)
	case Between:
		vals, err := resolveAll(row, []Operand{pred.Expr, pred.Lo, pred.Hi})
		if err != nil {
			return false, err
		}
		ge, err := compare(OpGe, vals[0], vals[1])
		if err != nil {
			return false, err
		}
		le, err := compare(OpLe, vals[0], vals[2])
		if err != nil {
			return false, err
		}
		return ge && le, nil
	case *IsTrue:
		return Eval(*pred, row)
	case IsTrue:
		v, err := resolve(row, pred.Operand)
		if err != nil {
			return false, err
		}
		b, ok := v.(schema.BoolValue)
		if !ok {
			return false, fmt.Errorf("%s is not a boolean", v)
		}
		return bool(b), nil
	case *Not:
		return Eval(*pred, row)
	case Not:
		b, err := Eval(pred.Predicate, row)
		return !b, err
	case *And:
		return Eval(*pred, row)
	case And:
		// Evaluate every member so errors surface regardless of order.
		result := true
		for _, sub := range pred.Predicates {
			b, err := Eval(sub, row)
			if err != nil {
				return false, err
			}
			result = result && b
		}
		return result, nil
	case *Or:
		return Eval(*pred, row)
	case Or:
		result := false
		for _, sub := range pred.Predicates {
			b, err := Eval(sub, row)
			if err != nil {
				return false, err
			}
			result = result || b
		}
		return result, nil
	}
	return false, fmt.Errorf("unknown predicate type %T", p)
}

func resolveAll(row Row, ops []Operand) ([]schema.Value, error) {
	vals := make([]schema.Value, len(ops))
	for i, o := range ops {
		v, err := resolve(row, o)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func resolve(row Row, o Operand) (schema.Value, error) {
	switch op := o.(type) {
	case Column:
		v, ok := row.Get(op.Name)
		if !ok {
			return nil, fmt.Errorf("no column %q", op.Name)
		}
		return v, nil
	case *Column:
		return resolve(row, *op)
	case Literal:
		return op.Value, nil
	case *Literal:
		return op.Value, nil
	}
	return nil, fmt.Errorf("unknown operand type %T", o)
}

func compare(op CompareOp, a, b schema.Value) (bool, error) {
	c, ok := schema.Compare(a, b)
	if !ok {
		return false, fmt.Errorf("cannot compare %T with %T", a, b)
	}
	switch op {
	case OpEq:
		return c == 0, nil
	case OpNeq:
		return c != 0, nil
	case OpLt:
		return c < 0, nil
	case OpGt:
		return c > 0, nil
	case OpLe:
		return c <= 0, nil
	case OpGe:
		return c >= 0, nil
	}
	return false, fmt.Errorf("invalid comparison operator %d", op)
}
