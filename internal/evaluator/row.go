package evaluator

import (
	"fmt"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
)

// evalRow runs the plan over one row and returns the tuple
// (selector, masked_1, ..., masked_k). The stack discipline was checked in
// preflight, so pops here cannot underflow.
func (p *plan) evalRow(ev *fhe.Evaluator, cells []*fhe.Ciphertext) ([]*fhe.Ciphertext, error) {
	stack := make([]*fhe.Ciphertext, 0, 8)
	pop := func() *fhe.Ciphertext {
		ct := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return ct
	}

	for _, st := range p.steps {
		switch st.token.Kind {
		case program.TokenLiteral:
			stack = append(stack, st.token.Ciphertext)
			continue
		case program.TokenColumn:
			stack = append(stack, cells[st.col])
			continue
		}

		var (
			out *fhe.Ciphertext
			err error
		)
		switch st.token.Op {
		case program.OpEq:
			b, a := pop(), pop()
			out, err = ev.Eq(a, b, st.width)
		case program.OpNeq:
			b, a := pop(), pop()
			if out, err = ev.Eq(a, b, st.width); err == nil {
				out, err = ev.Not(out)
			}
		case program.OpLt:
			b, a := pop(), pop()
			out, err = ev.Lt(a, b, st.width)
		case program.OpGt:
			b, a := pop(), pop()
			out, err = ev.Gt(a, b, st.width)
		case program.OpBetween:
			hi, lo, v := pop(), pop(), pop()
			out, err = between(ev, v, lo, hi, st.width)
		case program.OpAnd:
			b, a := pop(), pop()
			out, err = ev.And(a, b)
		case program.OpOr:
			b, a := pop(), pop()
			out, err = ev.Or(a, b)
		case program.OpNot:
			out, err = ev.Not(pop())
		default:
			err = fmt.Errorf("operator %s has no circuit", st.token.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st.token.Op, err)
		}
		stack = append(stack, out)
	}

	var sel *fhe.Ciphertext
	if len(stack) == 1 {
		sel = stack[0]
	} else {
		one, err := ev.One()
		if err != nil {
			return nil, err
		}
		sel = one
	}

	projected := make([]*fhe.Ciphertext, len(p.project))
	for i, idx := range p.project {
		projected[i] = cells[idx]
	}
	bsel, masked, err := ev.Select(sel, projected)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	return append([]*fhe.Ciphertext{bsel}, masked...), nil
}

// between returns NOT(v < lo) AND NOT(v > hi).
func between(ev *fhe.Evaluator, v, lo, hi *fhe.Ciphertext, w int) (*fhe.Ciphertext, error) {
	lt, err := ev.Lt(v, lo, w)
	if err != nil {
		return nil, err
	}
	gt, err := ev.Gt(v, hi, w)
	if err != nil {
		return nil, err
	}
	if lt, err = ev.Not(lt); err != nil {
		return nil, err
	}
	if gt, err = ev.Not(gt); err != nil {
		return nil, err
	}
	return ev.And(lt, gt)
}
