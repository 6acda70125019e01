package evaluator

import (
	"context"
	"fmt"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// plan is a program resolved against a table schema. It is computed once
// per evaluation without touching any ciphertext, and fixes the exact
// circuit every row runs.
type plan struct {
	table   *schema.Table
	columns []schema.Column // result columns
	project []int           // table column index per result column
	steps   []step
	depth   int
}

// step is one resolved program token.
type step struct {
	token program.Token
	col   int // table column index, for column references
	width int // comparison width, for Eq, Neq, Lt, Gt and Between
}

// sym is a symbolic stack value.
type sym struct {
	typ     schema.ColumnType
	column  string // set for column references
	literal bool
	result  bool // output of an operator
	depth   int
}

func (s sym) describe() string {
	switch {
	case s.result:
		return "boolean result"
	case s.literal:
		return s.typ.String() + " literal"
	}
	return s.typ.String() + " column " + s.column
}

func (s sym) boolean() bool {
	return s.result || s.typ.Kind == schema.KindBoolean
}

// preflight resolves prog against the source table and type-checks it
// with a symbolic stack.
func preflight(ctx context.Context, prog *program.Program, src Source, maxDepth int) (*plan, error) {
	tbl, err := src.Schema(ctx, prog.Table)
	if err != nil {
		return nil, err
	}

	p := &plan{table: tbl}
	if err := p.resolveProjection(prog); err != nil {
		return nil, err
	}

	var stack []sym
	pop := func(op program.OperatorKind, n int) ([]sym, error) {
		if len(stack) < n {
			return nil, qerr.Malformed("%s needs %d operands, stack holds %d", op, n, len(stack))
		}
		args := append([]sym(nil), stack[len(stack)-n:]...)
		stack = stack[:len(stack)-n]
		return args, nil
	}

	for i, tok := range prog.Predicate {
		st := step{token: tok, col: -1}
		switch tok.Kind {
		case program.TokenLiteral:
			if !tok.Type.Valid() {
				return nil, qerr.Malformed("literal %d has invalid type %s", i, tok.Type)
			}
			if tok.Ciphertext == nil {
				return nil, qerr.Malformed("literal %d has no ciphertext", i)
			}
			stack = append(stack, sym{typ: tok.Type, literal: true})

		case program.TokenColumn:
			col, idx, ok := tbl.Lookup(tok.Column)
			if !ok {
				return nil, qerr.SchemaMismatch(tbl.Name, tok.Column, "column does not exist")
			}
			if !tok.Type.IsZero() && tok.Type != col.Type {
				return nil, qerr.SchemaMismatch(tbl.Name, col.Name,
					"program declares %s, table has %s", tok.Type, col.Type)
			}
			st.col = idx
			stack = append(stack, sym{typ: col.Type, column: col.Name})

		case program.TokenOperator:
			n := tok.Op.Arity()
			if n < 0 {
				return nil, qerr.Malformed("operator %s cannot be evaluated directly", tok.Op)
			}
			args, err := pop(tok.Op, n)
			if err != nil {
				return nil, err
			}
			out, width, err := checkOperator(tbl.Name, tok.Op, args)
			if err != nil {
				return nil, err
			}
			st.width = width
			stack = append(stack, out)

		default:
			return nil, qerr.Malformed("token %d has invalid kind %d", i, tok.Kind)
		}
		p.steps = append(p.steps, st)
	}

	switch len(stack) {
	case 0:
		if len(prog.Predicate) > 0 {
			return nil, qerr.Malformed("predicate leaves no value")
		}
	case 1:
		if !stack[0].boolean() {
			return nil, qerr.SchemaMismatch(tbl.Name, stack[0].column,
				"predicate yields %s, not a boolean", stack[0].describe())
		}
		p.depth = stack[0].depth
	default:
		return nil, qerr.Malformed("predicate leaves %d values on the stack", len(stack))
	}

	p.depth += fhe.SelectDepth
	if p.depth > maxDepth {
		return nil, qerr.CapacityExceeded("", p.depth, maxDepth,
			"circuit depth %d exceeds the parameter set's limit of %d", p.depth, maxDepth)
	}
	return p, nil
}

func (p *plan) resolveProjection(prog *program.Program) error {
	if prog.Wildcard {
		for i, c := range p.table.Columns {
			p.columns = append(p.columns, c)
			p.project = append(p.project, i)
		}
	}
	for _, pc := range prog.Columns {
		col, idx, ok := p.table.Lookup(pc.Name)
		if !ok {
			return qerr.SchemaMismatch(p.table.Name, pc.Name, "projected column does not exist")
		}
		if !pc.Type.IsZero() && pc.Type != col.Type {
			return qerr.SchemaMismatch(p.table.Name, col.Name,
				"program declares %s, table has %s", pc.Type, col.Type)
		}
		p.columns = append(p.columns, col)
		p.project = append(p.project, idx)
	}
	return nil
}

// checkOperator type-checks one operator application and returns its
// symbolic result and comparison width.
func checkOperator(table string, op program.OperatorKind, args []sym) (sym, int, error) {
	switch op {
	case program.OpEq, program.OpNeq:
		w, err := comparable(table, op, args[0], args[1], false)
		if err != nil {
			return sym{}, 0, err
		}
		return sym{result: true, depth: maxDepth(args) + fhe.EqDepth(w)}, w, nil

	case program.OpLt, program.OpGt:
		w, err := comparable(table, op, args[0], args[1], true)
		if err != nil {
			return sym{}, 0, err
		}
		return sym{result: true, depth: maxDepth(args) + fhe.LtDepth(w)}, w, nil

	case program.OpBetween:
		lo, err := comparable(table, op, args[0], args[1], true)
		if err != nil {
			return sym{}, 0, err
		}
		hi, err := comparable(table, op, args[0], args[2], true)
		if err != nil {
			return sym{}, 0, err
		}
		w := max(lo, hi)
		return sym{result: true, depth: maxDepth(args) + fhe.LtDepth(w) + 1}, w, nil

	case program.OpAnd, program.OpOr:
		for _, a := range args {
			if !a.boolean() {
				return sym{}, 0, qerr.SchemaMismatch(table, a.column, "%s needs booleans, got %s", op, a.describe())
			}
		}
		return sym{result: true, depth: maxDepth(args) + 1}, 0, nil

	case program.OpNot:
		if !args[0].boolean() {
			return sym{}, 0, qerr.SchemaMismatch(table, args[0].column, "Not needs a boolean, got %s", args[0].describe())
		}
		return sym{result: true, depth: args[0].depth}, 0, nil
	}
	return sym{}, 0, qerr.Malformed("unknown operator %s", op)
}

// comparable checks that a and b can be compared and returns the width the
// comparison runs at.
//
// Unsigned operands compare at the wider width, since zero extension is
// free in the bit layout. Signed operands use offset binary and must share
// a width. A literal that is wider than the column it is compared with, or
// of the other signedness, cannot represent a value of that column and is
// reported as CAPACITY_EXCEEDED.
func comparable(table string, op program.OperatorKind, a, b sym, ordered bool) (int, error) {
	if a.result || b.result {
		return 0, qerr.Malformed("%s operands must be columns or literals", op)
	}
	column := a.column
	if column == "" {
		column = b.column
	}
	mismatch := func() error {
		return qerr.SchemaMismatch(table, column, "cannot apply %s to %s and %s", op, a.describe(), b.describe())
	}

	ta, tb := a.typ, b.typ
	if ordered && (!ta.IsInteger() || !tb.IsInteger()) {
		return 0, mismatch()
	}

	// lit is the literal side when exactly one side is a literal.
	var lit, col *sym
	switch {
	case a.literal && !b.literal:
		lit, col = &a, &b
	case b.literal && !a.literal:
		lit, col = &b, &a
	}
	capacity := func() error {
		return qerr.CapacityExceeded(col.column, lit.typ.Width, col.typ.Width,
			"%s cannot represent a value of %s", lit.describe(), col.describe())
	}

	switch {
	case ta.Kind == schema.KindBoolean && tb.Kind == schema.KindBoolean:
		return 1, nil

	case ta.Kind == schema.KindText && tb.Kind == schema.KindText:
		return schema.TextWidth, nil

	case ta.Kind == schema.KindUnsignedInt && tb.Kind == schema.KindUnsignedInt:
		if lit != nil && lit.typ.Width > col.typ.Width {
			return 0, capacity()
		}
		return max(ta.Width, tb.Width), nil

	case ta.Kind == schema.KindSignedInt && tb.Kind == schema.KindSignedInt:
		if ta.Width == tb.Width {
			return ta.Width, nil
		}
		if lit != nil && lit.typ.Width > col.typ.Width {
			return 0, capacity()
		}
		return 0, mismatch()

	case ta.IsInteger() && tb.IsInteger():
		if lit != nil {
			return 0, capacity()
		}
		return 0, mismatch()
	}
	return 0, mismatch()
}

func maxDepth(args []sym) int {
	d := 0
	for _, a := range args {
		d = max(d, a.depth)
	}
	return d
}

// String renders the plan for debug logs.
func (p *plan) String() string {
	return fmt.Sprintf("table=%s columns=%d steps=%d depth=%d", p.table.Name, len(p.columns), len(p.steps), p.depth)
}
