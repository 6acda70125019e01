package querysql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/queryir"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// Parse parses SQL text into a parser AST.
// A syntax error is reported as a PARSE_ERROR.
func Parse(text string) (sqlparser.Statement, error) {
	stmt, err := sqlparser.Parse(text)
	if err != nil {
		return nil, qerr.Parse(err)
	}
	return stmt, nil
}

// ParseQuery parses and compiles SQL text in one step.
func ParseQuery(text string) (*queryir.Select, error) {
	stmt, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return Compile(stmt)
}

// Compile converts a parser AST into a QueryIR select.
//
// Only SELECT <cols | *> FROM <table> [WHERE <predicate>] is accepted.
// Every other construct fails with UNSUPPORTED_QUERY: other statement
// kinds, joins, subqueries, function calls, aggregation clauses, ordering,
// limits, arithmetic and pattern matching. The compiled query always
// passes queryir.Validate.
func Compile(stmt sqlparser.Statement) (*queryir.Select, error) {
	if stmt == nil {
		return nil, qerr.Unsupported("empty statement")
	}

	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return nil, qerr.Unsupported("only SELECT statements are supported, got %s", statementKind(stmt))
	}

	if err := rejectClauses(sel); err != nil {
		return nil, err
	}

	c := &compiler{}
	table, err := c.table(sel.From)
	if err != nil {
		return nil, err
	}
	c.from = table

	q := &queryir.Select{From: table}
	if err := c.projection(sel.SelectExprs, q); err != nil {
		return nil, err
	}

	if sel.Where != nil && sel.Where.Expr != nil {
		q.Filter, err = c.predicate(sel.Where.Expr)
		if err != nil {
			return nil, err
		}
	}

	if res := queryir.Validate(q); !res.IsValid {
		return nil, qerr.Unsupported("%s", strings.Join(res.Problems, "; "))
	}
	return q, nil
}

// compiler carries the resolved table name while lowering expressions.
type compiler struct {
	from string
}

func rejectClauses(sel *sqlparser.Select) error {
	switch {
	case sel.Distinct != "":
		return qerr.Unsupported("DISTINCT is not supported")
	case len(sel.GroupBy) > 0:
		return qerr.Unsupported("GROUP BY is not supported")
	case sel.Having != nil:
		return qerr.Unsupported("HAVING is not supported")
	case len(sel.OrderBy) > 0:
		return qerr.Unsupported("ORDER BY is not supported")
	case sel.Limit != nil:
		return qerr.Unsupported("LIMIT is not supported")
	case sel.Lock != "":
		return qerr.Unsupported("locking clauses are not supported")
	}
	return nil
}

func (c *compiler) table(from sqlparser.TableExprs) (string, error) {
	if len(from) != 1 {
		return "", qerr.Unsupported("exactly one source table is required, got %d", len(from))
	}
	switch te := from[0].(type) {
	case *sqlparser.AliasedTableExpr:
		switch expr := te.Expr.(type) {
		case sqlparser.TableName:
			if !expr.Qualifier.IsEmpty() {
				return "", qerr.Unsupported("qualified table names are not supported")
			}
			return expr.Name.String(), nil
		case *sqlparser.Subquery:
			return "", qerr.Unsupported("subqueries are not supported")
		}
		return "", qerr.Unsupported("unsupported table expression %T", te.Expr)
	case *sqlparser.JoinTableExpr:
		return "", qerr.Unsupported("joins are not supported")
	case *sqlparser.ParenTableExpr:
		return "", qerr.Unsupported("parenthesized table expressions are not supported")
	}
	return "", qerr.Unsupported("unsupported table expression %T", from[0])
}

func (c *compiler) projection(exprs sqlparser.SelectExprs, q *queryir.Select) error {
	for _, se := range exprs {
		switch e := se.(type) {
		case *sqlparser.StarExpr:
			if !e.TableName.IsEmpty() && !c.sameTable(e.TableName) {
				return qerr.Unsupported("star over unknown table %s", e.TableName.Name.String())
			}
			q.Star = true
		case *sqlparser.AliasedExpr:
			if !e.As.IsEmpty() {
				return qerr.Unsupported("column aliases are not supported")
			}
			col, ok := e.Expr.(*sqlparser.ColName)
			if !ok {
				return c.unsupportedExpr(e.Expr)
			}
			name, err := c.columnName(col)
			if err != nil {
				return err
			}
			q.Columns = append(q.Columns, name)
		default:
			return qerr.Unsupported("unsupported select expression %T", se)
		}
	}
	if q.Star && len(q.Columns) > 0 {
		return qerr.Unsupported("* cannot be combined with named columns")
	}
	return nil
}

func (c *compiler) predicate(expr sqlparser.Expr) (queryir.Predicate, error) {
	switch e := expr.(type) {
	case *sqlparser.ParenExpr:
		return c.predicate(e.Expr)

	case *sqlparser.AndExpr:
		return c.junction(e.Left, e.Right, true)

	case *sqlparser.OrExpr:
		return c.junction(e.Left, e.Right, false)

	case *sqlparser.NotExpr:
		inner, err := c.predicate(e.Expr)
		if err != nil {
			return nil, err
		}
		return queryir.Not{Predicate: inner}, nil

	case *sqlparser.ComparisonExpr:
		return c.comparison(e)

	case *sqlparser.RangeCond:
		v, err := c.operand(e.Left)
		if err != nil {
			return nil, err
		}
		lo, err := c.operand(e.From)
		if err != nil {
			return nil, err
		}
		hi, err := c.operand(e.To)
		if err != nil {
			return nil, err
		}
		between := queryir.Between{Expr: v, Lo: lo, Hi: hi}
		switch e.Operator {
		case sqlparser.BetweenStr:
			return between, nil
		case sqlparser.NotBetweenStr:
			return queryir.Not{Predicate: between}, nil
		}
		return nil, qerr.Unsupported("unsupported range operator %q", e.Operator)

	case *sqlparser.ColName, sqlparser.BoolVal:
		o, err := c.operand(e)
		if err != nil {
			return nil, err
		}
		return queryir.IsTrue{Operand: o}, nil
	}
	return nil, c.unsupportedExpr(expr)
}

// junction flattens nested AND (or OR) chains into one n-ary node so the
// left-to-right order of the source text is kept.
func (c *compiler) junction(left, right sqlparser.Expr, and bool) (queryir.Predicate, error) {
	var preds []queryir.Predicate
	for _, side := range []sqlparser.Expr{left, right} {
		p, err := c.predicate(side)
		if err != nil {
			return nil, err
		}
		switch inner := p.(type) {
		case queryir.And:
			if and && !isParen(side) {
				preds = append(preds, inner.Predicates...)
				continue
			}
		case queryir.Or:
			if !and && !isParen(side) {
				preds = append(preds, inner.Predicates...)
				continue
			}
		}
		preds = append(preds, p)
	}
	if and {
		return queryir.And{Predicates: preds}, nil
	}
	return queryir.Or{Predicates: preds}, nil
}

func isParen(e sqlparser.Expr) bool {
	_, ok := e.(*sqlparser.ParenExpr)
	return ok
}

func (c *compiler) comparison(e *sqlparser.ComparisonExpr) (queryir.Predicate, error) {
	left, err := c.operand(e.Left)
	if err != nil {
		return nil, err
	}

	switch e.Operator {
	case sqlparser.InStr, sqlparser.NotInStr:
		tuple, ok := e.Right.(sqlparser.ValTuple)
		if !ok {
			if _, sub := e.Right.(*sqlparser.Subquery); sub {
				return nil, qerr.Unsupported("subqueries are not supported")
			}
			return nil, c.unsupportedExpr(e.Right)
		}
		list := make([]queryir.Operand, 0, len(tuple))
		for _, item := range tuple {
			o, err := c.operand(item)
			if err != nil {
				return nil, err
			}
			list = append(list, o)
		}
		in := queryir.In{Expr: left, List: list}
		if e.Operator == sqlparser.NotInStr {
			return queryir.Not{Predicate: in}, nil
		}
		return in, nil
	}

	op, ok := compareOps[e.Operator]
	if !ok {
		return nil, qerr.Unsupported("operator %q is not supported", e.Operator)
	}
	if e.Escape != nil {
		return nil, qerr.Unsupported("ESCAPE is not supported")
	}
	right, err := c.operand(e.Right)
	if err != nil {
		return nil, err
	}
	return queryir.Compare{Op: op, Left: left, Right: right}, nil
}

var compareOps = map[string]queryir.CompareOp{
	sqlparser.EqualStr:        queryir.OpEq,
	sqlparser.NotEqualStr:     queryir.OpNeq,
	sqlparser.LessThanStr:     queryir.OpLt,
	sqlparser.GreaterThanStr:  queryir.OpGt,
	sqlparser.LessEqualStr:    queryir.OpLe,
	sqlparser.GreaterEqualStr: queryir.OpGe,
}

func (c *compiler) operand(expr sqlparser.Expr) (queryir.Operand, error) {
	switch e := expr.(type) {
	case *sqlparser.ParenExpr:
		return c.operand(e.Expr)
	case *sqlparser.ColName:
		name, err := c.columnName(e)
		if err != nil {
			return nil, err
		}
		return queryir.Column{Name: name}, nil
	case sqlparser.BoolVal:
		return queryir.Literal{Value: schema.BoolValue(bool(e))}, nil
	case *sqlparser.SQLVal:
		v, err := literal(e)
		if err != nil {
			return nil, err
		}
		return queryir.Literal{Value: v}, nil
	case *sqlparser.UnaryExpr:
		if e.Operator != sqlparser.UMinusStr {
			return nil, c.unsupportedExpr(e)
		}
		val, ok := e.Expr.(*sqlparser.SQLVal)
		if !ok || val.Type != sqlparser.IntVal {
			return nil, c.unsupportedExpr(e)
		}
		v, err := integerLiteral("-" + string(val.Val))
		if err != nil {
			return nil, err
		}
		return queryir.Literal{Value: v}, nil
	}
	return nil, c.unsupportedExpr(expr)
}

func literal(v *sqlparser.SQLVal) (schema.Value, error) {
	switch v.Type {
	case sqlparser.IntVal:
		return integerLiteral(string(v.Val))
	case sqlparser.StrVal:
		s := schema.NewText(string(v.Val))
		if len(s) > schema.MaxTextBytes {
			return nil, qerr.CapacityExceeded("", len(s), schema.MaxTextBytes,
				"string literal is %d bytes, limit is %d", len(s), schema.MaxTextBytes)
		}
		return s, nil
	case sqlparser.FloatVal:
		return nil, qerr.Unsupported("floating point literal %s is not supported", v.Val)
	case sqlparser.ValArg:
		return nil, qerr.Unsupported("bind variables are not supported")
	}
	return nil, qerr.Unsupported("unsupported literal %s", sqlparser.String(v))
}

// integerLiteral parses a decimal literal. Non-negative values become
// unsigned, negative values signed.
func integerLiteral(text string) (schema.Value, error) {
	if strings.HasPrefix(text, "-") {
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, literalRangeError(text, err)
		}
		return schema.IntValue(n), nil
	}
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return nil, literalRangeError(text, err)
	}
	return schema.UintValue(n), nil
}

func literalRangeError(text string, err error) error {
	if errors.Is(err, strconv.ErrRange) {
		return qerr.CapacityExceeded("", 65, 64, "integer literal %s does not fit in 64 bits", text)
	}
	return qerr.Unsupported("invalid integer literal %s", text)
}

func (c *compiler) columnName(col *sqlparser.ColName) (string, error) {
	if !col.Qualifier.IsEmpty() && !c.sameTable(col.Qualifier) {
		return "", qerr.Unsupported("column %s references another table", sqlparser.String(col))
	}
	return col.Name.String(), nil
}

func (c *compiler) sameTable(tn sqlparser.TableName) bool {
	return tn.Qualifier.IsEmpty() && strings.EqualFold(tn.Name.String(), c.from)
}

func (c *compiler) unsupportedExpr(expr sqlparser.Expr) error {
	switch expr.(type) {
	case *sqlparser.FuncExpr, *sqlparser.GroupConcatExpr:
		return qerr.Unsupported("function calls are not supported: %s", sqlparser.String(expr))
	case *sqlparser.Subquery, *sqlparser.ExistsExpr:
		return qerr.Unsupported("subqueries are not supported")
	case *sqlparser.BinaryExpr, *sqlparser.UnaryExpr:
		return qerr.Unsupported("arithmetic is not supported: %s", sqlparser.String(expr))
	case *sqlparser.IsExpr:
		return qerr.Unsupported("IS tests are not supported: %s", sqlparser.String(expr))
	case *sqlparser.NullVal:
		return qerr.Unsupported("NULL is not supported")
	}
	return qerr.Unsupported("unsupported expression: %s", sqlparser.String(expr))
}

func statementKind(stmt sqlparser.Statement) string {
	switch stmt.(type) {
	case *sqlparser.Insert:
		return "INSERT"
	case *sqlparser.Update:
		return "UPDATE"
	case *sqlparser.Delete:
		return "DELETE"
	case *sqlparser.Union:
		return "UNION"
	case *sqlparser.DDL:
		return "DDL"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", stmt), "*sqlparser.")
}
