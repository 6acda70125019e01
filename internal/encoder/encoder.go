// Package encoder lowers a parsed SQL query into an encrypted predicate
// program.
//
// Lowering runs in two stages. querysql compiles the parser AST into the
// queryir tree, rejecting everything outside the supported fragment. The
// encoder then walks the tree and emits postfix tokens, encrypting every
// literal under the client's secret key and tagging every column
// reference so the evaluator substitutes the row's ciphertext for it.
//
// Derived forms are expanded here, never on the server:
//
//	a <= b              → a b Gt Not
//	a >= b              → a b Lt Not
//	e IN (v1, v2, v3)   → e v1 Eq e v2 Eq Or e v3 Eq Or
//	e BETWEEN lo AND hi → e lo Lt Not e hi Gt Not And
//	WHERE flag          → flag true Eq
//
// Full expansion keeps evaluation oblivious: every list item and both
// range bounds are evaluated for every row.
package encoder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/metrics"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/queryir"
	"github.com/mahmudsudo/encrypted-sql/internal/querysql"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// Catalog is the client's view of table schemas. Table metadata is not
// secret; knowing it lets the encoder encrypt literals at the width of the
// column they are compared with.
type Catalog interface {
	Lookup(table string) (*schema.Table, bool)
}

// Tables is a Catalog backed by a slice of table schemas.
type Tables []schema.Table

// Lookup implements Catalog. Table names match case-insensitively.
func (ts Tables) Lookup(table string) (*schema.Table, bool) {
	for i := range ts {
		if strings.EqualFold(ts[i].Name, table) {
			return &ts[i], true
		}
	}
	return nil, false
}

// Options configures an Encoder.
type Options struct {
	// Catalog supplies column types. It is required for any query that
	// compares a column with an integer literal: the literal's width and
	// signedness must match the column's. Without it, boolean and text
	// literals still encode, and column references carry no declared type.
	Catalog Catalog

	// Kind selects rows or scalar decoding for the result.
	Kind program.ProjectionKind

	// IDs generates query IDs. Nil uses UUIDv7.
	IDs program.IDGenerator
}

// Encoder turns queries into predicate programs.
// It is not safe for concurrent use because the underlying encryptor is not.
type Encoder struct {
	enc  *fhe.Encryptor
	opts Options
}

// New creates an Encoder that encrypts literals with enc.
func New(enc *fhe.Encryptor, opts Options) *Encoder {
	if opts.IDs == nil {
		opts.IDs = program.UUIDv7Generator{}
	}
	return &Encoder{enc: enc, opts: opts}
}

// Encode lowers a parsed statement using the client key.
func Encode(stmt sqlparser.Statement, key *fhe.ClientKey, opts Options) (*program.Program, error) {
	return New(fhe.NewEncryptor(key), opts).Encode(stmt)
}

// EncodeSQL parses and lowers SQL text.
func (e *Encoder) EncodeSQL(text string) (prog *program.Program, err error) {
	defer func() { metrics.ObserveQuery(metrics.StageEncode, err) }()

	stmt, err := querysql.Parse(text)
	if err != nil {
		return nil, err
	}
	return e.Encode(stmt)
}

// Encode lowers a parsed statement. Constructs outside
// SELECT <cols> FROM <table> [WHERE <predicate>] fail with UNSUPPORTED_QUERY.
func (e *Encoder) Encode(stmt sqlparser.Statement) (*program.Program, error) {
	q, err := querysql.Compile(stmt)
	if err != nil {
		return nil, err
	}
	return e.EncodeQuery(q)
}

// EncodeQuery lowers a compiled query.
func (e *Encoder) EncodeQuery(q *queryir.Select) (*program.Program, error) {
	if res := queryir.Validate(q); !res.IsValid {
		return nil, qerr.Unsupported("%s", strings.Join(res.Problems, "; "))
	}

	l := &lowering{enc: e.enc, catalog: e.opts.Catalog != nil}
	if e.opts.Catalog != nil {
		l.table, _ = e.opts.Catalog.Lookup(q.From)
	}

	p := &program.Program{
		ID:       e.opts.IDs.Generate(),
		Table:    q.From,
		Wildcard: q.Star,
		Kind:     e.opts.Kind,
	}
	for _, name := range q.Columns {
		p.Columns = append(p.Columns, schema.Column{Name: name, Type: l.columnType(name)})
	}

	if q.Filter != nil {
		if err := l.predicate(q.Filter); err != nil {
			return nil, err
		}
		p.Predicate = l.out
	}

	slog.Debug("query encoded",
		"query_id", p.ID,
		"table", p.Table,
		"tokens", len(p.Predicate),
		"catalog", l.table != nil,
	)
	return p, nil
}

// lowering accumulates postfix tokens for one query.
type lowering struct {
	enc     *fhe.Encryptor
	table   *schema.Table // nil when the schema is unknown
	catalog bool
	out     []program.Token
}

func (l *lowering) emit(tokens ...program.Token) {
	l.out = append(l.out, tokens...)
}

func (l *lowering) columnType(name string) schema.ColumnType {
	if l.table == nil {
		return schema.ColumnType{}
	}
	c, _, ok := l.table.Lookup(name)
	if !ok {
		return schema.ColumnType{}
	}
	return c.Type
}

func (l *lowering) predicate(p queryir.Predicate) error {
	switch pred := p.(type) {
	case queryir.Compare:
		return l.compare(pred)
	case *queryir.Compare:
		return l.compare(*pred)

	case queryir.In:
		return l.in(pred)
	case *queryir.In:
		return l.in(*pred)

	case queryir.Between:
		return l.between(pred)
	case *queryir.Between:
		return l.between(*pred)

	case queryir.IsTrue:
		return l.compare(queryir.Compare{
			Op:    queryir.OpEq,
			Left:  pred.Operand,
			Right: queryir.Literal{Value: schema.BoolValue(true)},
		})
	case *queryir.IsTrue:
		return l.predicate(*pred)

	case queryir.Not:
		if err := l.predicate(pred.Predicate); err != nil {
			return err
		}
		l.emit(program.Operator(program.OpNot))
		return nil
	case *queryir.Not:
		return l.predicate(*pred)

	case queryir.And:
		return l.junction(pred.Predicates, program.OpAnd)
	case *queryir.And:
		return l.predicate(*pred)

	case queryir.Or:
		return l.junction(pred.Predicates, program.OpOr)
	case *queryir.Or:
		return l.predicate(*pred)
	}
	return qerr.Unsupported("unsupported predicate %T", p)
}

// junction emits p1 p2 op p3 op ... so members combine left to right.
func (l *lowering) junction(preds []queryir.Predicate, op program.OperatorKind) error {
	for i, p := range preds {
		if err := l.predicate(p); err != nil {
			return err
		}
		if i > 0 {
			l.emit(program.Operator(op))
		}
	}
	return nil
}

func (l *lowering) compare(c queryir.Compare) error {
	switch c.Op {
	case queryir.OpEq:
		return l.binary(c.Left, c.Right, program.OpEq)
	case queryir.OpNeq:
		return l.binary(c.Left, c.Right, program.OpNeq)
	case queryir.OpLt:
		return l.binary(c.Left, c.Right, program.OpLt)
	case queryir.OpGt:
		return l.binary(c.Left, c.Right, program.OpGt)
	case queryir.OpLe:
		return l.negated(c.Left, c.Right, program.OpGt)
	case queryir.OpGe:
		return l.negated(c.Left, c.Right, program.OpLt)
	}
	return qerr.Unsupported("unsupported comparison operator %s", c.Op)
}

// binary emits left right op. Each literal is typed against the other side.
func (l *lowering) binary(left, right queryir.Operand, op program.OperatorKind) error {
	if err := l.operand(left, right); err != nil {
		return err
	}
	if err := l.operand(right, left); err != nil {
		return err
	}
	l.emit(program.Operator(op))
	return nil
}

func (l *lowering) negated(left, right queryir.Operand, op program.OperatorKind) error {
	if err := l.binary(left, right, op); err != nil {
		return err
	}
	l.emit(program.Operator(program.OpNot))
	return nil
}

func (l *lowering) in(in queryir.In) error {
	for i, item := range in.List {
		if err := l.binary(in.Expr, item, program.OpEq); err != nil {
			return err
		}
		if i > 0 {
			l.emit(program.Operator(program.OpOr))
		}
	}
	return nil
}

func (l *lowering) between(b queryir.Between) error {
	if err := l.negated(b.Expr, b.Lo, program.OpLt); err != nil {
		return err
	}
	if err := l.negated(b.Expr, b.Hi, program.OpGt); err != nil {
		return err
	}
	l.emit(program.Operator(program.OpAnd))
	return nil
}

// operand emits o. partner is the operand it is compared with; when o is
// a literal and partner a column of known type that o fits, o is
// encrypted at that type.
func (l *lowering) operand(o, partner queryir.Operand) error {
	switch op := o.(type) {
	case queryir.Column:
		l.emit(program.ColumnRef(op.Name, l.columnType(op.Name)))
		return nil
	case *queryir.Column:
		return l.operand(*op, partner)
	case queryir.Literal:
		t, err := l.literalType(op.Value, partner)
		if err != nil {
			return err
		}
		ct, err := l.enc.Encrypt(op.Value, t)
		if err != nil {
			if txt, ok := op.Value.(schema.TextValue); ok && len(txt) > schema.MaxTextBytes {
				return qerr.CapacityExceeded("", len(txt), schema.MaxTextBytes,
					"string literal is %d bytes, limit is %d", len(txt), schema.MaxTextBytes)
			}
			return fmt.Errorf("encrypt literal %s: %w", op.Value, err)
		}
		l.emit(program.Literal(ct, t))
		return nil
	case *queryir.Literal:
		return l.operand(*op, partner)
	}
	return qerr.Unsupported("unsupported operand %T", o)
}

// literalType picks the type v is encrypted at. An integer compared with a
// column needs the catalog: offset-binary lanes of different widths cannot
// be compared, so a natural-width guess would fail or mislead at the
// evaluator.
func (l *lowering) literalType(v schema.Value, partner queryir.Operand) (schema.ColumnType, error) {
	var name string
	switch p := partner.(type) {
	case queryir.Column:
		name = p.Name
	case *queryir.Column:
		name = p.Name
	}
	natural := schema.NaturalType(v)
	if name == "" {
		return natural, nil
	}
	if !l.catalog && natural.IsInteger() {
		return schema.ColumnType{}, qerr.Unsupported(
			"comparing column %s with integer literal %s needs the table catalog", name, v)
	}
	if t := l.columnType(name); !t.IsZero() && schema.Fits(v, t) {
		return t, nil
	}
	return natural, nil
}
