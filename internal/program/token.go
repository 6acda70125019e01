package program

import (
	"fmt"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// TokenKind distinguishes the three token shapes of a predicate program.
type TokenKind uint8

const (
	// TokenLiteral is an encrypted constant supplied by the client.
	TokenLiteral TokenKind = iota + 1

	// TokenColumn references a column of the source table. The evaluator
	// substitutes the row's ciphertext for it.
	TokenColumn

	// TokenOperator pops its operands and pushes one result.
	TokenOperator
)

// OperatorKind enumerates the operators a program may contain.
type OperatorKind uint8

const (
	OpEq OperatorKind = iota + 1
	OpNeq
	OpLt
	OpGt
	OpBetween
	OpIn
	OpAnd
	OpOr
	OpNot
)

var operatorNames = map[OperatorKind]string{
	OpEq:      "Eq",
	OpNeq:     "Neq",
	OpLt:      "Lt",
	OpGt:      "Gt",
	OpBetween: "Between",
	OpIn:      "In",
	OpAnd:     "And",
	OpOr:      "Or",
	OpNot:     "Not",
}

// String returns the operator name.
func (k OperatorKind) String() string {
	if s, ok := operatorNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", uint8(k))
}

// Valid reports whether k is a known operator.
func (k OperatorKind) Valid() bool {
	_, ok := operatorNames[k]
	return ok
}

// Arity returns the number of operands k pops. In has no fixed arity and
// returns -1; the encoder lowers IN lists to Eq and Or before emitting.
func (k OperatorKind) Arity() int {
	switch k {
	case OpNot:
		return 1
	case OpEq, OpNeq, OpLt, OpGt, OpAnd, OpOr:
		return 2
	case OpBetween:
		return 3
	}
	return -1
}

// Token is one element of a postfix predicate program.
//
// Literal tokens carry Ciphertext and the Type the literal was encrypted
// at. Column tokens carry Column and an optional declared Type (zero when
// the client did not know the table schema). Operator tokens carry Op.
type Token struct {
	Kind       TokenKind
	Type       schema.ColumnType
	Column     string
	Ciphertext *fhe.Ciphertext
	Op         OperatorKind
}

// Literal returns a literal token.
func Literal(ct *fhe.Ciphertext, t schema.ColumnType) Token {
	return Token{Kind: TokenLiteral, Type: t, Ciphertext: ct}
}

// ColumnRef returns a column reference token.
func ColumnRef(name string, t schema.ColumnType) Token {
	return Token{Kind: TokenColumn, Type: t, Column: name}
}

// Operator returns an operator token.
func Operator(op OperatorKind) Token {
	return Token{Kind: TokenOperator, Op: op}
}

// String renders the token without ciphertext material.
func (t Token) String() string {
	switch t.Kind {
	case TokenLiteral:
		return "lit " + t.Type.String()
	case TokenColumn:
		if t.Type.IsZero() {
			return "col " + t.Column
		}
		return "col " + t.Column + " " + t.Type.String()
	case TokenOperator:
		return "op " + t.Op.String()
	}
	return "invalid"
}
