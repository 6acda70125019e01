// Package qerr defines the structured, recoverable errors raised by the
// encrypted query pipeline.
//
// Every failure the encoder, evaluator or decoder reports to a caller is a
// *Error carrying a Code. Callers branch on the code with the IsXxx helpers,
// which use errors.As and therefore see through %w wrapping.
package qerr

import (
	"errors"
	"fmt"
)

// Error represents a query pipeline failure.
//
// None of these errors are fatal to a long-running process: the failed
// query yields no result and the caller may re-issue it after correcting
// the cause.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Table names the table involved, if any.
	Table string

	// Column names the column involved, if any.
	Column string

	// Details contains additional context.
	Details map[string]string
}

// Code categorizes pipeline errors.
type Code string

const (
	// CodeUnsupportedQuery indicates the encoder cannot lower a construct.
	CodeUnsupportedQuery Code = "UNSUPPORTED_QUERY"

	// CodeSchemaMismatch indicates a referenced column is absent or has an
	// incompatible type.
	CodeSchemaMismatch Code = "SCHEMA_MISMATCH"

	// CodeTableNotFound indicates the source table does not resolve.
	CodeTableNotFound Code = "TABLE_NOT_FOUND"

	// CodeCapacityExceeded indicates an operand or circuit does not fit the
	// ciphertext widths or the parameter set's depth budget.
	CodeCapacityExceeded Code = "CAPACITY_EXCEEDED"

	// CodeDecryptionLengthMismatch indicates a malformed encrypted result.
	CodeDecryptionLengthMismatch Code = "DECRYPTION_LENGTH_MISMATCH"

	// CodeMalformedProgram indicates a predicate program that violates
	// operator arity or the wire format.
	CodeMalformedProgram Code = "MALFORMED_PROGRAM"

	// CodeParseError indicates the SQL text could not be parsed.
	CodeParseError Code = "PARSE_ERROR"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Table != "" && e.Column != "":
		return fmt.Sprintf("%s: %s (table=%s, column=%s)", e.Code, e.Message, e.Table, e.Column)
	case e.Table != "":
		return fmt.Sprintf("%s: %s (table=%s)", e.Code, e.Message, e.Table)
	case e.Column != "":
		return fmt.Sprintf("%s: %s (column=%s)", e.Code, e.Message, e.Column)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}

// IsUnsupportedQuery returns true if err is an unsupported query error.
func IsUnsupportedQuery(err error) bool { return CodeOf(err) == CodeUnsupportedQuery }

// IsSchemaMismatch returns true if err is a schema mismatch error.
func IsSchemaMismatch(err error) bool { return CodeOf(err) == CodeSchemaMismatch }

// IsTableNotFound returns true if err is a table not found error.
func IsTableNotFound(err error) bool { return CodeOf(err) == CodeTableNotFound }

// IsCapacityExceeded returns true if err is a capacity exceeded error.
func IsCapacityExceeded(err error) bool { return CodeOf(err) == CodeCapacityExceeded }

// IsDecryptionLengthMismatch returns true if err is a decryption length mismatch error.
func IsDecryptionLengthMismatch(err error) bool {
	return CodeOf(err) == CodeDecryptionLengthMismatch
}

// IsMalformedProgram returns true if err is a malformed program error.
func IsMalformedProgram(err error) bool { return CodeOf(err) == CodeMalformedProgram }

// IsParseError returns true if err is a SQL parse error.
func IsParseError(err error) bool { return CodeOf(err) == CodeParseError }

// Unsupported creates an Error for a construct the encoder cannot lower.
func Unsupported(format string, args ...any) *Error {
	return &Error{Code: CodeUnsupportedQuery, Message: fmt.Sprintf(format, args...)}
}

// SchemaMismatch creates an Error for an unresolvable or mistyped column.
func SchemaMismatch(table, column, format string, args ...any) *Error {
	return &Error{
		Code:    CodeSchemaMismatch,
		Message: fmt.Sprintf(format, args...),
		Table:   table,
		Column:  column,
	}
}

// TableNotFound creates an Error for a table that does not resolve.
func TableNotFound(table string) *Error {
	return &Error{
		Code:    CodeTableNotFound,
		Message: "table does not exist",
		Table:   table,
	}
}

// CapacityExceeded creates an Error for an operand or circuit that does not
// fit. Details carries the limit and the requested amount.
func CapacityExceeded(column string, requested, limit int, format string, args ...any) *Error {
	return &Error{
		Code:    CodeCapacityExceeded,
		Message: fmt.Sprintf(format, args...),
		Column:  column,
		Details: map[string]string{
			"requested": fmt.Sprintf("%d", requested),
			"limit":     fmt.Sprintf("%d", limit),
		},
	}
}

// DecryptionLengthMismatch creates an Error for a result whose ciphertext
// count is not a multiple of the tuple width.
func DecryptionLengthMismatch(count, width int) *Error {
	return &Error{
		Code:    CodeDecryptionLengthMismatch,
		Message: fmt.Sprintf("%d ciphertexts is not a multiple of tuple width %d", count, width),
		Details: map[string]string{
			"count": fmt.Sprintf("%d", count),
			"width": fmt.Sprintf("%d", width),
		},
	}
}

// Malformed creates an Error for a program that cannot be evaluated or decoded.
func Malformed(format string, args ...any) *Error {
	return &Error{Code: CodeMalformedProgram, Message: fmt.Sprintf(format, args...)}
}

// Parse creates an Error wrapping a SQL parser failure.
func Parse(err error) *Error {
	return &Error{Code: CodeParseError, Message: err.Error()}
}
