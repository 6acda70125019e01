// Package queryir provides the abstract query intermediate representation
// (IR) that sits between the SQL parser and the query encoder.
//
// ARCHITECTURE:
//
//	[SQL text] → [sqlparser AST] → [Query IR] → [Predicate Program]
//	                  querysql         queryir       encoder
//
// The IR is the supported fragment of SQL: a single-table SELECT with an
// optional WHERE predicate built from comparisons, IN, BETWEEN, NOT, AND
// and OR over columns and literals. Anything the parser accepts outside
// this fragment is rejected by querysql before an IR value exists.
//
// SEALED INTERFACES:
//
// Query, Predicate and Operand are sealed interfaces using the marker
// method pattern. Only types in this package implement them, which gives
// the encoder and Eval exhaustive type switches:
//
//	switch p := pred.(type) {
//	case Compare:
//	case In:
//	case Between:
//	case IsTrue:
//	case Not, And, Or:
//	}
//
// PLAINTEXT REFERENCE:
//
// Eval evaluates a predicate over a plaintext row. Tests and the check
// command compare the decoded output of the encrypted pipeline with it.
package queryir
