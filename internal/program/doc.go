// Package program defines the predicate program sent from client to
// server and the encrypted result sent back, together with their wire
// encoding.
//
// A program is the query header (table, projection, projection kind) in
// the clear plus the WHERE clause as a postfix token list. Literal tokens
// carry ciphertexts; column tokens carry names; operator tokens carry an
// OperatorKind of fixed arity.
//
// A result is a flat ciphertext list laid out per row as
// (selector, masked_1, ..., masked_k). No row is ever omitted.
package program
