// Package store provides SQLite-backed storage for encrypted tables.
//
// The store holds:
//   - Tables: names, unique without regard to case
//   - Columns: ordered, typed column metadata (plaintext)
//   - Rows: one encrypted cell per column, kept in insertion order
//   - Meta: the FHE preset the cells were encrypted under
//
// The server only ever sees schemas and ciphertexts. Values are encrypted
// with the client key before they reach the store.
//
// # Ordering
//
// Rows carry a per-table seq assigned at insert time. Every read orders by
// seq ASC, so an evaluation visits rows in the same order every time and
// result tuples line up with store order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Dropping a table drops its columns and rows
//
// The store is read-only while an evaluation runs; loads and evaluations
// are not interleaved on one table.
package store
