// Package schema defines the typed data model shared by every stage of the
// encrypted query pipeline.
//
// This package contains type definitions only. All other internal packages
// import schema; schema imports nothing internal.
//
// Key design constraints:
//   - Four column kinds: SignedInt, UnsignedInt, Boolean, Text
//   - Integer widths are 8, 16, 32 or 64 bits; Boolean is 1 bit
//   - Text is NFC-normalised at construction and limited to MaxTextBytes
//   - No floats and no NULLs; every row has a value for every column
package schema
