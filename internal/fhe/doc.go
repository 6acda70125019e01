// Package fhe wraps the BGV scheme of lattigo (run in scale-invariant, BFV
// mode) into the cell encoding and boolean/comparison circuits used by the
// encrypted query pipeline.
//
// # Cell layout
//
// Every table cell and every query literal is one ciphertext. Its value
// occupies the first LaneWidth slots of the first row of the plaintext
// matrix, one bit per slot, least significant bit first:
//
//	UnsignedInt(w)  slots 0..w-1   bits of v
//	SignedInt(w)    slots 0..w-1   bits of v + 2^(w-1) (offset binary)
//	Boolean         slot 0         0 or 1
//	Text            slots 0..63    bits of the blake3 fingerprint
//	                slots 64..127  payload bytes, zero padded
//
// Offset binary makes signed order coincide with unsigned order, so the
// same comparison circuit serves both.
//
// # Circuits
//
// All circuits are arithmetic over the plaintext modulus and leave their
// boolean answer in slot 0:
//
//	XNOR(a,b) = 1 - (a + b - 2ab)
//	Eq        = suffix product of XNOR over w slots
//	Lt(a,b)   = sum_j (1-a_j) b_j prod_{k>j} XNOR_k
//	And = ab, Or = a + b - ab, Not = 1 - a
//
// Suffix products and sums use log2(w) rotate-and-combine steps. The
// selector is isolated in slot 0 with a plaintext mask and broadcast over
// the lane before it multiplies projected cells.
//
// Every circuit performs the same sequence of operations for every input
// of the same type, which is what makes row evaluation oblivious. A
// Recorder attached to an Evaluator observes that sequence.
package fhe
