package fhe

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
	"golang.org/x/text/unicode/norm"
)

// fingerprintDomain separates text fingerprints from any other use of the hash.
const fingerprintDomain = "encsql/text-fingerprint/v1\x00"

// Fingerprint returns the 64-bit equality fingerprint of s.
// Inputs are NFC-normalised first, so canonically equivalent strings match.
func Fingerprint(s string) uint64 {
	h := blake3.New()
	_, _ = h.Write([]byte(fingerprintDomain))
	_, _ = h.Write([]byte(norm.NFC.String(s)))
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}
