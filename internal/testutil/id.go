package testutil

// DefaultQueryID is returned by a FixedIDGenerator created with an empty id.
const DefaultQueryID = "00000000-0000-7000-8000-000000000000"

// FixedIDGenerator generates the same query ID every time.
//
// This enables deterministic test execution and golden snapshot comparison.
// The same scenario with the same FixedIDGenerator produces byte-identical
// program dumps.
//
// Unlike program.FixedGenerator which returns IDs in sequence, this generator
// always returns the same ID.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a new fixed query ID generator.
//
// The ID is typically set in the scenario YAML:
//
//	query_id: "00000000-0000-7000-8000-000000000001"
//
// If id is empty, Generate() returns DefaultQueryID.
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = DefaultQueryID
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed query ID.
//
// Implements program.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
