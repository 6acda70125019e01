package fhe

import (
	"fmt"
	"sort"

	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// LaneWidth is the number of slots a cell occupies.
const LaneWidth = 128

// PlaintextModulus is prime and 1 mod 2N for every preset, so all slots
// are available for batching.
const PlaintextModulus = 65537

// Preset names.
const (
	PresetTest    = "test"
	PresetDefault = "default"
	PresetLarge   = "large"
)

// preset pairs a parameter literal with the multiplicative depth it was
// sized for.
type preset struct {
	literal  bgv.ParametersLiteral
	maxDepth int
}

var presets = map[string]preset{
	// Insecure ring degree. Fast enough for unit tests.
	PresetTest: {
		literal: bgv.ParametersLiteral{
			LogN:             12,
			LogQ:             []int{60, 60, 60, 60, 60, 60, 60, 60},
			LogP:             []int{61, 61},
			PlaintextModulus: PlaintextModulus,
		},
		maxDepth: 12,
	},
	// 128-bit security for LogQP <= 438.
	PresetDefault: {
		literal: bgv.ParametersLiteral{
			LogN:             14,
			LogQ:             []int{60, 60, 60, 60, 60, 60},
			LogP:             []int{61},
			PlaintextModulus: PlaintextModulus,
		},
		maxDepth: 10,
	},
	// 128-bit security for LogQP <= 881.
	PresetLarge: {
		literal: bgv.ParametersLiteral{
			LogN:             15,
			LogQ:             []int{60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60},
			LogP:             []int{61, 61},
			PlaintextModulus: PlaintextModulus,
		},
		maxDepth: 20,
	},
}

// Presets returns the known preset names in sorted order.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parameters is a named BGV parameter set together with the depth budget
// the evaluator may spend on one row.
type Parameters struct {
	preset   string
	maxDepth int
	bgv      bgv.Parameters
}

// NewParameters instantiates the named preset.
func NewParameters(name string) (Parameters, error) {
	p, ok := presets[name]
	if !ok {
		return Parameters{}, fmt.Errorf("unknown parameter preset %q (known: %v)", name, Presets())
	}
	params, err := bgv.NewParametersFromLiteral(p.literal)
	if err != nil {
		return Parameters{}, fmt.Errorf("instantiate preset %q: %w", name, err)
	}
	if params.N()/2 < LaneWidth {
		return Parameters{}, fmt.Errorf("preset %q: ring degree %d too small for lane width %d", name, params.N(), LaneWidth)
	}
	return Parameters{preset: name, maxDepth: p.maxDepth, bgv: params}, nil
}

// Preset returns the preset name.
func (p Parameters) Preset() string { return p.preset }

// MaxDepth returns the multiplicative depth budget for one row.
func (p Parameters) MaxDepth() int { return p.maxDepth }

// Slots returns the number of plaintext slots.
func (p Parameters) Slots() int { return p.bgv.N() }

// LogN returns the log2 of the ring degree.
func (p Parameters) LogN() int { return p.bgv.LogN() }

// BGV returns the underlying lattigo parameters.
func (p Parameters) BGV() bgv.Parameters { return p.bgv }

// rotations lists the column rotations the circuits need: left shifts for
// suffix products and reductions, right shifts for the selector broadcast.
func rotations() []int {
	var ks []int
	for k := 1; k < LaneWidth; k <<= 1 {
		ks = append(ks, k, -k)
	}
	return ks
}
