package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Value is a sealed interface representing a plaintext cell value.
// Only IntValue, UintValue, BoolValue and TextValue implement it.
type Value interface {
	value() // Sealed - only these types implement it
	String() string
}

// IntValue is a signed integer cell value.
type IntValue int64

func (IntValue) value() {}

func (v IntValue) String() string { return strconv.FormatInt(int64(v), 10) }

// UintValue is an unsigned integer cell value.
type UintValue uint64

func (UintValue) value() {}

func (v UintValue) String() string { return strconv.FormatUint(uint64(v), 10) }

// BoolValue is a boolean cell value.
type BoolValue bool

func (BoolValue) value() {}

func (v BoolValue) String() string { return strconv.FormatBool(bool(v)) }

// TextValue is a text cell value. Always NFC-normalised; use NewText.
type TextValue string

func (TextValue) value() {}

func (v TextValue) String() string { return string(v) }

// NewText creates a TextValue in NFC form.
func NewText(s string) TextValue {
	return TextValue(norm.NFC.String(s))
}

// NaturalType returns the narrowest column type that holds v.
// Non-negative integers are unsigned; negative ones are signed.
func NaturalType(v Value) ColumnType {
	switch v := v.(type) {
	case IntValue:
		if v >= 0 {
			return Uint(unsignedWidth(uint64(v)))
		}
		return Int(signedWidth(int64(v)))
	case UintValue:
		return Uint(unsignedWidth(uint64(v)))
	case BoolValue:
		return Bool
	case TextValue:
		return Str
	}
	return ColumnType{}
}

func unsignedWidth(v uint64) int {
	for _, w := range []int{8, 16, 32} {
		if v <= 1<<w-1 {
			return w
		}
	}
	return 64
}

func signedWidth(v int64) int {
	for _, w := range []int{8, 16, 32} {
		if v >= -(1<<(w-1)) && v <= 1<<(w-1)-1 {
			return w
		}
	}
	return 64
}

// Fits reports whether v is representable at type t without loss.
func Fits(v Value, t ColumnType) bool {
	switch v := v.(type) {
	case IntValue:
		switch t.Kind {
		case KindSignedInt:
			return t.Width == 64 || (int64(v) >= -(1<<(t.Width-1)) && int64(v) <= 1<<(t.Width-1)-1)
		case KindUnsignedInt:
			return v >= 0 && (t.Width == 64 || uint64(v) <= 1<<t.Width-1)
		}
	case UintValue:
		switch t.Kind {
		case KindUnsignedInt:
			return t.Width == 64 || uint64(v) <= 1<<t.Width-1
		case KindSignedInt:
			return uint64(v) <= 1<<(t.Width-1)-1
		}
	case BoolValue:
		return t.Kind == KindBoolean
	case TextValue:
		return t.Kind == KindText && len(v) <= MaxTextBytes
	}
	return false
}

// Coerce converts v to the Go representation of type t.
// Integers switch between IntValue and UintValue as t requires.
// It fails when v does not fit t.
func Coerce(v Value, t ColumnType) (Value, error) {
	if !Fits(v, t) {
		return nil, fmt.Errorf("value %s does not fit %s", v, t)
	}
	switch v := v.(type) {
	case IntValue:
		if t.Kind == KindUnsignedInt {
			return UintValue(v), nil
		}
	case UintValue:
		if t.Kind == KindSignedInt {
			return IntValue(v), nil
		}
	}
	return v, nil
}

// ParseValue parses the textual form of a cell (as found in CSV files) at type t.
func ParseValue(s string, t ColumnType) (Value, error) {
	switch t.Kind {
	case KindSignedInt:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, t.Width)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", t, err)
		}
		return IntValue(n), nil
	case KindUnsignedInt:
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, t.Width)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", t, err)
		}
		return UintValue(n), nil
	case KindBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("parse bool: %w", err)
		}
		return BoolValue(b), nil
	case KindText:
		txt := NewText(s)
		if len(txt) > MaxTextBytes {
			return nil, fmt.Errorf("text value is %d bytes, limit is %d", len(txt), MaxTextBytes)
		}
		return txt, nil
	}
	return nil, fmt.Errorf("cannot parse value of type %s", t)
}

// Equal compares two values by kind and content.
// IntValue and UintValue compare numerically.
func Equal(a, b Value) bool {
	c, ok := Compare(a, b)
	return ok && c == 0
}

// Compare orders two values of compatible kinds.
// ok is false when the kinds are not comparable.
func Compare(a, b Value) (c int, ok bool) {
	switch a := a.(type) {
	case IntValue, UintValue:
		ai, aNeg := integer(a)
		bi, bNeg, isInt := asInteger(b)
		if !isInt {
			return 0, false
		}
		return compareInts(ai, aNeg, bi, bNeg), true
	case BoolValue:
		bb, isBool := b.(BoolValue)
		if !isBool {
			return 0, false
		}
		switch {
		case a == bb:
			return 0, true
		case !bool(a):
			return -1, true
		}
		return 1, true
	case TextValue:
		bt, isText := b.(TextValue)
		if !isText {
			return 0, false
		}
		return strings.Compare(string(a), string(bt)), true
	}
	return 0, false
}

// integer returns the magnitude and sign of an integer value.
func integer(v Value) (uint64, bool) {
	switch v := v.(type) {
	case IntValue:
		if v < 0 {
			if v == math.MinInt64 {
				return 1 << 63, true
			}
			return uint64(-v), true
		}
		return uint64(v), false
	case UintValue:
		return uint64(v), false
	}
	return 0, false
}

func asInteger(v Value) (uint64, bool, bool) {
	switch v.(type) {
	case IntValue, UintValue:
		m, neg := integer(v)
		return m, neg, true
	}
	return 0, false, false
}

func compareInts(a uint64, aNeg bool, b uint64, bNeg bool) int {
	switch {
	case aNeg && !bNeg:
		return -1
	case !aNeg && bNeg:
		return 1
	case aNeg && bNeg:
		return cmpUint(b, a)
	}
	return cmpUint(a, b)
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
