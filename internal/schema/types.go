package schema

import (
	"fmt"
	"strings"
)

// Kind is the family of a column type.
type Kind uint8

const (
	// KindUnknown is the zero kind. Column references whose type the
	// client did not know are sent with it and resolved server-side.
	KindUnknown Kind = iota
	KindSignedInt
	KindUnsignedInt
	KindBoolean
	KindText
)

// MaxTextBytes is the longest text value a cell can hold.
const MaxTextBytes = 64

// TextWidth is the comparison width of a text cell (its fingerprint).
const TextWidth = 64

// ColumnType is a tagged variant over the supported column encodings.
// Width is only meaningful for integer kinds; Boolean is always 1.
type ColumnType struct {
	Kind  Kind
	Width int
}

// Convenience constructors.
var (
	Bool = ColumnType{Kind: KindBoolean, Width: 1}
	Str  = ColumnType{Kind: KindText, Width: TextWidth}
)

// Int returns a signed integer type of the given width.
func Int(width int) ColumnType { return ColumnType{Kind: KindSignedInt, Width: width} }

// Uint returns an unsigned integer type of the given width.
func Uint(width int) ColumnType { return ColumnType{Kind: KindUnsignedInt, Width: width} }

// IsZero reports whether the type is unset.
func (t ColumnType) IsZero() bool { return t.Kind == KindUnknown }

// IsInteger reports whether the type is a signed or unsigned integer.
func (t ColumnType) IsInteger() bool {
	return t.Kind == KindSignedInt || t.Kind == KindUnsignedInt
}

// Valid reports whether the type is a well-formed column type.
func (t ColumnType) Valid() bool {
	switch t.Kind {
	case KindSignedInt, KindUnsignedInt:
		return validWidth(t.Width)
	case KindBoolean:
		return t.Width == 1
	case KindText:
		return t.Width == TextWidth
	}
	return false
}

func validWidth(w int) bool {
	return w == 8 || w == 16 || w == 32 || w == 64
}

// String returns the canonical type name (e.g. "uint8", "bool", "string").
func (t ColumnType) String() string {
	switch t.Kind {
	case KindSignedInt:
		return fmt.Sprintf("int%d", t.Width)
	case KindUnsignedInt:
		return fmt.Sprintf("uint%d", t.Width)
	case KindBoolean:
		return "bool"
	case KindText:
		return "string"
	}
	return "unknown"
}

// ParseType parses a type name as written in CSV headers and catalogs.
// Accepted: int8..int64, uint8..uint64, bool, boolean, string, text.
func ParseType(name string) (ColumnType, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	switch s {
	case "bool", "boolean":
		return Bool, nil
	case "string", "text":
		return Str, nil
	}

	var t ColumnType
	var rest string
	switch {
	case strings.HasPrefix(s, "uint"):
		t.Kind, rest = KindUnsignedInt, strings.TrimPrefix(s, "uint")
	case strings.HasPrefix(s, "int"):
		t.Kind, rest = KindSignedInt, strings.TrimPrefix(s, "int")
	default:
		return ColumnType{}, fmt.Errorf("unknown column type %q", name)
	}

	switch rest {
	case "8":
		t.Width = 8
	case "16":
		t.Width = 16
	case "32":
		t.Width = 32
	case "64":
		t.Width = 64
	default:
		return ColumnType{}, fmt.Errorf("unsupported integer width in %q", name)
	}
	return t, nil
}

// MarshalBinary encodes the type as two bytes: kind, width.
func (t ColumnType) MarshalBinary() ([]byte, error) {
	return []byte{byte(t.Kind), byte(t.Width)}, nil
}

// UnmarshalBinary decodes a type written by MarshalBinary.
// A zero type is accepted; any other value must be Valid.
func (t *ColumnType) UnmarshalBinary(b []byte) error {
	if len(b) != 2 {
		return fmt.Errorf("column type: want 2 bytes, got %d", len(b))
	}
	ct := ColumnType{Kind: Kind(b[0]), Width: int(b[1])}
	if !ct.IsZero() && !ct.Valid() {
		return fmt.Errorf("column type: invalid kind=%d width=%d", b[0], b[1])
	}
	*t = ct
	return nil
}

// MarshalText implements encoding.TextMarshaler (used by JSON/YAML output).
func (t ColumnType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ColumnType) UnmarshalText(b []byte) error {
	ct, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = ct
	return nil
}
