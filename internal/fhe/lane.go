package fhe

import (
	"fmt"

	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// payloadOffset is the first slot of a text cell's payload bytes.
const payloadOffset = schema.TextWidth

// EncodeLane lays out v at type t into a slot vector of length n.
// v must fit t (see schema.Fits).
func EncodeLane(v schema.Value, t schema.ColumnType, n int) ([]uint64, error) {
	if n < LaneWidth {
		return nil, fmt.Errorf("slot vector of %d is shorter than lane width %d", n, LaneWidth)
	}
	if !t.Valid() {
		return nil, fmt.Errorf("cannot encode at invalid type %s", t)
	}
	cv, err := schema.Coerce(v, t)
	if err != nil {
		return nil, err
	}

	slots := make([]uint64, n)
	switch t.Kind {
	case schema.KindUnsignedInt:
		putBits(slots, uint64(cv.(schema.UintValue)), t.Width)
	case schema.KindSignedInt:
		putBits(slots, offsetBinary(int64(cv.(schema.IntValue)), t.Width), t.Width)
	case schema.KindBoolean:
		if cv.(schema.BoolValue) {
			slots[0] = 1
		}
	case schema.KindText:
		s := string(cv.(schema.TextValue))
		putBits(slots, Fingerprint(s), schema.TextWidth)
		for i := 0; i < len(s); i++ {
			slots[payloadOffset+i] = uint64(s[i])
		}
	}
	return slots, nil
}

// DecodeLane reads a value of type t back out of a decrypted slot vector.
// Slots that are not valid bits (or bytes, for text payloads) indicate the
// ciphertext noise overflowed and are reported as an error.
func DecodeLane(slots []uint64, t schema.ColumnType) (schema.Value, error) {
	if len(slots) < LaneWidth {
		return nil, fmt.Errorf("slot vector of %d is shorter than lane width %d", len(slots), LaneWidth)
	}
	switch t.Kind {
	case schema.KindUnsignedInt:
		u, err := getBits(slots, t.Width)
		if err != nil {
			return nil, err
		}
		return schema.UintValue(u), nil
	case schema.KindSignedInt:
		u, err := getBits(slots, t.Width)
		if err != nil {
			return nil, err
		}
		return schema.IntValue(fromOffsetBinary(u, t.Width)), nil
	case schema.KindBoolean:
		b, err := bit(slots[0])
		if err != nil {
			return nil, err
		}
		return schema.BoolValue(b == 1), nil
	case schema.KindText:
		buf := make([]byte, 0, schema.MaxTextBytes)
		for i := payloadOffset; i < LaneWidth; i++ {
			if slots[i] > 0xFF {
				return nil, fmt.Errorf("slot %d holds %d, not a byte", i, slots[i])
			}
			if slots[i] == 0 {
				break
			}
			buf = append(buf, byte(slots[i]))
		}
		return schema.TextValue(buf), nil
	}
	return nil, fmt.Errorf("cannot decode at type %s", t)
}

// LaneInteger returns the raw unsigned integer held in the first w slots
// without interpreting offset binary. The decoder uses it to sum masked
// cells before removing the signed offset.
func LaneInteger(slots []uint64, w int) (uint64, error) {
	return getBits(slots, w)
}

// SignedOffset returns the offset added to signed values of width w.
func SignedOffset(w int) uint64 {
	return 1 << (w - 1)
}

func putBits(slots []uint64, v uint64, w int) {
	for j := 0; j < w; j++ {
		slots[j] = (v >> j) & 1
	}
}

func getBits(slots []uint64, w int) (uint64, error) {
	var v uint64
	for j := 0; j < w; j++ {
		b, err := bit(slots[j])
		if err != nil {
			return 0, fmt.Errorf("slot %d: %w", j, err)
		}
		v |= b << j
	}
	return v, nil
}

func bit(s uint64) (uint64, error) {
	if s > 1 {
		return 0, fmt.Errorf("value %d is not a bit", s)
	}
	return s, nil
}

// offsetBinary maps a signed w-bit value to v + 2^(w-1) mod 2^w.
func offsetBinary(v int64, w int) uint64 {
	u := uint64(v) + SignedOffset(w)
	if w < 64 {
		u &= 1<<w - 1
	}
	return u
}

func fromOffsetBinary(u uint64, w int) int64 {
	if w == 64 {
		return int64(u ^ 1<<63)
	}
	return int64(u) - int64(SignedOffset(w))
}
