package fhe

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"

	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// Ciphertext is a single encrypted cell, literal or circuit output.
type Ciphertext = rlwe.Ciphertext

// MarshalCiphertext serialises ct.
func MarshalCiphertext(ct *Ciphertext) ([]byte, error) {
	return ct.MarshalBinary()
}

// UnmarshalCiphertext parses bytes written by MarshalCiphertext.
func UnmarshalCiphertext(b []byte) (*Ciphertext, error) {
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("unmarshal ciphertext: %w", err)
	}
	return ct, nil
}

// Encryptor encrypts typed values under the client's secret key.
// It is not safe for concurrent use; see ShallowCopy.
type Encryptor struct {
	params Parameters
	enc    *rlwe.Encryptor
	ecd    *bgv.Encoder
}

// NewEncryptor creates an Encryptor for the client key.
func NewEncryptor(key *ClientKey) *Encryptor {
	return &Encryptor{
		params: key.Params,
		enc:    rlwe.NewEncryptor(key.Params.bgv, key.sk),
		ecd:    bgv.NewEncoder(key.Params.bgv),
	}
}

// ShallowCopy returns an Encryptor sharing read-only state with e, for use
// on another goroutine.
func (e *Encryptor) ShallowCopy() *Encryptor {
	return &Encryptor{params: e.params, enc: e.enc.ShallowCopy(), ecd: e.ecd.ShallowCopy()}
}

// Params returns the encryptor's parameter set.
func (e *Encryptor) Params() Parameters { return e.params }

// Encrypt encodes v at type t and encrypts it.
func (e *Encryptor) Encrypt(v schema.Value, t schema.ColumnType) (*Ciphertext, error) {
	slots, err := EncodeLane(v, t, e.params.Slots())
	if err != nil {
		return nil, err
	}
	return encryptSlots(e.params, e.ecd, e.enc, slots)
}

func encryptSlots(params Parameters, ecd *bgv.Encoder, enc *rlwe.Encryptor, slots []uint64) (*Ciphertext, error) {
	pt := bgv.NewPlaintext(params.bgv, params.bgv.MaxLevel())
	if err := ecd.Encode(slots, pt); err != nil {
		return nil, fmt.Errorf("encode slots: %w", err)
	}
	ct, err := enc.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return ct, nil
}

// Decryptor decrypts cells and circuit outputs with the client's secret key.
// It is not safe for concurrent use.
type Decryptor struct {
	params Parameters
	dec    *rlwe.Decryptor
	ecd    *bgv.Encoder
}

// NewDecryptor creates a Decryptor for the client key.
func NewDecryptor(key *ClientKey) *Decryptor {
	return &Decryptor{
		params: key.Params,
		dec:    rlwe.NewDecryptor(key.Params.bgv, key.sk),
		ecd:    bgv.NewEncoder(key.Params.bgv),
	}
}

// Slots decrypts ct and returns the first LaneWidth slots.
func (d *Decryptor) Slots(ct *Ciphertext) ([]uint64, error) {
	pt := d.dec.DecryptNew(ct)
	out := make([]uint64, d.params.Slots())
	if err := d.ecd.Decode(pt, out); err != nil {
		return nil, fmt.Errorf("decode plaintext: %w", err)
	}
	return out[:LaneWidth], nil
}

// Value decrypts ct as a cell of type t.
func (d *Decryptor) Value(ct *Ciphertext, t schema.ColumnType) (schema.Value, error) {
	slots, err := d.Slots(ct)
	if err != nil {
		return nil, err
	}
	return DecodeLane(slots, t)
}

// Bit decrypts ct and returns slot 0, which must be 0 or 1.
func (d *Decryptor) Bit(ct *Ciphertext) (bool, error) {
	slots, err := d.Slots(ct)
	if err != nil {
		return false, err
	}
	b, err := bit(slots[0])
	if err != nil {
		return false, err
	}
	return b == 1, nil
}
