package fhe

import (
	"fmt"
	"math/bits"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// Evaluator runs the comparison and boolean circuits over ciphertexts.
// It holds only server key material. It is not safe for concurrent use;
// give each goroutine its own ShallowCopy.
type Evaluator struct {
	params Parameters
	eval   *bgv.Evaluator
	enc    *rlwe.Encryptor
	ecd    *bgv.Encoder
	unit   []uint64 // 1 in slot 0
	ones   []uint64 // 1 in slots 0..LaneWidth-1
	rec    Recorder
}

// NewEvaluator creates an Evaluator from the server key.
func NewEvaluator(key *ServerKey) *Evaluator {
	n := key.Params.Slots()
	unit := make([]uint64, n)
	unit[0] = 1
	ones := make([]uint64, n)
	for i := 0; i < LaneWidth; i++ {
		ones[i] = 1
	}
	return &Evaluator{
		params: key.Params,
		eval:   bgv.NewEvaluator(key.Params.bgv, key.evk, true),
		enc:    rlwe.NewEncryptor(key.Params.bgv, key.pk),
		ecd:    bgv.NewEncoder(key.Params.bgv),
		unit:   unit,
		ones:   ones,
	}
}

// ShallowCopy returns an Evaluator sharing keys and constants with e but
// owning its own buffers. The copy has no Recorder.
func (e *Evaluator) ShallowCopy() *Evaluator {
	return &Evaluator{
		params: e.params,
		eval:   e.eval.ShallowCopy(),
		enc:    e.enc.ShallowCopy(),
		ecd:    e.ecd.ShallowCopy(),
		unit:   e.unit,
		ones:   e.ones,
	}
}

// WithRecorder sets the Recorder that observes subsequent operations.
func (e *Evaluator) WithRecorder(r Recorder) *Evaluator {
	e.rec = r
	return e
}

// Params returns the evaluator's parameter set.
func (e *Evaluator) Params() Parameters { return e.params }

func (e *Evaluator) record(op Op) {
	if e.rec != nil {
		e.rec.Record(op)
	}
}

func (e *Evaluator) mul(a, b *Ciphertext) (*Ciphertext, error) {
	e.record(OpMul)
	return e.eval.MulRelinNew(a, b)
}

func (e *Evaluator) add(a, b *Ciphertext) (*Ciphertext, error) {
	e.record(OpAdd)
	return e.eval.AddNew(a, b)
}

func (e *Evaluator) sub(a, b *Ciphertext) (*Ciphertext, error) {
	e.record(OpSub)
	return e.eval.SubNew(a, b)
}

func (e *Evaluator) rotate(a *Ciphertext, k int) (*Ciphertext, error) {
	e.record(OpRotate)
	return e.eval.RotateColumnsNew(a, k)
}

// affine returns m*a + c. The product is taken in place on a copy: a
// scalar MulNew allocates its output at scale 1 and would drop a.Scale,
// which is not 1 after a scale-invariant multiplication.
func (e *Evaluator) affine(a *Ciphertext, m, c int) (*Ciphertext, error) {
	e.record(OpScalar)
	out := a.CopyNew()
	if err := e.eval.Mul(out, m, out); err != nil {
		return nil, err
	}
	if err := e.eval.Add(out, c, out); err != nil {
		return nil, err
	}
	return out, nil
}

// One returns a fresh encryption of 1 in every lane slot.
func (e *Evaluator) One() (*Ciphertext, error) {
	e.record(OpEncrypt)
	return encryptSlots(e.params, e.ecd, e.enc, e.ones)
}

// Not returns 1 - a.
func (e *Evaluator) Not(a *Ciphertext) (*Ciphertext, error) {
	return e.affine(a, -1, 1)
}

// And returns a * b.
func (e *Evaluator) And(a, b *Ciphertext) (*Ciphertext, error) {
	return e.mul(a, b)
}

// Or returns a + b - ab.
func (e *Evaluator) Or(a, b *Ciphertext) (*Ciphertext, error) {
	ab, err := e.mul(a, b)
	if err != nil {
		return nil, err
	}
	s, err := e.add(a, b)
	if err != nil {
		return nil, err
	}
	return e.sub(s, ab)
}

// Eq compares the first w slots of a and b. Slot 0 of the result is 1 when
// they are equal.
func (e *Evaluator) Eq(a, b *Ciphertext, w int) (*Ciphertext, error) {
	if err := checkWidth(w); err != nil {
		return nil, err
	}
	ab, err := e.mul(a, b)
	if err != nil {
		return nil, err
	}
	x, err := e.xnor(a, b, ab)
	if err != nil {
		return nil, err
	}
	return e.suffixProduct(x, w)
}

// Lt compares a and b as w-bit unsigned integers. Slot 0 of the result is
// 1 when a < b.
func (e *Evaluator) Lt(a, b *Ciphertext, w int) (*Ciphertext, error) {
	if err := checkWidth(w); err != nil {
		return nil, err
	}
	ab, err := e.mul(a, b)
	if err != nil {
		return nil, err
	}
	x, err := e.xnor(a, b, ab)
	if err != nil {
		return nil, err
	}
	// d_j = (1 - a_j) b_j: bit j is where a is 0 and b is 1.
	d, err := e.sub(b, ab)
	if err != nil {
		return nil, err
	}
	// s_j = prod_{k=j+1}^{j+w} x_k: all higher bits agree. Slots past the
	// operand width are zero in both inputs, so their XNOR is 1.
	s, err := e.rotate(x, 1)
	if err != nil {
		return nil, err
	}
	if s, err = e.suffixProduct(s, w); err != nil {
		return nil, err
	}
	t, err := e.mul(d, s)
	if err != nil {
		return nil, err
	}
	// At most one j has d_j s_j = 1, so the sum stays a bit.
	return e.reduceSum(t, w)
}

// Gt returns Lt(b, a).
func (e *Evaluator) Gt(a, b *Ciphertext, w int) (*Ciphertext, error) {
	return e.Lt(b, a, w)
}

// Select isolates slot 0 of the selector, broadcasts it over the lane and
// multiplies every cell by it. It returns the broadcast selector and the
// masked cells in order.
func (e *Evaluator) Select(sel *Ciphertext, cells []*Ciphertext) (*Ciphertext, []*Ciphertext, error) {
	e.record(OpMulPlain)
	b, err := e.eval.MulNew(sel, e.unit)
	if err != nil {
		return nil, nil, err
	}
	for k := 1; k < LaneWidth; k <<= 1 {
		r, err := e.rotate(b, -k)
		if err != nil {
			return nil, nil, err
		}
		if b, err = e.add(b, r); err != nil {
			return nil, nil, err
		}
	}
	masked, err := e.Mask(b, cells)
	if err != nil {
		return nil, nil, err
	}
	return b, masked, nil
}

// Mask multiplies every cell by a selector that is already broadcast over
// the lane.
func (e *Evaluator) Mask(sel *Ciphertext, cells []*Ciphertext) ([]*Ciphertext, error) {
	masked := make([]*Ciphertext, len(cells))
	for i, c := range cells {
		m, err := e.mul(c, sel)
		if err != nil {
			return nil, err
		}
		masked[i] = m
	}
	return masked, nil
}

// xnor returns 1 - (a + b - 2ab) given ab.
func (e *Evaluator) xnor(a, b, ab *Ciphertext) (*Ciphertext, error) {
	s, err := e.add(a, b)
	if err != nil {
		return nil, err
	}
	ab2, err := e.affine(ab, 2, 0)
	if err != nil {
		return nil, err
	}
	x, err := e.sub(s, ab2)
	if err != nil {
		return nil, err
	}
	return e.Not(x)
}

// suffixProduct leaves prod_{k=j}^{j+w-1} x_k in slot j (Hillis-Steele scan
// over left rotations).
func (e *Evaluator) suffixProduct(x *Ciphertext, w int) (*Ciphertext, error) {
	for k := 1; k < w; k <<= 1 {
		r, err := e.rotate(x, k)
		if err != nil {
			return nil, err
		}
		if x, err = e.mul(x, r); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// reduceSum leaves sum_{k=0}^{w-1} x_k in slot 0.
func (e *Evaluator) reduceSum(x *Ciphertext, w int) (*Ciphertext, error) {
	for k := 1; k < w; k <<= 1 {
		r, err := e.rotate(x, k)
		if err != nil {
			return nil, err
		}
		if x, err = e.add(x, r); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func checkWidth(w int) error {
	if w < 1 || w > LaneWidth/2 || bits.OnesCount(uint(w)) != 1 {
		return fmt.Errorf("comparison width %d must be a power of two in [1, %d]", w, LaneWidth/2)
	}
	return nil
}

// Depth costs of the circuits, in multiplicative levels.

// EqDepth is the depth Eq adds at width w.
func EqDepth(w int) int { return 1 + log2(w) }

// LtDepth is the depth Lt and Gt add at width w.
func LtDepth(w int) int { return 2 + log2(w) }

// SelectDepth is the depth Select adds on top of the selector.
const SelectDepth = 2

func log2(w int) int {
	return bits.Len(uint(w)) - 1
}
