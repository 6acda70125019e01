package fhe

import "sync"

// Op names one homomorphic operation.
type Op string

const (
	OpEncrypt  Op = "encrypt"   // fresh public-key encryption
	OpMul      Op = "mul"       // ciphertext x ciphertext, relinearised
	OpMulPlain Op = "mul_plain" // ciphertext x plaintext vector
	OpScalar   Op = "scalar"    // ciphertext x or + scalar
	OpAdd      Op = "add"
	OpSub      Op = "sub"
	OpRotate   Op = "rotate"
)

// Recorder observes every homomorphic operation an Evaluator performs.
// Implementations used across goroutines must be safe for concurrent use.
type Recorder interface {
	Record(op Op)
}

// Trace records operations in order. It is not safe for concurrent use;
// give each row its own Trace.
type Trace struct {
	Ops []Op
}

// Record implements Recorder.
func (t *Trace) Record(op Op) {
	t.Ops = append(t.Ops, op)
}

// Counts returns how many times each operation was recorded.
func (t *Trace) Counts() map[Op]int {
	counts := make(map[Op]int)
	for _, op := range t.Ops {
		counts[op]++
	}
	return counts
}

// Tally counts operations and is safe for concurrent use.
type Tally struct {
	mu     sync.Mutex
	counts map[Op]int
}

// Record implements Recorder.
func (t *Tally) Record(op Op) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts == nil {
		t.counts = make(map[Op]int)
	}
	t.counts[op]++
}

// Counts returns a snapshot of the counts.
func (t *Tally) Counts() map[Op]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Op]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// Tee returns a Recorder that forwards to every non-nil recorder given.
func Tee(recs ...Recorder) Recorder {
	var out tee
	for _, r := range recs {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

type tee []Recorder

func (t tee) Record(op Op) {
	for _, r := range t {
		r.Record(op)
	}
}
