// Package decoder turns an encrypted result back into an answer on the
// client. It holds the only code path that decrypts evaluator output.
package decoder

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/metrics"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
)

// Answer is a decoded result.
//
// In rows mode Rows holds every matching row in store order. In scalar
// mode Rows is nil, Count is the number of matching rows and Sums holds
// one entry per column: the sum of the column over matching rows, the
// number of true values for boolean columns, or nil for text columns.
type Answer struct {
	QueryID string
	Kind    program.ProjectionKind
	Columns []schema.Column
	Rows    [][]schema.Value
	Count   int
	Sums    []*big.Int
	Scanned int // tuples in the result, matching or not
}

// Decode decrypts res with dec and builds the answer for kind.
//
// A ciphertext count that is not a multiple of the tuple width fails with
// DECRYPTION_LENGTH_MISMATCH. A selector or cell that does not decrypt to
// a valid encoding means the noise budget overflowed; it fails with
// CAPACITY_EXCEEDED. So does a non-matching tuple whose cells are not
// all zero, in either mode.
func Decode(res *program.Result, dec *fhe.Decryptor, kind program.ProjectionKind) (ans *Answer, err error) {
	defer func() { metrics.ObserveQuery(metrics.StageDecode, err) }()

	if res == nil {
		return nil, qerr.Malformed("nil result")
	}
	w := res.Width()
	if len(res.Ciphertexts)%w != 0 {
		return nil, qerr.DecryptionLengthMismatch(len(res.Ciphertexts), w)
	}

	ans = &Answer{
		QueryID: res.ID,
		Kind:    kind,
		Columns: res.Columns,
		Scanned: len(res.Ciphertexts) / w,
	}
	var acc *accumulator
	switch kind {
	case program.ProjectRows:
		ans.Rows = [][]schema.Value{}
	case program.ProjectScalar:
		acc = newAccumulator(res.Columns)
	default:
		return nil, qerr.Malformed("unknown projection kind %s", kind)
	}

	for t := 0; t < ans.Scanned; t++ {
		tuple := res.Ciphertexts[t*w : (t+1)*w]
		match, err := dec.Bit(tuple[0])
		if err != nil {
			return nil, overflow(t, "selector", err)
		}

		if !match {
			if err := checkMasked(dec, t, res.Columns, tuple[1:]); err != nil {
				return nil, err
			}
			continue
		}

		if acc != nil {
			if err := acc.add(dec, t, tuple[1:]); err != nil {
				return nil, err
			}
			ans.Count++
			continue
		}
		row := make([]schema.Value, len(res.Columns))
		for i, c := range res.Columns {
			v, err := dec.Value(tuple[1+i], c.Type)
			if err != nil {
				return nil, overflow(t, c.Name, err)
			}
			row[i] = v
		}
		ans.Rows = append(ans.Rows, row)
		ans.Count++
	}

	if acc != nil {
		ans.Sums = acc.finish(ans.Count)
	}
	slog.Debug("result decoded",
		"query_id", res.ID,
		"kind", kind.String(),
		"tuples", ans.Scanned,
		"matched", ans.Count,
	)
	return ans, nil
}

func overflow(tuple int, what string, err error) error {
	return qerr.CapacityExceeded(what, 0, 0, "tuple %d: %s did not decrypt cleanly: %v", tuple, what, err)
}

// checkMasked requires every slot of a non-matching tuple's cells to be
// zero. Anything else means the mask did not hold.
func checkMasked(dec *fhe.Decryptor, tuple int, columns []schema.Column, cells []*fhe.Ciphertext) error {
	for i, c := range columns {
		slots, err := dec.Slots(cells[i])
		if err != nil {
			return fmt.Errorf("tuple %d column %s: %w", tuple, c.Name, err)
		}
		for j, s := range slots {
			if s != 0 {
				return overflow(tuple, c.Name, fmt.Errorf("masked cell holds %d in slot %d", s, j))
			}
		}
	}
	return nil
}

// accumulator sums masked cells in arbitrary precision.
type accumulator struct {
	columns []schema.Column
	sums    []*big.Int
}

func newAccumulator(columns []schema.Column) *accumulator {
	sums := make([]*big.Int, len(columns))
	for i, c := range columns {
		if c.Type.Kind != schema.KindText {
			sums[i] = new(big.Int)
		}
	}
	return &accumulator{columns: columns, sums: sums}
}

func (a *accumulator) add(dec *fhe.Decryptor, tuple int, cells []*fhe.Ciphertext) error {
	for i, c := range a.columns {
		if a.sums[i] == nil {
			continue
		}
		slots, err := dec.Slots(cells[i])
		if err != nil {
			return fmt.Errorf("tuple %d column %s: %w", tuple, c.Name, err)
		}
		raw, err := fhe.LaneInteger(slots, c.Type.Width)
		if err != nil {
			return overflow(tuple, c.Name, err)
		}
		a.sums[i].Add(a.sums[i], new(big.Int).SetUint64(raw))
	}
	return nil
}

// finish removes the signed offset, which every matching row contributed
// once to its raw offset-binary value.
func (a *accumulator) finish(count int) []*big.Int {
	for i, c := range a.columns {
		if c.Type.Kind != schema.KindSignedInt {
			continue
		}
		bias := new(big.Int).SetUint64(fhe.SignedOffset(c.Type.Width))
		bias.Mul(bias, big.NewInt(int64(count)))
		a.sums[i].Sub(a.sums[i], bias)
	}
	return a.sums
}
