package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "TABLE_NOT_FOUND", Outcome(qerr.TableNotFound("t")))
	assert.Equal(t, "internal", Outcome(errors.New("boom")))
}

func TestObserveQuery(t *testing.T) {
	before := testutil.ToFloat64(QueriesTotal.WithLabelValues(StageDecode, "DECRYPTION_LENGTH_MISMATCH"))
	ObserveQuery(StageDecode, qerr.DecryptionLengthMismatch(3, 2))
	after := testutil.ToFloat64(QueriesTotal.WithLabelValues(StageDecode, "DECRYPTION_LENGTH_MISMATCH"))
	assert.Equal(t, before+1, after)
}

func TestOpCounter(t *testing.T) {
	var rec fhe.Recorder = OpCounter{}
	before := testutil.ToFloat64(CircuitOps.WithLabelValues("rotate"))
	rec.Record(fhe.OpRotate)
	rec.Record(fhe.OpRotate)
	assert.Equal(t, before+2, testutil.ToFloat64(CircuitOps.WithLabelValues("rotate")))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
	assert.Equal(t, "no samples", Summary{}.String())

	s := Summarize([]time.Duration{
		1 * time.Millisecond,
		2 * time.Millisecond,
		3 * time.Millisecond,
	})
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 2.0, s.Mean, 1e-9)
	assert.InDelta(t, 2.0, s.Median, 1e-9)
	assert.InDelta(t, 3.0, s.Max, 1e-9)
	assert.Contains(t, s.String(), "n=3")
}
