package metrics

import (
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
)

// Summary describes a latency distribution in milliseconds.
type Summary struct {
	Count  int     `json:"count" yaml:"count"`
	Mean   float64 `json:"mean_ms" yaml:"mean_ms"`
	Median float64 `json:"median_ms" yaml:"median_ms"`
	P95    float64 `json:"p95_ms" yaml:"p95_ms"`
	Max    float64 `json:"max_ms" yaml:"max_ms"`
	StdDev float64 `json:"stddev_ms" yaml:"stddev_ms"`
}

// Summarize computes a Summary over samples. An empty sample set yields a
// zero Summary.
func Summarize(samples []time.Duration) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	values := make(stats.Float64Data, len(samples))
	for i, d := range samples {
		values[i] = float64(d.Nanoseconds()) / 1e6
	}

	mean, _ := values.Mean()
	median, _ := values.Median()
	p95, _ := values.Percentile(95)
	maxv, _ := values.Max()
	stddev, _ := values.StandardDeviation()

	return Summary{
		Count:  len(samples),
		Mean:   mean,
		Median: median,
		P95:    p95,
		Max:    maxv,
		StdDev: stddev,
	}
}

// String renders the summary on one line.
func (s Summary) String() string {
	if s.Count == 0 {
		return "no samples"
	}
	return fmt.Sprintf("n=%d mean=%.3fms median=%.3fms p95=%.3fms max=%.3fms stddev=%.3fms",
		s.Count, s.Mean, s.Median, s.P95, s.Max, s.StdDev)
}
