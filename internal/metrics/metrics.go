// Package metrics exposes Prometheus collectors for the query pipeline and
// summary statistics over per-row evaluation latencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
)

var (
	// QueriesTotal counts pipeline stage outcomes. outcome is "ok" or the
	// error code.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encsql_queries_total",
			Help: "Total number of queries by pipeline stage and outcome",
		},
		[]string{"stage", "outcome"},
	)
	// RowsEvaluated counts rows visited by the evaluator.
	RowsEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "encsql_rows_evaluated_total",
			Help: "Total number of rows evaluated homomorphically",
		},
	)
	// CircuitOps counts homomorphic operations by kind.
	CircuitOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encsql_circuit_ops_total",
			Help: "Total number of homomorphic operations",
		},
		[]string{"op"},
	)
	// EvaluationDuration is the wall time of whole evaluations.
	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "encsql_evaluation_duration_seconds",
			Help:    "Evaluation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
	// RequestTotal counts HTTP requests by method, route and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encsql_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	// RequestDuration is the latency of HTTP requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "encsql_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Stage names used as the stage label.
const (
	StageEncode   = "encode"
	StageEvaluate = "evaluate"
	StageDecode   = "decode"
)

// ObserveQuery records the outcome of one pipeline stage.
func ObserveQuery(stage string, err error) {
	QueriesTotal.WithLabelValues(stage, Outcome(err)).Inc()
}

// Outcome maps an error to its metric label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := qerr.CodeOf(err); code != "" {
		return string(code)
	}
	return "internal"
}

// OpCounter is an fhe.Recorder that increments CircuitOps.
// It is safe for concurrent use.
type OpCounter struct{}

// Record implements fhe.Recorder.
func (OpCounter) Record(op fhe.Op) {
	CircuitOps.WithLabelValues(string(op)).Inc()
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
