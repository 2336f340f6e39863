// Package metrics defines the Prometheus collectors used by the indexing
// layer and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the indexer.
type Metrics struct {
	OperationsEnqueued  *prometheus.CounterVec
	OperationsApplied   *prometheus.CounterVec
	OperationsFailed    *prometheus.CounterVec
	OperationsDiscarded *prometheus.CounterVec
	QueueDepth          *prometheus.GaugeVec
	WorkerActive        *prometheus.GaugeVec
	CommitsTotal        *prometheus.CounterVec
	CommitDuration      *prometheus.HistogramVec
	MutationsPerCommit  *prometheus.HistogramVec
	Executive           *prometheus.GaugeVec
	Participants        *prometheus.GaugeVec
	CircuitBreakerState *prometheus.GaugeVec

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all collectors and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate
// registration panics.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_operations_enqueued_total",
				Help: "Operations accepted into the index queue by index and kind.",
			},
			[]string{"index", "kind"},
		),
		OperationsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_operations_applied_total",
				Help: "Operations applied to the index writer by index and kind.",
			},
			[]string{"index", "kind"},
		),
		OperationsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_operations_failed_total",
				Help: "Operations that failed by index and error kind.",
			},
			[]string{"index", "error_kind"},
		),
		OperationsDiscarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_operations_discarded_total",
				Help: "Queued operations discarded by a forced index recreate.",
			},
			[]string{"index"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "indexer_queue_depth",
				Help: "Batches waiting in the index queue.",
			},
			[]string{"index"},
		),
		WorkerActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "indexer_worker_active",
				Help: "1 while a drain loop is running for the index.",
			},
			[]string{"index"},
		),
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_commits_total",
				Help: "Index commits by trigger and status.",
			},
			[]string{"index", "trigger", "status"},
		),
		CommitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_commit_duration_seconds",
				Help:    "Index commit latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"index"},
		),
		MutationsPerCommit: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_mutations_per_commit",
				Help:    "Mutations coalesced into one commit.",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"index"},
		),
		Executive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "indexer_executive",
				Help: "1 if this process is the executive indexer for the index location.",
			},
			[]string{"index"},
		),
		Participants: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "indexer_election_participants",
				Help: "Live processes sharing the index location.",
			},
			[]string{"index"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_http_requests_total",
				Help: "Event API requests by method, path and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_http_request_duration_seconds",
				Help:    "Event API latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexer_http_requests_in_flight",
				Help: "Event API requests being served.",
			},
		),
	}

	reg.MustRegister(
		m.OperationsEnqueued,
		m.OperationsApplied,
		m.OperationsFailed,
		m.OperationsDiscarded,
		m.QueueDepth,
		m.WorkerActive,
		m.CommitsTotal,
		m.CommitDuration,
		m.MutationsPerCommit,
		m.Executive,
		m.Participants,
		m.CircuitBreakerState,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// BoolGauge converts a flag into a gauge value.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
