// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring a cardex deployment.
package observability

import "github.com/prometheus/client_golang/prometheus"

// MatchBuckets defines histogram buckets suited for in-memory matching
// latencies, ranging from 1ms to 10s.
var MatchBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

var (
	// RequestsTotal counts all HTTP requests by method, route, and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardex_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cardex_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: MatchBuckets,
		},
		[]string{"method", "route"},
	)

	// AddCardsTotal counts card registrations by outcome.
	AddCardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardex_add_cards_total",
			Help: "Card registrations",
		},
		[]string{"status"},
	)

	// AddCardDuration records card registration latency in seconds.
	AddCardDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardex_add_card_duration_seconds",
			Help:    "Card registration latency",
			Buckets: MatchBuckets,
		},
	)

	// MatchQueriesTotal counts similarity queries by outcome.
	MatchQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardex_match_queries_total",
			Help: "Similarity queries",
		},
		[]string{"status"},
	)

	// MatchDuration records similarity query latency in seconds.
	MatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardex_match_duration_seconds",
			Help:    "Similarity query latency",
			Buckets: MatchBuckets,
		},
	)

	// MatchCandidates records the number of candidates returned per query.
	MatchCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardex_match_candidates",
			Help:    "Candidates returned per query",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		},
	)

	// CheckpointsTotal counts checkpoint attempts by outcome.
	CheckpointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardex_checkpoints_total",
			Help: "Checkpoint attempts",
		},
		[]string{"status"},
	)

	// CheckpointDuration records checkpoint commit latency in seconds.
	CheckpointDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardex_checkpoint_duration_seconds",
			Help:    "Checkpoint commit latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		},
	)

	// DegradedQueriesTotal counts queries that ran without an embedding
	// because the embedding provider was unavailable.
	DegradedQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cardex_degraded_queries_total",
			Help: "Hash-only queries due to embedder unavailability",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AddCardsTotal,
		AddCardDuration,
		MatchQueriesTotal,
		MatchDuration,
		MatchCandidates,
		CheckpointsTotal,
		CheckpointDuration,
		DegradedQueriesTotal,
	)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
