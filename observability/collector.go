package observability

import (
	"time"

	cardex "github.com/cardexio/cardex"
)

// Collector adapts the store's MetricsCollector hook onto the Prometheus
// metrics in this package.
//
//	db, _ := cardex.Open(ctx, dir, cardex.WithMetricsCollector(observability.NewCollector()))
type Collector struct{}

var _ cardex.MetricsCollector = Collector{}

// NewCollector returns a Prometheus-backed MetricsCollector.
func NewCollector() Collector {
	return Collector{}
}

// RecordAddCard implements cardex.MetricsCollector.
func (Collector) RecordAddCard(duration time.Duration, err error) {
	AddCardsTotal.WithLabelValues(statusLabel(err)).Inc()
	AddCardDuration.Observe(duration.Seconds())
}

// RecordFindMatches implements cardex.MetricsCollector.
func (Collector) RecordFindMatches(found int, duration time.Duration, err error) {
	MatchQueriesTotal.WithLabelValues(statusLabel(err)).Inc()
	MatchDuration.Observe(duration.Seconds())
	if err == nil {
		MatchCandidates.Observe(float64(found))
	}
}

// RecordCheckpoint implements cardex.MetricsCollector.
func (Collector) RecordCheckpoint(duration time.Duration, err error) {
	CheckpointsTotal.WithLabelValues(statusLabel(err)).Inc()
	CheckpointDuration.Observe(duration.Seconds())
}
