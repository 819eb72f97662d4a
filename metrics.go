package cardex

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// observability package ships a Prometheus-backed implementation.
type MetricsCollector interface {
	// RecordAddCard is called after each card registration.
	// duration is the total time taken, err is nil if successful.
	RecordAddCard(duration time.Duration, err error)

	// RecordFindMatches is called after each similarity query.
	// found is the number of candidates returned, duration is the time
	// taken, err is nil if successful.
	RecordFindMatches(found int, duration time.Duration, err error)

	// RecordCheckpoint is called after each checkpoint attempt.
	RecordCheckpoint(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAddCard(time.Duration, error)          {}
func (NoopMetricsCollector) RecordFindMatches(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordCheckpoint(time.Duration, error)       {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddCardCount       atomic.Int64
	AddCardErrors      atomic.Int64
	AddCardTotalNanos  atomic.Int64
	MatchCount         atomic.Int64
	MatchErrors        atomic.Int64
	MatchTotalNanos    atomic.Int64
	MatchCandidates    atomic.Int64
	CheckpointCount    atomic.Int64
	CheckpointErrors   atomic.Int64
	CheckpointTotNanos atomic.Int64
}

// RecordAddCard implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAddCard(duration time.Duration, err error) {
	b.AddCardCount.Add(1)
	b.AddCardTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AddCardErrors.Add(1)
	}
}

// RecordFindMatches implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFindMatches(found int, duration time.Duration, err error) {
	b.MatchCount.Add(1)
	b.MatchTotalNanos.Add(duration.Nanoseconds())
	b.MatchCandidates.Add(int64(found))
	if err != nil {
		b.MatchErrors.Add(1)
	}
}

// RecordCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheckpoint(duration time.Duration, err error) {
	b.CheckpointCount.Add(1)
	b.CheckpointTotNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CheckpointErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddCardCount:    b.AddCardCount.Load(),
		AddCardErrors:   b.AddCardErrors.Load(),
		AddCardAvgNanos: avg(b.AddCardTotalNanos.Load(), b.AddCardCount.Load()),
		MatchCount:      b.MatchCount.Load(),
		MatchErrors:     b.MatchErrors.Load(),
		MatchAvgNanos:   avg(b.MatchTotalNanos.Load(), b.MatchCount.Load()),
		MatchCandidates: b.MatchCandidates.Load(),
		CheckpointCount: b.CheckpointCount.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddCardCount    int64
	AddCardErrors   int64
	AddCardAvgNanos int64
	MatchCount      int64
	MatchErrors     int64
	MatchAvgNanos   int64
	MatchCandidates int64
	CheckpointCount int64
}
