package snappy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/athrael-soju/snappy/embedder"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordEmbed is called after each batched embedding call.
	// images is the number of images in the batch, duration the total time,
	// err is nil if successful.
	RecordEmbed(images int, duration time.Duration, err error)

	// RecordUpsert is called after each point-batch upsert.
	RecordUpsert(points int, duration time.Duration, err error)

	// RecordSearch is called after each retrieval query.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordCleanup is called after each cleanup run.
	// failedSteps is the number of steps that reported an error.
	RecordCleanup(failedSteps int, duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordEmbed(int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordUpsert(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordCleanup(int, time.Duration)       {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	EmbedCount       atomic.Int64
	EmbedImages      atomic.Int64
	EmbedErrors      atomic.Int64
	EmbedTotalNanos  atomic.Int64
	UpsertCount      atomic.Int64
	UpsertPoints     atomic.Int64
	UpsertErrors     atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	CleanupCount     atomic.Int64
	CleanupFailures  atomic.Int64
}

// RecordEmbed implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEmbed(images int, duration time.Duration, err error) {
	b.EmbedCount.Add(1)
	b.EmbedImages.Add(int64(images))
	b.EmbedTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.EmbedErrors.Add(1)
	}
}

// RecordUpsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpsert(points int, duration time.Duration, err error) {
	b.UpsertCount.Add(1)
	b.UpsertPoints.Add(int64(points))
	if err != nil {
		b.UpsertErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordCleanup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCleanup(failedSteps int, duration time.Duration) {
	b.CleanupCount.Add(1)
	b.CleanupFailures.Add(int64(failedSteps))
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector counters.
type BasicMetricsStats struct {
	EmbedCount      int64
	EmbedImages     int64
	EmbedErrors     int64
	EmbedAvgNanos   int64
	UpsertCount     int64
	UpsertPoints    int64
	UpsertErrors    int64
	SearchCount     int64
	SearchErrors    int64
	SearchAvgNanos  int64
	CleanupCount    int64
	CleanupFailures int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		EmbedCount:      b.EmbedCount.Load(),
		EmbedImages:     b.EmbedImages.Load(),
		EmbedErrors:     b.EmbedErrors.Load(),
		UpsertCount:     b.UpsertCount.Load(),
		UpsertPoints:    b.UpsertPoints.Load(),
		UpsertErrors:    b.UpsertErrors.Load(),
		SearchCount:     b.SearchCount.Load(),
		SearchErrors:    b.SearchErrors.Load(),
		CleanupCount:    b.CleanupCount.Load(),
		CleanupFailures: b.CleanupFailures.Load(),
	}
	if s.EmbedCount > 0 {
		s.EmbedAvgNanos = b.EmbedTotalNanos.Load() / s.EmbedCount
	}
	if s.SearchCount > 0 {
		s.SearchAvgNanos = b.SearchTotalNanos.Load() / s.SearchCount
	}
	return s
}

// instrumentedEmbedder decorates an embedder.Client so every image embedding
// call the pipeline makes is timed, recorded and logged. All other client
// calls pass through unchanged.
type instrumentedEmbedder struct {
	embedder.Client
	metrics MetricsCollector
	logger  *Logger
}

func (e instrumentedEmbedder) EmbedImages(ctx context.Context, images [][]byte) ([]embedder.ImageEmbedding, error) {
	started := time.Now()
	out, err := e.Client.EmbedImages(ctx, images)
	e.metrics.RecordEmbed(len(images), time.Since(started), err)
	e.logger.LogEmbed(ctx, len(images), err)
	return out, err
}
