package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricIterationsTotal     = "gwinfer.sampler.iterations.total"
	metricBatchDuration       = "gwinfer.sampler.batch.duration.seconds"
	metricCheckpointDuration  = "gwinfer.checkpoint.duration.seconds"
	metricCheckpointFailures  = "gwinfer.checkpoint.failures.total"
	metricEffectiveSamples    = "gwinfer.sampler.effective.samples"
	metricAcceptanceFraction  = "gwinfer.sampler.acceptance.fraction"
	metricSwapAcceptance      = "gwinfer.sampler.swap.acceptance.fraction"
	metricStoredSamples       = "gwinfer.sampler.stored.samples"

	attrRung = "rung"
)

// SamplerMetrics holds OTel instruments for the sampling loop.
type SamplerMetrics struct {
	iterations         metric.Int64Counter
	batchDuration      metric.Float64Histogram
	checkpointDuration metric.Float64Histogram
	checkpointFailures metric.Int64Counter
	effectiveSamples   metric.Int64Gauge
	storedSamples      metric.Int64Gauge
	acceptance         metric.Float64Gauge
	swapAcceptance     metric.Float64Gauge
}

// BatchStats summarizes one completed sampling batch.
type BatchStats struct {
	Iterations       int
	Duration         time.Duration
	EffectiveSamples int
	StoredSamples    int

	// Acceptance is the mean acceptance fraction of the posterior walkers.
	Acceptance float64

	// SwapAcceptance holds the swap acceptance fraction between rungs i and i+1.
	SwapAcceptance []float64
}

// NewSamplerMetrics creates sampler metric instruments from the given meter.
func NewSamplerMetrics(mt metric.Meter) (*SamplerMetrics, error) {
	iterations, err := mt.Int64Counter(metricIterationsTotal,
		metric.WithDescription("Total sampler iterations completed"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricIterationsTotal, err)
	}

	batchDur, err := mt.Float64Histogram(metricBatchDuration,
		metric.WithDescription("Duration of one checkpoint interval of sampling"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBatchDuration, err)
	}

	cpDur, err := mt.Float64Histogram(metricCheckpointDuration,
		metric.WithDescription("Checkpoint write duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCheckpointDuration, err)
	}

	cpFailures, err := mt.Int64Counter(metricCheckpointFailures,
		metric.WithDescription("Checkpoint writes that failed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCheckpointFailures, err)
	}

	ess, err := mt.Int64Gauge(metricEffectiveSamples,
		metric.WithDescription("Independent posterior samples after burn-in"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricEffectiveSamples, err)
	}

	stored, err := mt.Int64Gauge(metricStoredSamples,
		metric.WithDescription("Stored samples per chain"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricStoredSamples, err)
	}

	acceptance, err := mt.Float64Gauge(metricAcceptanceFraction,
		metric.WithDescription("Mean acceptance fraction of the posterior walkers"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAcceptanceFraction, err)
	}

	swap, err := mt.Float64Gauge(metricSwapAcceptance,
		metric.WithDescription("Swap acceptance fraction between adjacent temperatures"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricSwapAcceptance, err)
	}

	return &SamplerMetrics{
		iterations:         iterations,
		batchDuration:      batchDur,
		checkpointDuration: cpDur,
		checkpointFailures: cpFailures,
		effectiveSamples:   ess,
		storedSamples:      stored,
		acceptance:         acceptance,
		swapAcceptance:     swap,
	}, nil
}

// RecordBatch records a completed batch.
// Safe to call on a nil receiver (no-op).
func (sm *SamplerMetrics) RecordBatch(ctx context.Context, stats BatchStats) {
	if sm == nil {
		return
	}

	sm.iterations.Add(ctx, int64(stats.Iterations))
	sm.batchDuration.Record(ctx, stats.Duration.Seconds())
	sm.effectiveSamples.Record(ctx, int64(stats.EffectiveSamples))
	sm.storedSamples.Record(ctx, int64(stats.StoredSamples))
	sm.acceptance.Record(ctx, stats.Acceptance)

	for rung, frac := range stats.SwapAcceptance {
		sm.swapAcceptance.Record(ctx, frac, metric.WithAttributes(attribute.Int(attrRung, rung)))
	}
}

// RecordCheckpoint records a checkpoint write attempt.
// Safe to call on a nil receiver (no-op).
func (sm *SamplerMetrics) RecordCheckpoint(ctx context.Context, duration time.Duration, err error) {
	if sm == nil {
		return
	}

	sm.checkpointDuration.Record(ctx, duration.Seconds())

	if err != nil {
		sm.checkpointFailures.Add(ctx, 1)
	}
}
