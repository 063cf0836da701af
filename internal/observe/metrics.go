// Package observe holds the OpenTelemetry instruments of the evaluation
// pipeline. Tests build Metrics with NewMetrics on a private MeterProvider;
// production code uses the global provider.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/book-expert/pronunciation-service"

// Metric names.
const (
	MetricStageDuration    = "pronunciation.stage.duration"
	MetricEvaluations      = "pronunciation.evaluations"
	MetricFeedbackFailures = "pronunciation.feedback.failures"
	MetricInFlight         = "pronunciation.evaluations.in_flight"
)

// Status attribute values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Stage buckets in seconds. The scoring stage may legitimately take tens of seconds.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30}

// Metrics are the pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	// StageDuration has attributes stage and status.
	StageDuration metric.Float64Histogram
	// Evaluations has attributes source and status.
	Evaluations metric.Int64Counter
	// FeedbackFailures counts swallowed feedback generation errors.
	FeedbackFailures metric.Int64Counter
	// InFlight tracks evaluations currently running.
	InFlight metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	met := &Metrics{}

	var err error

	met.StageDuration, err = meter.Float64Histogram(MetricStageDuration,
		metric.WithDescription("Latency of a single evaluation pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, err
	}

	met.Evaluations, err = meter.Int64Counter(MetricEvaluations,
		metric.WithDescription("Completed evaluations by artifact source and status."),
	)
	if err != nil {
		return nil, err
	}

	met.FeedbackFailures, err = meter.Int64Counter(MetricFeedbackFailures,
		metric.WithDescription("Feedback generation failures absorbed by the pipeline."),
	)
	if err != nil {
		return nil, err
	}

	met.InFlight, err = meter.Int64UpDownCounter(MetricInFlight,
		metric.WithDescription("Evaluations currently in progress."),
	)
	if err != nil {
		return nil, err
	}

	return met, nil
}

// NewDefaultMetrics creates the instruments on the global MeterProvider.
func NewDefaultMetrics() (*Metrics, error) {
	return NewMetrics(otel.GetMeterProvider())
}

// RecordStage records the latency and outcome of one stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}

	m.StageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status(err)),
	))
}

// RecordEvaluation counts one finished evaluation.
func (m *Metrics) RecordEvaluation(ctx context.Context, source string, success bool) {
	if m == nil {
		return
	}

	outcome := StatusOK
	if !success {
		outcome = StatusError
	}

	m.Evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", outcome),
	))
}

// RecordFeedbackFailure counts one swallowed feedback error.
func (m *Metrics) RecordFeedbackFailure(ctx context.Context) {
	if m == nil {
		return
	}

	m.FeedbackFailures.Add(ctx, 1)
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func (m *Metrics) TrackInFlight(ctx context.Context) func() {
	if m == nil {
		return func() {}
	}

	m.InFlight.Add(ctx, 1)

	return func() { m.InFlight.Add(ctx, -1) }
}

func status(err error) string {
	if err != nil {
		return StatusError
	}

	return StatusOK
}
