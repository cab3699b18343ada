package vision

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/cmssearch/internal/vision"

const (
	outcomeOK       = "ok"
	outcomeEmpty    = "empty"
	outcomeFailed   = "failed"
	outcomeCanceled = "canceled"
)

// Metrics records image analysis outcomes.
type Metrics struct {
	analyses metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics creates vision metrics on meter, or on the global provider when
// meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	analyses, err := meter.Int64Counter(
		"cmssearch.vision.analyses_total",
		metric.WithDescription("Image analyses by outcome"),
		metric.WithUnit("{analysis}"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"cmssearch.vision.analysis_duration_seconds",
		metric.WithDescription("Wall time of an image analysis including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.25, 0.5, 1, 2, 5, 10, 20, 40),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{analyses: analyses, duration: duration}, nil
}

// RecordAnalysis records one finished analysis.
func (m *Metrics) RecordAnalysis(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.analyses.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}
