package search

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/cmssearch/internal/search"

const (
	outcomeOK        = "ok"
	outcomeInvalid   = "invalid"
	outcomeEmbedding = "embedding_error"
	outcomeIndex     = "index_error"
)

// Metrics records query outcomes.
type Metrics struct {
	queries  metric.Int64Counter
	duration metric.Float64Histogram
	results  metric.Int64Histogram
}

// NewMetrics creates search metrics on meter, or on the global provider when
// meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	queries, err := meter.Int64Counter(
		"cmssearch.search.queries_total",
		metric.WithDescription("Search queries by outcome and visual classification"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"cmssearch.search.query_duration_seconds",
		metric.WithDescription("End to end query latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	results, err := meter.Int64Histogram(
		"cmssearch.search.results",
		metric.WithDescription("Results returned per query"),
		metric.WithUnit("{result}"),
		metric.WithExplicitBucketBoundaries(0, 1, 5, 10, 20),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{queries: queries, duration: duration, results: results}, nil
}

func (m *Metrics) record(ctx context.Context, outcome string, visual bool, n int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("visual", visual),
	)
	m.queries.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
	if outcome == outcomeOK {
		m.results.Record(ctx, int64(n))
	}
}
