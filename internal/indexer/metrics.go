package indexer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/cmssearch/internal/indexer"

const (
	opReindex = "reindex"
	opRemove  = "remove"

	resultIndexed = "indexed"
	resultSkipped = "skipped"
	resultRemoved = "removed"
	resultFailed  = "failed"
)

// Metrics records indexer operations.
type Metrics struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMetrics creates indexer metrics on meter, or on the global provider when
// meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	operations, err := meter.Int64Counter(
		"cmssearch.indexer.operations_total",
		metric.WithDescription("Index writes by operation and result"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"cmssearch.indexer.operation_duration_seconds",
		metric.WithDescription("Wall time of a reindex or remove"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{operations: operations, duration: duration}, nil
}

func (m *Metrics) record(ctx context.Context, op, result string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", result),
	)
	m.operations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}
