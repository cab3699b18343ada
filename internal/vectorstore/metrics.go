package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts index operations.
	// Labels: backend (chromem, qdrant), operation (upsert, delete, query, describe), result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cmssearch",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector index operations",
		},
		[]string{"backend", "operation", "result"},
	)

	// OperationDuration tracks how long index operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cmssearch",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector index operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// RecordsTotal is the record count last observed by Describe.
	RecordsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cmssearch",
			Subsystem: "vectorstore",
			Name:      "records",
			Help:      "Number of records in the index as of the last Describe",
		},
		[]string{"backend", "index"},
	)
)

// observe records the outcome of one operation started at start.
func observe(backend, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(backend, operation, result).Inc()
	OperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}
