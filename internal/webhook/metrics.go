package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventsTotal counts dispatched webhook events.
// Labels: kind (entry, asset, unrecognized), action (reindex, remove, ignore), result (success, skipped, error)
var EventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cmssearch",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Total number of webhook events received",
	},
	[]string{"kind", "action", "result"},
)

const (
	kindEntry        = "entry"
	kindAsset        = "asset"
	kindUnrecognized = "unrecognized"

	resultSuccess = "success"
	resultSkipped = "skipped"
	resultError   = "error"
)
