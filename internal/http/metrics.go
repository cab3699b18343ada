package http

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/cmssearch/internal/http"

// Reasons recorded on cmssearch.http.auth_failures_total.
const (
	authReasonInvalid       = "invalid_credentials"
	authReasonNotConfigured = "not_configured"
)

// HTTPMetrics records API traffic. A nil *HTTPMetrics records nothing.
type HTTPMetrics struct {
	requests    metric.Int64Counter
	duration    metric.Float64Histogram
	inFlight    metric.Int64UpDownCounter
	authFailed  metric.Int64Counter
	rateLimited metric.Int64Counter
}

// NewHTTPMetrics creates HTTP metrics on meter, or on the global provider
// when meter is nil. Instruments that fail to register are logged and left
// unset.
func NewHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create http instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &HTTPMetrics{}
	var err error
	m.requests, err = meter.Int64Counter(
		"cmssearch.http.requests_total",
		metric.WithDescription("API requests by method, route template and status class"),
		metric.WithUnit("{request}"),
	)
	warn("requests_total", err)

	m.duration, err = meter.Float64Histogram(
		"cmssearch.http.request_duration_seconds",
		metric.WithDescription("API request latency by route template"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 45),
	)
	warn("request_duration_seconds", err)

	m.inFlight, err = meter.Int64UpDownCounter(
		"cmssearch.http.in_flight_requests",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"),
	)
	warn("in_flight_requests", err)

	m.authFailed, err = meter.Int64Counter(
		"cmssearch.http.auth_failures_total",
		metric.WithDescription("Rejected basic-auth attempts on the /api routes"),
		metric.WithUnit("{request}"),
	)
	warn("auth_failures_total", err)

	m.rateLimited, err = meter.Int64Counter(
		"cmssearch.http.rate_limited_total",
		metric.WithDescription("Requests denied by the per-IP limiter"),
		metric.WithUnit("{request}"),
	)
	warn("rate_limited_total", err)

	return m
}

// MetricsMiddleware returns an Echo middleware that records request metrics.
// It must run outside the middleware that renders handler errors so the
// final status is visible.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m == nil {
			return next
		}
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			route := normalizePath(c.Path())
			if m.requests != nil {
				m.requests.Add(ctx, 1, metric.WithAttributes(
					attribute.String("method", c.Request().Method),
					attribute.String("endpoint", route),
					attribute.String("status_class", statusClass(c.Response().Status)),
				))
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
					attribute.String("endpoint", route),
				))
			}
			return err
		}
	}
}

// RecordAuthFailure counts one rejected basic-auth attempt.
func (m *HTTPMetrics) RecordAuthFailure(ctx context.Context, reason string) {
	if m == nil || m.authFailed == nil {
		return
	}
	m.authFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRateLimited counts one request denied by the limiter.
func (m *HTTPMetrics) RecordRateLimited(ctx context.Context) {
	if m == nil || m.rateLimited == nil {
		return
	}
	m.rateLimited.Add(ctx, 1)
}

// normalizePath returns the route template for a request. Echo reports
// templates such as /api/reindex/:contentType/:entryUid, so parameters never
// reach metric labels. Unmatched requests share one label.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

// statusClass buckets a status code as 2xx, 4xx and so on.
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
