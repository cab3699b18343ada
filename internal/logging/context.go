package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EntryRef identifies the CMS entry a unit of work is about.
type EntryRef struct {
	ContentType string
	UID         string
	Locale      string
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	if ref, ok := EntryFromContext(ctx); ok {
		if ref.ContentType != "" {
			fields = append(fields, zap.String("entry.content_type", ref.ContentType))
		}
		fields = append(fields, zap.String("entry.uid", ref.UID))
		if ref.Locale != "" {
			fields = append(fields, zap.String("entry.locale", ref.Locale))
		}
	}

	return fields
}

type requestCtxKey struct{}
type entryCtxKey struct{}
type loggerCtxKey struct{}

const maxIDLen = 128

// idPattern allows alphanumeric, hyphen, underscore.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateID validates a request ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context. Invalid IDs, which may come from
// client-supplied headers, are dropped rather than logged.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if validateID(requestID, "requestID") != nil {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// WithEntry records the entry being processed. A ref without a UID is ignored.
func WithEntry(ctx context.Context, ref EntryRef) context.Context {
	if ref.UID == "" {
		return ctx
	}
	return context.WithValue(ctx, entryCtxKey{}, ref)
}

// EntryFromContext returns the entry recorded by WithEntry.
func EntryFromContext(ctx context.Context) (EntryRef, bool) {
	ref, ok := ctx.Value(entryCtxKey{}).(EntryRef)
	return ref, ok
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
