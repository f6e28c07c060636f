package logging

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxIDLen = 128

type sessionCtxKey struct{}
type cycleCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("session.id", id))
	}
	if id := CycleIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("cycle.id", id))
	}
	return fields
}

// WithSessionID tags ctx with the live session it belongs to. Session IDs
// come from the wire, so invalid UTF-8 is replaced and long values truncated.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sanitizeID(id))
}

// SessionIDFromContext returns the session ID set by WithSessionID.
func SessionIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sessionCtxKey{}).(string)
	return s
}

// WithCycleID tags ctx with the extraction cycle being run.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleCtxKey{}, sanitizeID(id))
}

// CycleIDFromContext returns the cycle ID set by WithCycleID.
func CycleIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(cycleCtxKey{}).(string)
	return s
}

func sanitizeID(id string) string {
	if !utf8.ValidString(id) {
		id = strings.ToValidUTF8(id, "?")
	}
	if len(id) > maxIDLen {
		id = id[:maxIDLen]
		for !utf8.ValidString(id) {
			id = id[:len(id)-1]
		}
	}
	return id
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger stored by WithLogger, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
