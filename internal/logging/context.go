package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	tenantCtxKey  struct{}
	requestCtxKey struct{}
	modeCtxKey    struct{}
	loggerCtxKey  struct{}
)

const maxIDLen = 128

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := TenantIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("tenant_id", v))
	}
	if v := RequestIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if v := ModeFromContext(ctx); v != "" {
		fields = append(fields, zap.String("retrieval_mode", v))
	}

	return fields
}

// WithTenantID records the tenant for log correlation. Overlong values are
// truncated; this is a logging aid, not an authorization boundary.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, truncateID(tenantID))
}

// TenantIDFromContext returns the tenant recorded by WithTenantID.
func TenantIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tenantCtxKey{}).(string)
	return v
}

// WithRequestID records the request ID for log correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, truncateID(requestID))
}

// RequestIDFromContext returns the request ID recorded by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestCtxKey{}).(string)
	return v
}

// WithMode records the retrieval mode of the query being served.
func WithMode(ctx context.Context, mode string) context.Context {
	return context.WithValue(ctx, modeCtxKey{}, mode)
}

// ModeFromContext returns the mode recorded by WithMode.
func ModeFromContext(ctx context.Context) string {
	v, _ := ctx.Value(modeCtxKey{}).(string)
	return v
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored by WithLogger, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}

func truncateID(id string) string {
	if len(id) > maxIDLen {
		return id[:maxIDLen]
	}
	return id
}
