// Package logging provides structured logging for ragd.
//
// Logger wraps Zap with a Trace level below Debug, an optional
// OpenTelemetry log bridge tee'd with stdout, level-aware sampling
// (errors are never sampled) and automatic correlation fields taken from
// the context:
//
//	ctx = logging.WithTenantID(ctx, "u1")
//	ctx = logging.WithRequestID(ctx, reqID)
//	logger.Info(ctx, "query answered", zap.Bool("used_web", true))
//
// emits trace_id/span_id (when a span is active), tenant_id, request_id
// and retrieval_mode alongside the explicit fields.
//
// Packages below the wiring layer take a *zap.Logger; use Underlying to
// hand one over.
package logging
