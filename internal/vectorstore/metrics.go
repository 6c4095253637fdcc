package vectorstore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ragd.vectorstore")

var (
	// OperationsTotal counts index operations.
	// Labels: backend (qdrant, chromem), operation, result (success, error, invalid)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector index operations",
		},
		[]string{"backend", "operation", "result"},
	)

	// OperationDuration tracks index operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector index operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// ChunksWritten counts chunks acknowledged by upserts.
	ChunksWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "chunks_written_total",
			Help:      "Total number of chunks written to the vector index",
		},
		[]string{"backend"},
	)

	// CircuitOpen is 1 while the Qdrant circuit breaker rejects calls.
	CircuitOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "circuit_open",
			Help:      "Whether the Qdrant circuit breaker is open (1) or closed (0)",
		},
	)
)

// startOp opens a span for an index operation. The returned func records
// the span status, counters and latency; call it with the operation error.
func startOp(ctx context.Context, backend, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "vectorstore."+op,
		trace.WithAttributes(append(attrs, attribute.String("backend", backend))...))

	return ctx, func(err error) {
		OperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
		switch {
		case err == nil:
			OperationsTotal.WithLabelValues(backend, op, "success").Inc()
			span.SetStatus(codes.Ok, "")
		case errors.Is(err, ErrIndexUnavailable):
			OperationsTotal.WithLabelValues(backend, op, "error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		default:
			OperationsTotal.WithLabelValues(backend, op, "invalid").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
