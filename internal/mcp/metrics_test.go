package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

func TestMetrics_RecordInvocation(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	ctx := context.Background()
	m.RecordInvocation(ctx, "ask", 100*time.Millisecond, nil)
	done := m.track(ctx, "ask")
	done(fmt.Errorf("wrapped: %w", vectorstore.ErrIndexUnavailable))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var invocations, errs int64
	reasons := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			switch mt.Name {
			case "ragd.mcp.tool.invocations_total":
				for _, dp := range mt.Data.(metricdata.Sum[int64]).DataPoints {
					invocations += dp.Value
				}
			case "ragd.mcp.tool.errors_total":
				for _, dp := range mt.Data.(metricdata.Sum[int64]).DataPoints {
					errs += dp.Value
					reason, _ := dp.Attributes.Value("reason")
					reasons[reason.AsString()] = true
				}
			}
		}
	}
	assert.Equal(t, int64(2), invocations)
	assert.Equal(t, int64(1), errs)
	assert.True(t, reasons["index_error"])
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{orchestrator.ErrInvalidQuery, "validation_error"},
		{vectorstore.ErrInvalidID, "validation_error"},
		{fmt.Errorf("%w: %w", orchestrator.ErrEmbeddingFailure, context.DeadlineExceeded), "timeout"},
		{orchestrator.ErrEmbeddingFailure, "embedding_error"},
		{vectorstore.ErrIndexUnavailable, "index_error"},
		{orchestrator.ErrGenerationFailure, "generation_error"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err), "%v", tt.err)
	}
}
