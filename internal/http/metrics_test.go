package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/tenants/:tenant/documents", func(c echo.Context) error {
		return c.JSON(http.StatusOK, []string{})
	})
	e.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "down")
	})

	for _, path := range []string{"/api/v1/tenants/acme/documents", "/api/v1/tenants/globex/documents", "/fail"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	routes := map[string]int64{}
	statuses := map[int64]int64{}
	var foundDuration bool
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			switch mt.Name {
			case "ragd.http.requests_total":
				sum, ok := mt.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					route, _ := dp.Attributes.Value("route")
					status, _ := dp.Attributes.Value("status")
					routes[route.AsString()] += dp.Value
					statuses[status.AsInt64()] += dp.Value
				}
			case "ragd.http.request_duration_seconds":
				foundDuration = true
			}
		}
	}

	assert.Equal(t, int64(2), routes["/api/v1/tenants/:tenant/documents"])
	assert.Equal(t, int64(1), statuses[http.StatusServiceUnavailable])
	assert.True(t, foundDuration)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "unmatched", normalizePath(""))
	assert.Equal(t, "/health", normalizePath("/health"))
	assert.Equal(t, "/api/v1/tenants/:tenant/ask", normalizePath("/api/v1/tenants/:tenant/ask"))
}
