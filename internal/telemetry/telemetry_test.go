package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "disabled skips validation", mutate: func(c *Config) { c.Endpoint = "" }},
		{name: "enabled local insecure", mutate: func(c *Config) { c.Enabled = true }},
		{
			name:    "enabled remote insecure",
			mutate:  func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" },
			wantErr: true,
		},
		{
			name: "enabled remote tls",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Endpoint = "otel.example.com:4317"
				c.Insecure = false
			},
		},
		{
			name:    "bad sample rate",
			mutate:  func(c *Config) { c.Enabled = true; c.SampleRate = 1.5 },
			wantErr: true,
		},
		{
			name:    "bad protocol",
			mutate:  func(c *Config) { c.Enabled = true; c.Protocol = "udp" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "ragd-test",
		Endpoint:        "http://localhost:4318",
		Protocol:        "http/protobuf",
		Insecure:        true,
		SampleRate:      0.5,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "ragd-test", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.NoError(t, cfg.Validate())
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tel.Degraded())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_EnabledBuildsLoggerProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = "localhost:1"

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, tel.Degraded())
	assert.NotNil(t, tel.LoggerProvider())

	// Nothing listens on the endpoint, so the final flush may fail.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = tel.Shutdown(ctx)
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestTestTelemetry(t *testing.T) {
	tel := NewTestTelemetry()
	ctx := context.Background()

	_, span := tel.Tracer("test").Start(ctx, "retrieval.answer")
	span.End()

	counter, err := tel.Meter("test").Int64Counter("ragd.test.counter")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	assert.NotNil(t, tel.SpanByName("retrieval.answer"))
	assert.Nil(t, tel.SpanByName("missing"))
	assert.True(t, tel.HasMetric(ctx, "ragd.test.counter"))

	require.NotNil(t, tel.LoggerProvider())
	assert.Empty(t, tel.LogBodies())
}
