package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracingConfigFromEnvDefaults(t *testing.T) {
	cfg := TracingConfigFromEnv()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "stdout", cfg.Exporter)
	assert.Equal(t, "meshheal", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRatio)
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("MESHHEAL_TRACING_ENABLED", "TRUE")
	t.Setenv("MESHHEAL_TRACING_EXPORTER", "OTLP")
	t.Setenv("MESHHEAL_TRACING_SERVICE_NAME", "mesh-test")
	t.Setenv("MESHHEAL_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("MESHHEAL_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "otlp", cfg.Exporter)
	assert.Equal(t, "mesh-test", cfg.ServiceName)
	assert.Equal(t, 0.25, cfg.SampleRatio)
	assert.Equal(t, "collector:4317", cfg.Endpoint)

	t.Setenv("MESHHEAL_TRACING_SAMPLE_RATIO", "7")
	assert.Equal(t, 1.0, TracingConfigFromEnv().SampleRatio, "out of range ratio ignored")
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, span := Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "meshheal-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "heal")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"heal"`)

	_, err = InitTracing(context.Background(), TracingConfig{}, nil)
	require.NoError(t, err)
}

func TestInitTracingUnsupportedExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	assert.Error(t, err)
}

func TestShutdownWithTimeout(t *testing.T) {
	called := false
	ShutdownWithTimeout(context.Background(), func(context.Context) error {
		called = true
		return errors.New("flush failed")
	}, nil)
	assert.True(t, called)

	assert.NotPanics(t, func() { ShutdownWithTimeout(context.Background(), nil, nil) })
}
