package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/signalsfoundry/lora-simulator/internal/logging"
)

func clearTracingEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LORASIM_TRACING_ENABLED",
		"LORASIM_TRACING_EXPORTER",
		"LORASIM_TRACING_SERVICE_NAME",
		"LORASIM_TRACING_SAMPLE_RATIO",
		"LORASIM_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func restoreNoopProvider(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
}

func TestTracingConfigFromEnvDefaults(t *testing.T) {
	clearTracingEnv(t)

	cfg := TracingConfigFromEnv()
	require.False(t, cfg.Enabled)
	require.Equal(t, "stdout", cfg.Exporter)
	require.Equal(t, "lora-simulator", cfg.ServiceName)
	require.Equal(t, 1.0, cfg.SampleRatio)
	require.Equal(t, RunInfo{}, cfg.Run)
}

func TestTracingConfigFromEnvOverrides(t *testing.T) {
	clearTracingEnv(t)
	t.Setenv("LORASIM_TRACING_ENABLED", "TRUE")
	t.Setenv("LORASIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("LORASIM_TRACING_SERVICE_NAME", "bench")
	t.Setenv("LORASIM_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("LORASIM_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	require.True(t, cfg.Enabled)
	require.Equal(t, "otlp", cfg.Exporter)
	require.Equal(t, "bench", cfg.ServiceName)
	require.Equal(t, "collector:4317", cfg.Endpoint)
	require.Equal(t, 0.25, cfg.SampleRatio)

	t.Setenv("LORASIM_TRACING_SAMPLE_RATIO", "7")
	require.Equal(t, 1.0, TracingConfigFromEnv().SampleRatio, "out-of-range ratio falls back to 1")
}

func TestRunInfoAttributes(t *testing.T) {
	run := RunInfo{
		ID:             "run-7",
		TicksPerSecond: 1000,
		Ticks:          60000,
		Mode:           "ACCELERATED",
		OverlapPolicy:  "permissive",
		Nodes:          4,
	}
	require.ElementsMatch(t, []attribute.KeyValue{
		attribute.String("lorasim.run_id", "run-7"),
		attribute.Float64("lorasim.ticks_per_second", 1000),
		attribute.Int64("lorasim.ticks", 60000),
		attribute.String("lorasim.time_mode", "ACCELERATED"),
		attribute.String("lorasim.overlap_policy", "permissive"),
		attribute.Int("lorasim.nodes", 4),
	}, run.Attributes())

	require.Empty(t, RunInfo{}.Attributes())
}

func TestInitTracingExportsRunResource(t *testing.T) {
	restoreNoopProvider(t)
	var out bytes.Buffer
	cfg := TracingConfig{
		Enabled:     true,
		Exporter:    "stdout",
		Output:      &out,
		SampleRatio: 1,
		Run:         RunInfo{ID: "run-42", TicksPerSecond: 500, OverlapPolicy: "intersect"},
	}

	shutdown, err := InitTracing(context.Background(), cfg, logging.Noop())
	require.NoError(t, err)

	ctx, span := StartRun(context.Background(), cfg.Run)
	require.True(t, span.SpanContext().IsValid())
	_, child := Tracer("core").Start(ctx, "engine.sample")
	require.Equal(t, span.SpanContext().TraceID(), child.SpanContext().TraceID())
	child.End()
	span.End()

	ShutdownWithTimeout(context.Background(), shutdown, nil)

	exported := out.String()
	require.Contains(t, exported, "simulation.run")
	require.Contains(t, exported, "engine.sample")
	require.Contains(t, exported, "lorasim.run_id")
	require.Contains(t, exported, "run-42")
	require.Contains(t, exported, "lorasim.overlap_policy")
	require.Contains(t, exported, "lora-simulator")
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	restoreNoopProvider(t)

	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := StartRun(context.Background(), RunInfo{ID: "run-1"})
	require.False(t, span.SpanContext().IsValid(), "noop provider should not produce valid spans")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	require.ErrorContains(t, err, "zipkin")
}
