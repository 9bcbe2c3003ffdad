package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/lora-simulator/internal/logging"
)

const instrumentationRoot = "github.com/signalsfoundry/lora-simulator"

// RunInfo describes the simulation run every exported span belongs to.
type RunInfo struct {
	ID             string
	TicksPerSecond float64
	Ticks          int64
	Mode           string
	OverlapPolicy  string
	Nodes          int
}

// Attributes renders the run as lorasim.* attributes. Zero fields are left out.
func (r RunInfo) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if r.ID != "" {
		attrs = append(attrs, attribute.String("lorasim.run_id", r.ID))
	}
	if r.TicksPerSecond > 0 {
		attrs = append(attrs, attribute.Float64("lorasim.ticks_per_second", r.TicksPerSecond))
	}
	if r.Ticks > 0 {
		attrs = append(attrs, attribute.Int64("lorasim.ticks", r.Ticks))
	}
	if r.Mode != "" {
		attrs = append(attrs, attribute.String("lorasim.time_mode", r.Mode))
	}
	if r.OverlapPolicy != "" {
		attrs = append(attrs, attribute.String("lorasim.overlap_policy", r.OverlapPolicy))
	}
	if r.Nodes > 0 {
		attrs = append(attrs, attribute.Int("lorasim.nodes", r.Nodes))
	}
	return attrs
}

// TracingConfig selects the span exporter for a run.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string    // stdout | otlp
	Endpoint    string    // otlp collector address
	Output      io.Writer // stdout exporter target, os.Stdout when nil
	SampleRatio float64
	Run         RunInfo
}

// TracingConfigFromEnv reads the LORASIM_TRACING_* and LORASIM_OTLP_ENDPOINT
// variables. Tracing stays off unless LORASIM_TRACING_ENABLED is true.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("LORASIM_TRACING_ENABLED"), "true"),
		ServiceName: envOr("LORASIM_TRACING_SERVICE_NAME", "lora-simulator"),
		Exporter:    strings.ToLower(envOr("LORASIM_TRACING_EXPORTER", "stdout")),
		Endpoint:    os.Getenv("LORASIM_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if raw := os.Getenv("LORASIM_TRACING_SAMPLE_RATIO"); raw != "" {
		if r, err := strconv.ParseFloat(raw, 64); err == nil && r >= 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// InitTracing installs the global tracer provider for one run and returns
// the function that flushes it. Disabled tracing installs a noop provider.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	service := cfg.ServiceName
	if service == "" {
		service = "lora-simulator"
	}
	attrs := append([]attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.namespace", "lorasim"),
	}, cfg.Run.Attributes()...)
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("run_id", cfg.Run.ID),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "", "stdout":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	case "otlp":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// Tracer returns the tracer for one simulator package, e.g. "core".
func Tracer(pkg string) trace.Tracer {
	return otel.Tracer(instrumentationRoot + "/" + pkg)
}

// StartRun opens the root span of a simulation run. Spans started from the
// returned context, including the time controller's, nest under it.
func StartRun(ctx context.Context, run RunInfo) (context.Context, trace.Span) {
	return Tracer("cmd/simulator").Start(ctx, "simulation.run", trace.WithAttributes(run.Attributes()...))
}

// ShutdownWithTimeout flushes pending spans, giving up after five seconds.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "flushing spans", logging.Err(err))
	}
}
