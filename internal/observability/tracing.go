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

	"github.com/signalsfoundry/railsection-simulator/internal/logging"
)

// Span exporters understood by InitTracing.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const (
	instrumentationName = "github.com/signalsfoundry/railsection-simulator"
	defaultOTLPEndpoint = "localhost:4317"
	shutdownTimeout     = 5 * time.Second
)

// Span attribute keys for simulation work.
const (
	AttrSessionID = attribute.Key("railsim.session.id")
	AttrCaseID    = attribute.Key("railsim.case.id")
	AttrTrainID   = attribute.Key("railsim.train.id")
	AttrTick      = attribute.Key("railsim.tick")
)

// TracingConfig selects the span pipeline.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string
	Endpoint    string // OTLP collector, host:port
	SampleRatio float64
	// Writer receives stdout exporter output; os.Stdout when nil.
	Writer io.Writer
}

// TracingConfigFromEnv reads RAILSIM_TRACING_ENABLED, _EXPORTER,
// _SERVICE_NAME, _SAMPLE_RATIO and RAILSIM_OTLP_ENDPOINT. A sample ratio
// outside [0,1] falls back to 1.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("RAILSIM_TRACING_ENABLED"), "true"),
		ServiceName: envOr("RAILSIM_TRACING_SERVICE_NAME", "railsim"),
		Exporter:    strings.ToLower(envOr("RAILSIM_TRACING_EXPORTER", ExporterStdout)),
		Endpoint:    os.Getenv("RAILSIM_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if r, err := strconv.ParseFloat(os.Getenv("RAILSIM_TRACING_SAMPLE_RATIO"), 64); err == nil && r >= 0 && r <= 1 {
		cfg.SampleRatio = r
	}
	if cfg.Exporter == ExporterNone {
		cfg.Enabled = false
	}
	return cfg
}

// InitTracing installs the global tracer provider and propagators. With
// tracing disabled a noop provider is installed so Tracer stays usable.
// The returned function flushes and stops the provider.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "railsim"),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case ExporterStdout, "":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint(), stdouttrace.WithoutTimestamps())
	case ExporterOTLP, "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes spans, giving up after a few seconds. Errors
// are logged, not returned.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil && log != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

// Tracer returns the tracer used for session ticks, decisions and control
// requests. It resolves the global provider on every call, so spans follow
// whatever InitTracing installed last.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// SessionAttributes identifies a session on a span. Empty IDs are omitted.
func SessionAttributes(sessionID, caseID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if sessionID != "" {
		attrs = append(attrs, AttrSessionID.String(sessionID))
	}
	if caseID != "" {
		attrs = append(attrs, AttrCaseID.String(caseID))
	}
	return attrs
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
