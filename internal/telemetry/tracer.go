// Package telemetry provides OpenTelemetry tracing for workflow runs.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// Common attribute keys.
	WorkflowNameKey = "autoflow.workflow.name"
	ExecutionIDKey  = "autoflow.execution.id"
	NodeIDKey       = "autoflow.node.id"
	NodeTypeKey     = "autoflow.node.type"
	AttemptKey      = "autoflow.node.attempt"
	FinalStateKey   = "autoflow.execution.final_state"
	ErrorCodeKey    = "autoflow.error.code"
)

// InstrumentationName names the tracer used by the engine.
const InstrumentationName = "github.com/rendis/autoflow"

// Config controls trace export. An empty Endpoint disables export.
type Config struct {
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
}

// Shutdown flushes and stops a tracer provider.
type Shutdown func(ctx context.Context) error

// Setup returns a tracer exporting over OTLP/HTTP when an endpoint is
// configured, and a no-op tracer otherwise.
//
// nolint:ireturn // trace.Tracer is the OpenTelemetry API type
func Setup(ctx context.Context, cfg Config) (trace.Tracer, Shutdown, error) {
	if cfg.Endpoint == "" {
		return Noop(), func(context.Context) error { return nil }, nil
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "autoflow"
	}

	tp, err := newTracerProvider(ctx, serviceName, cfg)
	if err != nil {
		return nil, nil, err
	}
	return tp.Tracer(InstrumentationName), tp.Shutdown, nil
}

// Noop returns a tracer that records nothing.
//
// nolint:ireturn // trace.Tracer is the OpenTelemetry API type
func Noop() trace.Tracer {
	return noop.NewTracerProvider().Tracer(InstrumentationName)
}

// nolint:ireturn,spancheck // callers own the span
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string, cfg Config) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
