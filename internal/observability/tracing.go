package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer for rcrt's two daemons, trimmed from
// the teacher's TraceConfig (service name/version/environment/endpoint/
// sampling) down to what rcrt actually varies per daemon. rcrt has no HTTP
// server to propagate trace context across and no OTLP collector endpoint
// in its own config surface, so the exporter wiring the teacher does for
// its webhook/channel handlers was dropped — see DESIGN.md — leaving a
// real SDK TracerProvider that an operator can attach a
// sdktrace.SpanProcessor/exporter to from cmd/ without touching this
// package.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a Tracer backed by a real SDK TracerProvider (so
// span.SetAttributes/span.RecordError/span.End all behave correctly) for
// the given service name, and a shutdown func to call on daemon exit.
func NewTracer(serviceName string) (*Tracer, func(context.Context) error) {
	if serviceName == "" {
		serviceName = "rcrt"
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(provider)

	return &Tracer{provider: provider, tracer: provider.Tracer(serviceName)}, provider.Shutdown
}

// Start creates a span and returns the context carrying it; the caller
// must call span.End(). A nil Tracer returns the no-op span already
// attached to ctx, so call sites can hold an optionally-nil *Tracer.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
