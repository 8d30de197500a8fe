// Package telemetry provides OpenTelemetry tracing for live sessions: the
// tracer provider, propagation, and an event listener that spans each
// session's lifetime.
package telemetry

import (
	"context"

	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// InstrumentationName is the OTel instrumentation scope name.
	InstrumentationName = "github.com/AltairaLabs/robolive"

	// InstrumentationVersion is the OTel instrumentation scope version.
	InstrumentationVersion = "0.1.0"

	// DefaultServiceName is reported when none is configured.
	DefaultServiceName = "robolive"
)

// Tracer returns a named tracer from tp, or from the global provider if tp
// is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(InstrumentationVersion))
}

// NewTracerProvider creates a TracerProvider exporting via OTLP/HTTP. The
// caller must Shutdown the returned provider.
func NewTracerProvider(ctx context.Context, endpoint, serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, err
	}
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// SetupPropagation installs W3C TraceContext, Baggage and AWS X-Ray
// propagation globally. The detector's HTTP client injects these headers.
func SetupPropagation() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
		xray.Propagator{},
	))
}

// Setup returns a tracer provider for endpoint and a shutdown func. An empty
// endpoint yields a no-op provider.
func Setup(ctx context.Context, endpoint, serviceName string) (trace.TracerProvider, func(context.Context) error, error) {
	if endpoint == "" {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}
	tp, err := NewTracerProvider(ctx, endpoint, serviceName)
	if err != nil {
		return nil, nil, err
	}
	otel.SetTracerProvider(tp)
	SetupPropagation()
	return tp, tp.Shutdown, nil
}
