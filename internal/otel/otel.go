package otel

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
)

// Options selects where spans go.
type Options struct {
	ServiceName string
	// Endpoint is an OTLP/gRPC collector address. Empty means console output.
	Endpoint string
	// Console receives pretty-printed spans when Endpoint is empty. Nil is stdout.
	Console io.Writer
}

// InitTracer installs a global TracerProvider and the W3C trace-context
// propagator. Callers own the returned provider and must Shutdown it to
// flush buffered spans.
func InitTracer(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	exp, err := newExporter(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(opts.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp, nil
}

func newExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	if opts.Endpoint != "" {
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(opts.Endpoint),
			otlptracegrpc.WithInsecure(),
		))
	}
	stdoutOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if opts.Console != nil {
		stdoutOpts = append(stdoutOpts, stdouttrace.WithWriter(opts.Console))
	}
	return stdouttrace.New(stdoutOpts...)
}
