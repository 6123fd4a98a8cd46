package otelinit

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InitTracer installs a global tracer provider exporting OTLP over gRPC to
// OTEL_EXPORTER_OTLP_ENDPOINT (default localhost:4317). Exporter init
// failure is downgraded to a warning; the returned shutdown is then a no-op
// so services never fail to start because the collector is away.
func InitTracer(ctx context.Context, service string) func(context.Context) error {
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpointFromEnv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		slog.Warn("otel trace exporter init failed", "error", err)
		return func(context.Context) error { return nil }
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(serviceResource(service)),
	)
	otel.SetTracerProvider(tp)
	slog.Info("otel tracer initialized")
	return tp.Shutdown
}

// WithSpan starts a span and returns the derived context plus an end func.
func WithSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := otel.Tracer("swarm-go").Start(ctx, name)
	return ctx, func() { span.End() }
}

// Flush drains a shutdown func with a bounded timeout, for use on exit.
func Flush(ctx context.Context, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func serviceResource(service string) *resource.Resource {
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	return res
}

func endpointFromEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return "localhost:4317"
}
