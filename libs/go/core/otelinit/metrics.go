package otelinit

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Metrics holds the instruments shared by the resilience helpers.
type Metrics struct {
	RetryAttempts          metric.Int64Counter
	CircuitOpenTransitions metric.Int64Counter
	RateLimiterDrops       metric.Int64Counter
}

// InitMetrics installs a global meter provider pushing OTLP over gRPC.
// Endpoint: OTEL_EXPORTER_OTLP_METRICS_ENDPOINT, falling back to
// OTEL_EXPORTER_OTLP_ENDPOINT; push interval: SWARM_METRICS_INTERVAL_SEC
// (default 10). On exporter failure the returned shutdown is a no-op and
// metrics go through the default (no-op) provider.
func InitMetrics(ctx context.Context, service string) (func(context.Context) error, Metrics) {
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpointFromEnv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")),
		otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		slog.Warn("otel metric exporter init failed", "error", err)
		return func(context.Context) error { return nil }, commonInstruments()
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(pushInterval()))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(serviceResource(service)),
	)
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "interval", pushInterval().String())
	return mp.Shutdown, commonInstruments()
}

func pushInterval() time.Duration {
	if v, err := strconv.Atoi(os.Getenv("SWARM_METRICS_INTERVAL_SEC")); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return 10 * time.Second
}

func commonInstruments() Metrics {
	meter := otel.Meter("swarm-go")
	retry, _ := meter.Int64Counter("swarm_resilience_retry_attempts_total")
	circuit, _ := meter.Int64Counter("swarm_resilience_circuit_open_total")
	drops, _ := meter.Int64Counter("swarm_ratelimiter_drops_total")
	return Metrics{
		RetryAttempts:          retry,
		CircuitOpenTransitions: circuit,
		RateLimiterDrops:       drops,
	}
}
