package resilience

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const maxBackoff = 60 * time.Second

var (
	instrumentsOnce sync.Once
	retryAttempts   metric.Int64Counter
	retrySuccess    metric.Int64Counter
	retryFailure    metric.Int64Counter
)

func retryInstruments() {
	meter := otel.Meter("swarm-go")
	retryAttempts, _ = meter.Int64Counter("swarm_resilience_retry_attempts_total")
	retrySuccess, _ = meter.Int64Counter("swarm_resilience_retry_success_total")
	retryFailure, _ = meter.Int64Counter("swarm_resilience_retry_fail_total")
}

// Retry executes fn up to attempts times with exponential backoff and full
// jitter: each sleep is uniform in [0, currentDelay], and the delay doubles
// per attempt up to a 60s cap. Returns the last error when every attempt
// fails, or ctx.Err() if the context ends between attempts.
func Retry[T any](ctx context.Context, attempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		return zero, nil
	}
	instrumentsOnce.Do(retryInstruments)

	cur := delay
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn()
		retryAttempts.Add(ctx, 1)
		if err == nil {
			retrySuccess.Add(ctx, 1)
			return v, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if cur > maxBackoff {
			cur = maxBackoff
		}
		sleep := time.Duration(rand.Int63n(int64(cur) + 1))
		select {
		case <-ctx.Done():
			retryFailure.Add(ctx, 1)
			return zero, ctx.Err()
		case <-time.After(sleep):
		}
		cur *= 2
	}
	retryFailure.Add(ctx, 1)
	return zero, lastErr
}
