package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RateLimiter combines a lazily refilled token bucket (burst tolerance) with
// a sliding-window hard cap (fairness under sustained load).
type RateLimiter struct {
	mu           sync.Mutex
	capacity     int64
	fillRate     float64 // tokens per second
	available    float64
	lastRefill   time.Time
	windowStart  time.Time
	windowDur    time.Duration
	windowCount  int64
	maxPerWindow int64 // 0 disables the window cap
}

// NewRateLimiter builds a limiter with the given bucket capacity, refill
// rate, and per-window cap.
func NewRateLimiter(capacity int64, fillRate float64, windowDur time.Duration, maxPerWindow int64) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		capacity:     capacity,
		fillRate:     fillRate,
		available:    float64(capacity),
		lastRefill:   now,
		windowStart:  now,
		windowDur:    windowDur,
		maxPerWindow: maxPerWindow,
	}
}

// Allow consumes one token if possible.
func (r *RateLimiter) Allow() bool {
	return r.AllowN(1)
}

// AllowN consumes n tokens if both the window cap and the bucket permit.
func (r *RateLimiter) AllowN(n int64) bool {
	if n <= 0 {
		return true
	}
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill(now)

	if now.Sub(r.windowStart) >= r.windowDur {
		r.windowStart = now
		r.windowCount = 0
	}
	if r.maxPerWindow > 0 && r.windowCount+n > r.maxPerWindow {
		recordDrop("window")
		return false
	}
	if float64(n) > r.available {
		recordDrop("tokens")
		return false
	}
	r.available -= float64(n)
	r.windowCount += n
	return true
}

// ReserveAfter reports how long until n tokens will be available.
func (r *RateLimiter) ReserveAfter(n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill(time.Now())

	shortfall := float64(n) - r.available
	if shortfall <= 0 {
		return 0
	}
	return time.Duration(shortfall / r.fillRate * float64(time.Second))
}

func (r *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(r.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	r.available += elapsed * r.fillRate
	if r.available > float64(r.capacity) {
		r.available = float64(r.capacity)
	}
	r.lastRefill = now
}

func recordDrop(reason string) {
	counter, _ := otel.Meter("swarm-go").Int64Counter("swarm_ratelimiter_drops_total")
	counter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
