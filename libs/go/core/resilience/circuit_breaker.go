package resilience

import (
	"context"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
)

// CircuitBreaker opens when the failure rate over a rolling window crosses a
// threshold and recovers through a bounded set of half-open probes. The
// threshold adapts between bounds derived from the configured baseline so a
// noisy dependency trips faster and a quiet one does not flap.
type CircuitBreaker struct {
	mu sync.Mutex

	minSamples        int
	baselineThreshold float64
	halfOpenAfter     time.Duration
	maxHalfOpenProbes int
	minThreshold      float64
	maxThreshold      float64
	evalInterval      time.Duration

	state            breakerState
	openedAt         time.Time
	window           *slidingWindow
	halfOpenProbes   int
	dynamicThreshold float64
	lastEval         time.Time
}

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// NewCircuitBreakerAdaptive builds a breaker over a rolling window of
// windowSize split into buckets. Evaluation starts after minSamples
// outcomes; failureRateOpen is the baseline open threshold in [0,1].
func NewCircuitBreakerAdaptive(windowSize time.Duration, buckets, minSamples int, failureRateOpen float64, halfOpenAfter time.Duration, maxHalfOpenProbes int) *CircuitBreaker {
	if buckets <= 0 {
		buckets = 1
	}
	baseline := math.Min(math.Max(failureRateOpen, 0), 1)
	return &CircuitBreaker{
		minSamples:        minSamples,
		baselineThreshold: baseline,
		halfOpenAfter:     halfOpenAfter,
		maxHalfOpenProbes: maxHalfOpenProbes,
		minThreshold:      math.Min(math.Max(baseline*0.5, 0.05), baseline),
		maxThreshold:      math.Min(0.95, math.Max(baseline*1.5, baseline)),
		evalInterval:      5 * time.Second,
		state:             stateClosed,
		window:            newSlidingWindow(windowSize, buckets),
		dynamicThreshold:  baseline,
	}
}

// Allow reports whether a request may proceed, advancing open -> half-open
// once the cool-down has elapsed.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateOpen:
		if time.Since(c.openedAt) < c.halfOpenAfter {
			return false
		}
		c.state = stateHalfOpen
		c.halfOpenProbes = 0
		fallthrough
	case stateHalfOpen:
		if c.halfOpenProbes >= c.maxHalfOpenProbes {
			return false
		}
		c.halfOpenProbes++
	}
	return true
}

// RecordResult feeds an outcome back into the window and drives state
// transitions.
func (c *CircuitBreaker) RecordResult(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window.add(success)
	c.reevaluateThreshold()

	switch c.state {
	case stateClosed:
		total, failures := c.window.stats()
		if total >= c.minSamples && float64(failures)/float64(total) >= c.dynamicThreshold {
			c.open()
		}
	case stateHalfOpen:
		if !success {
			c.open()
		} else if c.halfOpenProbes >= c.maxHalfOpenProbes {
			c.reset()
		}
	}
}

// reevaluateThreshold nudges the open threshold toward minThreshold while
// failures run hot and back toward maxThreshold while they run cold.
func (c *CircuitBreaker) reevaluateThreshold() {
	if time.Since(c.lastEval) < c.evalInterval {
		return
	}
	total, failures := c.window.stats()
	if total > 0 {
		if float64(failures)/float64(total) > c.baselineThreshold {
			c.dynamicThreshold = math.Max(c.minThreshold, c.dynamicThreshold*0.7)
		} else {
			c.dynamicThreshold = math.Min(c.maxThreshold, c.dynamicThreshold*1.05)
		}
	}
	c.lastEval = time.Now()
}

func (c *CircuitBreaker) open() {
	c.state = stateOpen
	c.openedAt = time.Now()
	counter, _ := otel.Meter("swarm-go").Int64Counter("swarm_resilience_circuit_open_total")
	counter.Add(context.Background(), 1)
}

func (c *CircuitBreaker) reset() {
	c.state = stateClosed
	c.openedAt = time.Time{}
	c.window.reset()
	counter, _ := otel.Meter("swarm-go").Int64Counter("swarm_resilience_circuit_closed_total")
	counter.Add(context.Background(), 1)
}

// slidingWindow stores success/failure counts in fixed time buckets.
type slidingWindow struct {
	interval time.Duration
	data     []bucket
	nowFn    func() time.Time
}

type bucket struct{ success, fail int }

func newSlidingWindow(size time.Duration, buckets int) *slidingWindow {
	return &slidingWindow{
		interval: size / time.Duration(buckets),
		data:     make([]bucket, buckets),
		nowFn:    time.Now,
	}
}

func (w *slidingWindow) add(success bool) {
	idx := int(w.nowFn().UnixNano()/w.interval.Nanoseconds()) % len(w.data)
	if success {
		w.data[idx].success++
	} else {
		w.data[idx].fail++
	}
}

func (w *slidingWindow) stats() (total, failures int) {
	for _, b := range w.data {
		total += b.success + b.fail
		failures += b.fail
	}
	return
}

func (w *slidingWindow) reset() {
	for i := range w.data {
		w.data[i] = bucket{}
	}
}
