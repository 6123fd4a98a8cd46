package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterBasic(t *testing.T) {
	rl := NewRateLimiter(5, 5, time.Second, 10)
	for i := 0; i < 5; i++ {
		if !rl.Allow() {
			t.Fatalf("expected allow %d", i)
		}
	}
	if rl.Allow() {
		t.Fatal("expected deny after capacity")
	}
	time.Sleep(1100 * time.Millisecond)
	if !rl.Allow() {
		t.Fatal("expected allow after refill")
	}
}

func TestRateLimiterWindowCap(t *testing.T) {
	rl := NewRateLimiter(100, 100, time.Second, 3)
	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("expected allow %d", i)
		}
	}
	if rl.Allow() {
		t.Fatal("window cap should deny the fourth request")
	}
}

func TestCircuitBreakerAdaptive(t *testing.T) {
	cb := NewCircuitBreakerAdaptive(2*time.Second, 4, 4, 0.5, 500*time.Millisecond, 2)
	for i := 0; i < 4; i++ {
		if !cb.Allow() {
			t.Fatal("should allow while closed")
		}
		cb.RecordResult(false)
	}
	if cb.Allow() {
		t.Fatal("should be open and deny")
	}
	time.Sleep(600 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("half-open probe should allow")
	}
	cb.RecordResult(true)
	if !cb.Allow() {
		t.Fatal("second probe should allow")
	}
	cb.RecordResult(true)
	if !cb.Allow() {
		t.Fatal("breaker should be closed after successful probes")
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), 5, time.Millisecond, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if v != 7 || calls != 3 {
		t.Fatalf("got v=%d calls=%d", v, calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	sentinel := errors.New("persistent")
	_, err := Retry(context.Background(), 3, time.Millisecond, func() (int, error) {
		return 0, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("got %v, want last error", err)
	}
}
