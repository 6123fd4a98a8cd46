package engine

import (
	"context"
	"sync/atomic"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRuleCountGaugeTracksSwaps(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	var count atomic.Int64
	count.Store(3)
	if err := RegisterRuleCountGauge(meter, count.Load); err != nil {
		t.Fatalf("register: %v", err)
	}

	read := func() int64 {
		t.Helper()
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("collect: %v", err)
		}
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name != "swarm_scan_rules_loaded" {
					continue
				}
				g, ok := m.Data.(metricdata.Gauge[int64])
				if !ok || len(g.DataPoints) != 1 {
					t.Fatalf("unexpected gauge shape: %+v", m.Data)
				}
				return g.DataPoints[0].Value
			}
		}
		t.Fatal("gauge not collected")
		return 0
	}

	if v := read(); v != 3 {
		t.Fatalf("gauge = %d, want 3", v)
	}
	// A hot swap to an engine with fewer rules must show up on the next
	// collection, not drift from the startup value.
	count.Store(2)
	if v := read(); v != 2 {
		t.Fatalf("gauge after swap = %d, want 2", v)
	}
}
