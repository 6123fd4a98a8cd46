package engine

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// RegisterRuleCountGauge exposes swarm_scan_rules_loaded as an observable
// gauge backed by count, so the reported value tracks the live engine
// across hot swaps instead of a number recorded at startup.
func RegisterRuleCountGauge(meter metric.Meter, count func() int64) error {
	gauge, err := meter.Int64ObservableGauge("swarm_scan_rules_loaded")
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, count())
		return nil
	}, gauge)
	return err
}
