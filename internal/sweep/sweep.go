// Package sweep reconciles local cart and order state with the loyalty engine
// on fixed intervals.
package sweep

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loyaltyengage/loyalty-bridge/internal/telemetry"
)

var (
	sweepCounter   metric.Int64Counter
	sweepHistogram metric.Float64Histogram
	sweepMetricsMu sync.Once
)

func recordSweepItem(ctx context.Context, sweep, result string) {
	initSweepMetrics()
	if sweepCounter == nil {
		return
	}
	attrs := telemetry.SweepAttributes(telemetry.Environment(), sweep, result)
	sweepCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func recordSweepCycle(ctx context.Context, sweep string, elapsed time.Duration) {
	initSweepMetrics()
	if sweepHistogram == nil {
		return
	}
	attrs := telemetry.SweepAttributes(telemetry.Environment(), sweep, "")
	sweepHistogram.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(attrs...))
}

func initSweepMetrics() {
	sweepMetricsMu.Do(func() {
		meter := otel.Meter("sweep")
		if counter, err := meter.Int64Counter("loyalty_sweep_items_total",
			metric.WithDescription("Total items processed by reconciliation sweeps"),
			metric.WithUnit("{item}")); err == nil {
			sweepCounter = counter
		}
		if histogram, err := meter.Float64Histogram("sweep.cycle.duration",
			metric.WithDescription("Reconciliation sweep cycle duration"),
			metric.WithUnit("ms")); err == nil {
			sweepHistogram = histogram
		}
	})
}
