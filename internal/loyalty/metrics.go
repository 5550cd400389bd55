package loyalty

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loyaltyengage/loyalty-bridge/internal/telemetry"
)

var (
	remoteCallCounter metric.Int64Counter
	remoteMetricsOnce sync.Once
)

func recordRemoteCall(ctx context.Context, operation string, status int) {
	remoteMetricsOnce.Do(func() {
		meter := otel.Meter("loyalty")
		if counter, err := meter.Int64Counter("loyalty_remote_calls_total",
			metric.WithDescription("Total calls to the remote loyalty engine by operation and status"),
			metric.WithUnit("{call}")); err == nil {
			remoteCallCounter = counter
		}
	})
	if remoteCallCounter == nil {
		return
	}
	attrs := telemetry.RequestAttributes(telemetry.Environment(), operation, status)
	remoteCallCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
