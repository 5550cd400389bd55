// Package dispatch drains the durable outbox and delivers loyalty events to the remote engine.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loyaltyengage/loyalty-bridge/errs"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/message"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/outboxstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/infra/config"
	"github.com/loyaltyengage/loyalty-bridge/internal/loyalty"
	"github.com/loyaltyengage/loyalty-bridge/internal/observability"
	"github.com/loyaltyengage/loyalty-bridge/internal/telemetry"
	"github.com/loyaltyengage/loyalty-bridge/lib/async"
)

// API is the slice of the loyalty client the dispatcher delivers through.
type API interface {
	SendEvent(ctx context.Context, envelopes []message.Envelope) (loyalty.Outcome, error)
	PlaceOrder(ctx context.Context, email, orderID string, products []message.FreeProduct) (loyalty.Outcome, error)
	RemoveItem(ctx context.Context, email, sku string, quantity int) (loyalty.Outcome, error)
}

var (
	dispatchCounter   metric.Int64Counter
	dispatchHistogram metric.Float64Histogram
	dispatchMetricsMu sync.Once
)

// Dispatcher polls the outbox and delivers pending events through a bounded worker pool.
type Dispatcher struct {
	store  outboxstore.Store
	api    API
	cfg    config.DispatchConfig
	pool   *async.Pool
	logger observability.Logger
	now    func() time.Time
}

// New constructs a Dispatcher. The worker pool is sized from the dispatch configuration.
func New(store outboxstore.Store, api API, cfg config.DispatchConfig, logger observability.Logger) (*Dispatcher, error) {
	if store == nil {
		return nil, errs.New("dispatch", errs.CodeInvalid, errs.WithMessage("outbox store required"))
	}
	if api == nil {
		return nil, errs.New("dispatch", errs.CodeInvalid, errs.WithMessage("loyalty api required"))
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	pool, err := async.NewPool(cfg.Workers, cfg.QueueDepth)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		store:  store,
		api:    api,
		cfg:    cfg,
		pool:   pool,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Run polls the outbox until the context is cancelled, then drains in-flight deliveries.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := d.pool.Shutdown(shutdownCtx); err != nil {
				d.logger.Warn("dispatch pool shutdown", observability.F("error", err))
			}
			return nil
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil {
				d.logger.Error("dispatch poll failed", observability.F("error", err))
			}
		}
	}
}

// RunOnce lists pending events and submits each for delivery. It returns the
// number of events submitted.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	records, err := d.store.ListPending(ctx, d.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("list pending events: %w", err)
	}
	submitted := 0
	for _, record := range records {
		record := record
		if err := d.pool.Submit(ctx, func(taskCtx context.Context) error {
			d.Deliver(taskCtx, record)
			return nil
		}); err != nil {
			// Saturated pool: the record stays pending and the next poll retries it.
			d.logger.Warn("dispatch submit rejected",
				observability.F("id", record.ID),
				observability.F("error", err))
			continue
		}
		submitted++
	}
	return submitted, nil
}

// Deliver attempts one delivery of a stored event and records the outcome.
// Delivery failures never propagate; they surface as retries or dead-letters.
func (d *Dispatcher) Deliver(ctx context.Context, record outboxstore.EventRecord) {
	start := d.now()

	msg, err := message.Decode(record.Kind, record.Payload)
	if err != nil {
		// Undecodable payloads can never succeed, so they go straight to the dead letter set.
		d.markDead(ctx, record, fmt.Sprintf("decode: %v", err))
		return
	}

	outcome, callErr := d.call(ctx, msg)
	elapsed := d.now().Sub(start)
	recordDispatchDuration(ctx, elapsed, string(record.Kind))

	if callErr == nil && outcome.OK() {
		if err := d.store.MarkDelivered(ctx, record.ID); err != nil {
			d.logger.Error("mark delivered failed",
				observability.F("id", record.ID),
				observability.F("error", err))
			return
		}
		recordDispatchOutcome(ctx, string(record.Kind), telemetry.ResultDelivered)
		d.logger.Info("event delivered",
			observability.F("id", record.ID),
			observability.F("kind", record.Kind),
			observability.F("email", record.Email),
			observability.F("status", outcome.Status),
			observability.F("attempts", record.Attempts+1))
		return
	}

	lastError := describeFailure(outcome, callErr)
	attempts := record.Attempts + 1
	if attempts >= d.cfg.MaxAttempts {
		d.markDead(ctx, record, lastError)
		return
	}

	nextAttempt := d.now().Add(d.delayFor(attempts))
	if err := d.store.MarkFailed(ctx, record.ID, lastError, nextAttempt); err != nil {
		d.logger.Error("mark failed failed",
			observability.F("id", record.ID),
			observability.F("error", err))
		return
	}
	recordDispatchOutcome(ctx, string(record.Kind), telemetry.ResultRetried)
	d.logger.Warn("event delivery failed, scheduled retry",
		observability.F("id", record.ID),
		observability.F("kind", record.Kind),
		observability.F("attempts", attempts),
		observability.F("nextAttempt", nextAttempt.Format(time.RFC3339)),
		observability.F("lastError", lastError))
}

func (d *Dispatcher) call(ctx context.Context, msg message.Message) (loyalty.Outcome, error) {
	switch m := msg.(type) {
	case message.Purchase:
		return d.api.SendEvent(ctx, m.Envelopes())
	case message.Return:
		return d.api.SendEvent(ctx, m.Envelopes())
	case message.FreeProductPurchase:
		return d.api.PlaceOrder(ctx, m.Email, m.OrderID, m.Products)
	case message.FreeProductRemove:
		return d.api.RemoveItem(ctx, m.Email, m.ProductID, m.Quantity)
	default:
		return loyalty.Outcome{}, errs.New("dispatch", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("no handler for message kind %q", msg.Kind())))
	}
}

func (d *Dispatcher) markDead(ctx context.Context, record outboxstore.EventRecord, lastError string) {
	if err := d.store.MarkDead(ctx, record.ID, lastError); err != nil {
		d.logger.Error("mark dead failed",
			observability.F("id", record.ID),
			observability.F("error", err))
		return
	}
	recordDispatchOutcome(ctx, string(record.Kind), telemetry.ResultDead)
	d.logger.Error("event dead-lettered",
		observability.F("id", record.ID),
		observability.F("kind", record.Kind),
		observability.F("email", record.Email),
		observability.F("canonical", errs.CanonicalDeliveryExhausted),
		observability.F("lastError", lastError))
}

// delayFor returns the backoff delay preceding the given attempt number.
func (d *Dispatcher) delayFor(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialBackoff
	bo.MaxInterval = d.cfg.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	delay := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		next := bo.NextBackOff()
		if next == backoff.Stop {
			break
		}
		delay = next
	}
	if delay > d.cfg.MaxBackoff {
		delay = d.cfg.MaxBackoff
	}
	return delay
}

func describeFailure(outcome loyalty.Outcome, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("remote status %d", outcome.Status)
}

func recordDispatchOutcome(ctx context.Context, kind, result string) {
	initDispatchMetrics()
	if dispatchCounter == nil {
		return
	}
	attrs := telemetry.DispatchAttributes(telemetry.Environment(), kind, result)
	dispatchCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func recordDispatchDuration(ctx context.Context, elapsed time.Duration, kind string) {
	initDispatchMetrics()
	if dispatchHistogram == nil {
		return
	}
	attrs := telemetry.DispatchAttributes(telemetry.Environment(), kind, "")
	dispatchHistogram.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(attrs...))
}

func initDispatchMetrics() {
	dispatchMetricsMu.Do(func() {
		meter := otel.Meter("dispatch")
		if counter, err := meter.Int64Counter("loyalty_dispatch_events_total",
			metric.WithDescription("Total outbox events processed by dispatch outcome"),
			metric.WithUnit("{event}")); err == nil {
			dispatchCounter = counter
		}
		if histogram, err := meter.Float64Histogram("dispatch.delivery.duration",
			metric.WithDescription("Dispatch delivery duration"),
			metric.WithUnit("ms")); err == nil {
			dispatchHistogram = histogram
		}
	})
}
