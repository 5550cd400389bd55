package sweep

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loyaltyengage/loyalty-bridge/errs"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/message"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/orderstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/infra/config"
	"github.com/loyaltyengage/loyalty-bridge/internal/loyalty"
	"github.com/loyaltyengage/loyalty-bridge/internal/observability"
	"github.com/loyaltyengage/loyalty-bridge/internal/telemetry"
)

// OrderAPI is the slice of the loyalty client the order placement sweep drives.
type OrderAPI interface {
	PlaceOrder(ctx context.Context, email, orderID string, products []message.FreeProduct) (loyalty.Outcome, error)
}

// OrderPlace retries loyalty order placement for orders the engine has not yet
// accepted. Each cycle either places an order or increments its retrieve
// counter by exactly one.
type OrderPlace struct {
	orders orderstore.Store
	api    OrderAPI
	cfg    config.SweepsConfig
	logger observability.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewOrderPlace constructs the order placement sweep.
func NewOrderPlace(orders orderstore.Store, api OrderAPI, cfg config.SweepsConfig, logger observability.Logger) (*OrderPlace, error) {
	if orders == nil {
		return nil, errs.New("sweep", errs.CodeInvalid, errs.WithMessage("order store required"))
	}
	if api == nil {
		return nil, errs.New("sweep", errs.CodeInvalid, errs.WithMessage("loyalty api required"))
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	return &OrderPlace{
		orders: orders,
		api:    api,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Run executes the sweep on its configured interval until the context is cancelled.
func (s *OrderPlace) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.OrderPlaceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("order place sweep failed", observability.F("error", err))
			}
		}
	}
}

// RunOnce performs a single sweep cycle and returns the number of orders
// processed. Overlapping cycles are skipped.
func (s *OrderPlace) RunOnce(ctx context.Context) (int, error) {
	if !s.mu.TryLock() {
		s.logger.Debug("order place sweep already running, skipping cycle")
		return 0, nil
	}
	defer s.mu.Unlock()

	start := s.now()
	defer func() {
		recordSweepCycle(ctx, telemetry.SweepOrderPlace, s.now().Sub(start))
	}()

	pending, err := s.orders.ListUnplaced(ctx, s.cfg.OrderRetrieveLimit, s.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("list unplaced orders: %w", err)
	}

	processed := 0
	for _, order := range pending {
		s.place(ctx, order)
		processed++
	}
	return processed, nil
}

func (s *OrderPlace) place(ctx context.Context, order orderstore.Order) {
	outcome, err := s.api.PlaceOrder(ctx, order.CustomerEmail, order.OrderNumber, rewardLines(order.Products))
	if err == nil && outcome.OK() {
		if err := s.orders.MarkPlaced(ctx, order.ID); err != nil {
			s.logger.Error("mark order placed failed",
				observability.F("orderId", order.ID),
				observability.F("error", err))
			return
		}
		recordSweepItem(ctx, telemetry.SweepOrderPlace, telemetry.ResultSuccess)
		s.logger.Info("loyalty order placed",
			observability.F("orderId", order.ID),
			observability.F("orderNumber", order.OrderNumber),
			observability.F("email", order.CustomerEmail))
		return
	}

	if incErr := s.orders.IncrementRetrieve(ctx, order.ID); incErr != nil {
		s.logger.Error("increment order retrieve count failed",
			observability.F("orderId", order.ID),
			observability.F("error", incErr))
		return
	}
	recordSweepItem(ctx, telemetry.SweepOrderPlace, telemetry.ResultFailure)
	s.logger.Warn("loyalty order placement failed",
		observability.F("orderId", order.ID),
		observability.F("orderNumber", order.OrderNumber),
		observability.F("retrieveCount", order.RetrieveCount+1),
		observability.F("status", outcome.Status),
		observability.F("error", err))
}

// rewardLines keeps only lines that identify a product.
func rewardLines(products []message.OrderedProduct) []message.FreeProduct {
	lines := make([]message.FreeProduct, 0, len(products))
	for _, p := range products {
		if strings.TrimSpace(p.SKU) == "" || p.Quantity <= 0 {
			continue
		}
		lines = append(lines, message.FreeProduct{SKU: p.SKU, Quantity: p.Quantity})
	}
	return lines
}
