package sweep

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loyaltyengage/loyalty-bridge/errs"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/cartstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/infra/config"
	"github.com/loyaltyengage/loyalty-bridge/internal/loyalty"
	"github.com/loyaltyengage/loyalty-bridge/internal/observability"
	"github.com/loyaltyengage/loyalty-bridge/internal/telemetry"
)

// CartAPI is the slice of the loyalty client the cart expiry sweep drives.
type CartAPI interface {
	RemoveAllItems(ctx context.Context, email string) (loyalty.Outcome, error)
}

// CartExpiry empties remote carts whose local mirror aged past the configured
// TTL, deactivating the mirror only after the engine confirmed.
type CartExpiry struct {
	carts  cartstore.Store
	api    CartAPI
	cfg    config.SweepsConfig
	logger observability.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewCartExpiry constructs the cart expiry sweep.
func NewCartExpiry(carts cartstore.Store, api CartAPI, cfg config.SweepsConfig, logger observability.Logger) (*CartExpiry, error) {
	if carts == nil {
		return nil, errs.New("sweep", errs.CodeInvalid, errs.WithMessage("cart store required"))
	}
	if api == nil {
		return nil, errs.New("sweep", errs.CodeInvalid, errs.WithMessage("loyalty api required"))
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	return &CartExpiry{
		carts:  carts,
		api:    api,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Run executes the sweep on its configured interval until the context is cancelled.
func (s *CartExpiry) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CartExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("cart expiry sweep failed", observability.F("error", err))
			}
		}
	}
}

// RunOnce performs a single sweep cycle and returns the number of carts
// processed. Overlapping cycles are skipped: a run that outlives the interval
// keeps exclusive ownership until it finishes.
func (s *CartExpiry) RunOnce(ctx context.Context) (int, error) {
	if !s.mu.TryLock() {
		s.logger.Debug("cart expiry sweep already running, skipping cycle")
		return 0, nil
	}
	defer s.mu.Unlock()

	start := s.now()
	defer func() {
		recordSweepCycle(ctx, telemetry.SweepCartExpiry, s.now().Sub(start))
	}()

	cutoff := start.Add(-s.cfg.CartMaxAge)
	candidates, err := s.carts.ListExpired(ctx, cutoff, s.cfg.CartAttemptLimit, s.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("list expired carts: %w", err)
	}

	processed := 0
	for _, candidate := range candidates {
		if strings.TrimSpace(candidate.CustomerEmail) == "" {
			s.logger.Error("expired cart without customer email, skipping",
				observability.F("cartId", candidate.CartID))
			continue
		}
		s.reconcile(ctx, candidate)
		processed++
	}
	return processed, nil
}

func (s *CartExpiry) reconcile(ctx context.Context, candidate cartstore.ExpiryCandidate) {
	outcome, err := s.api.RemoveAllItems(ctx, candidate.CustomerEmail)
	if err == nil && outcome.OK() {
		if err := s.carts.Deactivate(ctx, candidate.CartID); err != nil {
			s.logger.Error("deactivate expired cart failed",
				observability.F("cartId", candidate.CartID),
				observability.F("error", err))
			return
		}
		recordSweepItem(ctx, telemetry.SweepCartExpiry, telemetry.ResultSuccess)
		s.logger.Info("expired cart emptied",
			observability.F("cartId", candidate.CartID),
			observability.F("email", candidate.CustomerEmail))
		return
	}

	if failErr := s.carts.RecordSweepFailure(ctx, candidate.CartID, s.cfg.CartAttemptLimit); failErr != nil {
		s.logger.Error("record cart sweep failure failed",
			observability.F("cartId", candidate.CartID),
			observability.F("error", failErr))
		return
	}
	recordSweepItem(ctx, telemetry.SweepCartExpiry, telemetry.ResultFailure)
	s.logger.Warn("expired cart reconciliation failed",
		observability.F("cartId", candidate.CartID),
		observability.F("email", candidate.CustomerEmail),
		observability.F("status", outcome.Status),
		observability.F("error", err))
}
