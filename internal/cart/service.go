// Package cart coordinates remote loyalty cart mutations with the local mirror.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/loyaltyengage/loyalty-bridge/errs"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/cartstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/customerstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/message"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/promotionstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/loyalty"
	"github.com/loyaltyengage/loyalty-bridge/internal/observability"
	"github.com/loyaltyengage/loyalty-bridge/internal/rules"
)

// NotEligibleMessage is the user-facing message returned when the engine
// rejects an add-to-cart request.
const NotEligibleMessage = "Product could not be added. User is not eligible."

// API is the slice of the loyalty client the cart service drives.
type API interface {
	AddToCart(ctx context.Context, email, sku string) (loyalty.Outcome, error)
	RemoveItem(ctx context.Context, email, sku string, quantity int) (loyalty.Outcome, error)
	RemoveAllItems(ctx context.Context, email string) (loyalty.Outcome, error)
	ClaimDiscount(ctx context.Context, email string, discount float64) (loyalty.Discount, loyalty.Outcome, error)
}

// Service applies cart mutations remote-first: the engine decides, the local
// mirror follows only after the engine accepted.
type Service struct {
	api         API
	carts       cartstore.Store
	promotions  promotionstore.Store
	customers   customerstore.Store
	eligibility rules.Set
	logger      observability.Logger
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEligibility gates discount claims on a rule set evaluated against the
// locally mirrored customer loyalty state.
func WithEligibility(set rules.Set, customers customerstore.Store) Option {
	return func(s *Service) {
		s.eligibility = set
		s.customers = customers
	}
}

// NewService constructs the cart service.
func NewService(api API, carts cartstore.Store, promotions promotionstore.Store, logger observability.Logger, opts ...Option) (*Service, error) {
	if api == nil {
		return nil, errs.New("cart", errs.CodeInvalid, errs.WithMessage("loyalty api required"))
	}
	if carts == nil {
		return nil, errs.New("cart", errs.CodeInvalid, errs.WithMessage("cart store required"))
	}
	if promotions == nil {
		return nil, errs.New("cart", errs.CodeInvalid, errs.WithMessage("promotion store required"))
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	s := &Service{
		api:        api,
		carts:      carts,
		promotions: promotions,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// AddProduct adds one unit of a reward product. The engine is consulted first;
// any status other than 200 means the customer is not eligible and nothing is
// mirrored.
func (s *Service) AddProduct(ctx context.Context, email, sku string) error {
	if err := validateTarget(email, sku); err != nil {
		return err
	}
	outcome, err := s.api.AddToCart(ctx, email, sku)
	if err != nil {
		return err
	}
	if !outcome.OK() {
		s.logger.Info("add to cart rejected",
			observability.F("email", email),
			observability.F("sku", sku),
			observability.F("status", outcome.Status))
		return errs.NotEligible(NotEligibleMessage)
	}
	return s.mirrorLine(ctx, email, sku)
}

// RemoveProduct removes quantity units of a product remote-first. A stale local
// mirror is tolerated: a missing local line after remote success is not an error.
func (s *Service) RemoveProduct(ctx context.Context, email, sku string, quantity int) error {
	if err := validateTarget(email, sku); err != nil {
		return err
	}
	if quantity <= 0 {
		quantity = 1
	}
	outcome, err := s.api.RemoveItem(ctx, email, sku, quantity)
	if err != nil {
		return err
	}
	if !outcome.OK() {
		return errs.New("cart", errs.CodeRemote,
			errs.WithHTTP(outcome.Status),
			errs.WithMessage("remove item rejected"))
	}
	activeCart, err := s.carts.EnsureActiveCart(ctx, email)
	if err != nil {
		return err
	}
	if err := s.carts.RemoveLineItem(ctx, activeCart.ID, sku, quantity); err != nil && !errors.Is(err, cartstore.ErrNotFound) {
		return err
	}
	return nil
}

// RemoveAllProducts empties the remote cart, then the local mirror.
func (s *Service) RemoveAllProducts(ctx context.Context, email string) error {
	if err := message.ValidateEmail(email); err != nil {
		return err
	}
	outcome, err := s.api.RemoveAllItems(ctx, email)
	if err != nil {
		return err
	}
	if !outcome.OK() {
		return errs.New("cart", errs.CodeRemote,
			errs.WithHTTP(outcome.Status),
			errs.WithMessage("remove all items rejected"))
	}
	activeCart, err := s.carts.EnsureActiveCart(ctx, email)
	if err != nil {
		return err
	}
	return s.carts.ClearLineItems(ctx, activeCart.ID)
}

// ClaimDiscount adds the discount product remotely, claims the discount rate,
// ensures a local promotion row for the returned code, and mirrors the line.
// It returns the applied discount code.
func (s *Service) ClaimDiscount(ctx context.Context, email, sku string, rate float64) (string, error) {
	if err := validateTarget(email, sku); err != nil {
		return "", err
	}
	if rate <= 0 {
		return "", errs.New("cart", errs.CodeInvalid, errs.WithMessage("discount rate must be positive"))
	}
	if err := s.checkEligibility(ctx, email); err != nil {
		return "", err
	}

	outcome, err := s.api.AddToCart(ctx, email, sku)
	if err != nil {
		return "", err
	}
	if !outcome.OK() {
		return "", errs.NotEligible(NotEligibleMessage)
	}

	claimed, claimOutcome, err := s.api.ClaimDiscount(ctx, email, rate)
	if err != nil {
		return "", err
	}
	if !claimOutcome.OK() {
		return "", errs.New("cart", errs.CodeRemote,
			errs.WithHTTP(claimOutcome.Status),
			errs.WithMessage("discount claim rejected"))
	}
	code := strings.TrimSpace(claimed.DiscountCode)
	if code == "" {
		return "", errs.New("cart", errs.CodeRemote,
			errs.WithMessage("discount claim response missing code"))
	}

	if err := s.ensurePromotion(ctx, code, claimed.Discount); err != nil {
		return "", err
	}
	if err := s.mirrorLine(ctx, email, sku); err != nil {
		return "", err
	}
	s.logger.Info("discount claimed",
		observability.F("email", email),
		observability.F("code", code),
		observability.F("discount", claimed.Discount))
	return code, nil
}

// checkEligibility applies the configured rule set against the mirrored
// customer. An unknown customer evaluates as absent loyalty state.
func (s *Service) checkEligibility(ctx context.Context, email string) error {
	if len(s.eligibility) == 0 || s.customers == nil {
		return nil
	}
	var state *customerstore.Loyalty
	customer, err := s.customers.GetByEmail(ctx, email)
	switch {
	case err == nil:
		state = &customer.Loyalty
	case errors.Is(err, customerstore.ErrNotFound):
		state = nil
	default:
		return err
	}
	if !s.eligibility.Match(state) {
		return errs.NotEligible(NotEligibleMessage)
	}
	return nil
}

// ensurePromotion creates the promotion row backing a claimed code if it does
// not already exist. The stored percent is the claimed rate times one hundred.
func (s *Service) ensurePromotion(ctx context.Context, code string, rate float64) error {
	_, found, err := s.promotions.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	promotion := promotionstore.Promotion{
		ID:              uuid.NewString(),
		Code:            code,
		DiscountPercent: decimal.NewFromFloat(rate).Mul(decimal.NewFromInt(100)),
		Active:          true,
		CreatedAt:       s.now().UTC(),
	}
	return s.promotions.Create(ctx, promotion)
}

func (s *Service) mirrorLine(ctx context.Context, email, sku string) error {
	activeCart, err := s.carts.EnsureActiveCart(ctx, email)
	if err != nil {
		return err
	}
	item := cartstore.LineItem{
		SKU:       sku,
		Quantity:  1,
		UnitPrice: decimal.Zero,
		AddedAt:   s.now().UTC(),
	}
	if err := s.carts.AddLineItem(ctx, activeCart.ID, item); err != nil {
		return fmt.Errorf("mirror cart line: %w", err)
	}
	return nil
}

func validateTarget(email, sku string) error {
	if err := message.ValidateEmail(email); err != nil {
		return err
	}
	if strings.TrimSpace(sku) == "" {
		return errs.New("cart", errs.CodeInvalid, errs.WithMessage("product sku required"))
	}
	return nil
}
