package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/promotionstore"
)

// PromotionStore persists cart-scope percentage promotions behind claimed codes.
type PromotionStore struct {
	pool *pgxpool.Pool
}

// NewPromotionStore constructs a PromotionStore backed by the provided pool.
func NewPromotionStore(pool *pgxpool.Pool) *PromotionStore {
	return &PromotionStore{pool: pool}
}

const (
	promotionSelectByCodeSQL = `
SELECT
    id,
    code,
    discount_percent::text,
    active,
    created_at
FROM promotions
WHERE code = $1;
`

	promotionInsertSQL = `
INSERT INTO promotions (id, code, discount_percent, active)
VALUES ($1, $2, $3, $4);
`
)

// GetByCode loads a promotion by its discount code. The boolean reports presence.
func (s *PromotionStore) GetByCode(ctx context.Context, code string) (promotionstore.Promotion, bool, error) {
	if s.pool == nil {
		return promotionstore.Promotion{}, false, fmt.Errorf("promotion store: nil pool")
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return promotionstore.Promotion{}, false, fmt.Errorf("promotion store: code required")
	}
	var (
		promotion  promotionstore.Promotion
		rawPercent string
	)
	row := s.pool.QueryRow(ctx, promotionSelectByCodeSQL, trimmed)
	if err := row.Scan(
		&promotion.ID,
		&promotion.Code,
		&rawPercent,
		&promotion.Active,
		&promotion.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promotionstore.Promotion{}, false, nil
		}
		return promotionstore.Promotion{}, false, fmt.Errorf("promotion store: get by code: %w", err)
	}
	percent, err := decimal.NewFromString(rawPercent)
	if err != nil {
		return promotionstore.Promotion{}, false, fmt.Errorf("promotion store: parse percent %q: %w", rawPercent, err)
	}
	promotion.DiscountPercent = percent
	return promotion, true, nil
}

// Create inserts a new promotion.
func (s *PromotionStore) Create(ctx context.Context, promotion promotionstore.Promotion) error {
	if s.pool == nil {
		return fmt.Errorf("promotion store: nil pool")
	}
	code := strings.TrimSpace(promotion.Code)
	if code == "" {
		return fmt.Errorf("promotion store: code required")
	}
	percent, err := numericFromDecimal(promotion.DiscountPercent)
	if err != nil {
		return fmt.Errorf("promotion store: %w", err)
	}
	if _, err := s.pool.Exec(ctx, promotionInsertSQL, promotion.ID, code, percent, promotion.Active); err != nil {
		return fmt.Errorf("promotion store: create: %w", err)
	}
	return nil
}

var _ promotionstore.Store = (*PromotionStore)(nil)
