// Package promotionstore defines persistence contracts for claimed discount promotions.
package promotionstore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Promotion is a cart-scope percentage discount backing a claimed code.
type Promotion struct {
	ID              string
	Code            string
	DiscountPercent decimal.Decimal
	Active          bool
	CreatedAt       time.Time
}

// Store defines the contract for promotion persistence operations.
type Store interface {
	GetByCode(ctx context.Context, code string) (Promotion, bool, error)
	Create(ctx context.Context, promotion Promotion) error
}
