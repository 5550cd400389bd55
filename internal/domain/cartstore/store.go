// Package cartstore defines persistence contracts for local loyalty carts.
package cartstore

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound reports that the referenced cart or line item does not exist.
var ErrNotFound = errors.New("cart entry not found")

// Cart is the persisted snapshot of a customer's loyalty cart.
type Cart struct {
	ID            string
	CustomerEmail string
	Active        bool
	SweepAttempts int
	DeadLettered  bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LineItem is a single reward product held in a cart.
type LineItem struct {
	SKU       string
	Quantity  int
	UnitPrice decimal.Decimal
	AddedAt   time.Time
}

// ExpiryCandidate references a cart aged past its TTL threshold.
type ExpiryCandidate struct {
	CartID        string
	CustomerEmail string
	CreatedAt     time.Time
}

// Store defines the contract for cart persistence operations.
type Store interface {
	// EnsureActiveCart returns the customer's active cart, creating one if absent.
	EnsureActiveCart(ctx context.Context, email string) (Cart, error)
	AddLineItem(ctx context.Context, cartID string, item LineItem) error
	RemoveLineItem(ctx context.Context, cartID, sku string, quantity int) error
	ClearLineItems(ctx context.Context, cartID string) error
	ListLineItems(ctx context.Context, cartID string) ([]LineItem, error)

	// ListExpired returns active, non-dead-lettered carts created at or before
	// the cutoff whose sweep attempts are below the limit.
	ListExpired(ctx context.Context, cutoff time.Time, attemptLimit, limit int) ([]ExpiryCandidate, error)
	// Deactivate flips the cart's active flag off after remote confirmation.
	Deactivate(ctx context.Context, cartID string) error
	// RecordSweepFailure increments the sweep attempt counter and dead-letters
	// the cart once the limit is reached.
	RecordSweepFailure(ctx context.Context, cartID string, attemptLimit int) error
}
