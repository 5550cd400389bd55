package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/cartstore"
)

// CartStore persists loyalty carts and their reward line items.
type CartStore struct {
	pool *pgxpool.Pool
}

// NewCartStore constructs a CartStore backed by the provided pool.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool}
}

const (
	defaultExpiredLimit = 128
	maxExpiredLimit     = 1024
)

const (
	cartSelectActiveSQL = `
SELECT
    id,
    customer_email,
    active,
    sweep_attempts,
    dead_lettered,
    created_at,
    updated_at
FROM carts
WHERE customer_email = $1
  AND active = TRUE;
`

	cartInsertSQL = `
INSERT INTO carts (id, customer_email)
VALUES ($1, $2)
ON CONFLICT (customer_email) WHERE active DO NOTHING
RETURNING
    id,
    customer_email,
    active,
    sweep_attempts,
    dead_lettered,
    created_at,
    updated_at;
`

	cartLineUpsertSQL = `
INSERT INTO cart_line_items (cart_id, sku, quantity, unit_price)
VALUES ($1, $2, $3, $4)
ON CONFLICT (cart_id, sku) DO UPDATE
SET quantity = cart_line_items.quantity + EXCLUDED.quantity,
    unit_price = EXCLUDED.unit_price;
`

	// A removal that drains the line must delete the row outright: the schema
	// forbids zero quantities, so decrement-first would trip the CHECK.
	cartLineDeleteSQL = `
DELETE FROM cart_line_items
WHERE cart_id = $1
  AND sku = $2
  AND quantity <= $3;
`

	cartLineDecrementSQL = `
UPDATE cart_line_items
SET quantity = quantity - $3
WHERE cart_id = $1
  AND sku = $2
  AND quantity > $3;
`

	cartLineClearSQL = `
DELETE FROM cart_line_items
WHERE cart_id = $1;
`

	cartLineListSQL = `
SELECT
    sku,
    quantity,
    unit_price::text,
    added_at
FROM cart_line_items
WHERE cart_id = $1
ORDER BY added_at ASC, sku ASC;
`

	cartListExpiredSQL = `
SELECT
    id,
    customer_email,
    created_at
FROM carts
WHERE active = TRUE
  AND dead_lettered = FALSE
  AND created_at <= $1
  AND sweep_attempts < $2
ORDER BY created_at ASC
LIMIT $3;
`

	cartDeactivateSQL = `
UPDATE carts
SET active = FALSE,
    updated_at = NOW()
WHERE id = $1;
`

	cartSweepFailureSQL = `
UPDATE carts
SET sweep_attempts = sweep_attempts + 1,
    dead_lettered = (sweep_attempts + 1 >= $2),
    updated_at = NOW()
WHERE id = $1;
`

	cartTouchSQL = `
UPDATE carts
SET updated_at = NOW()
WHERE id = $1;
`
)

// EnsureActiveCart returns the customer's active cart, creating one when absent.
func (s *CartStore) EnsureActiveCart(ctx context.Context, email string) (cartstore.Cart, error) {
	if s.pool == nil {
		return cartstore.Cart{}, fmt.Errorf("cart store: nil pool")
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return cartstore.Cart{}, fmt.Errorf("cart store: email required")
	}

	cart, err := s.selectActive(ctx, normalized)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return cartstore.Cart{}, err
	}

	row := s.pool.QueryRow(ctx, cartInsertSQL, uuid.NewString(), normalized)
	cart, err = scanCart(row)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return cartstore.Cart{}, err
	}
	// Lost an insert race; the winner's cart is the active one.
	cart, err = s.selectActive(ctx, normalized)
	if err != nil {
		return cartstore.Cart{}, err
	}
	return cart, nil
}

// AddLineItem upserts a reward product into the cart, accumulating quantity.
func (s *CartStore) AddLineItem(ctx context.Context, cartID string, item cartstore.LineItem) error {
	if s.pool == nil {
		return fmt.Errorf("cart store: nil pool")
	}
	sku := strings.TrimSpace(item.SKU)
	if sku == "" {
		return fmt.Errorf("cart store: sku required")
	}
	if item.Quantity <= 0 {
		return fmt.Errorf("cart store: quantity must be positive")
	}
	if _, err := s.pool.Exec(ctx, cartLineUpsertSQL, cartID, sku, item.Quantity, item.UnitPrice.String()); err != nil {
		return fmt.Errorf("cart store: add line item: %w", err)
	}
	if _, err := s.pool.Exec(ctx, cartTouchSQL, cartID); err != nil {
		return fmt.Errorf("cart store: touch cart: %w", err)
	}
	return nil
}

// RemoveLineItem decrements a line item. Removing the full remaining quantity
// (or more) deletes the row instead.
func (s *CartStore) RemoveLineItem(ctx context.Context, cartID, sku string, quantity int) error {
	if s.pool == nil {
		return fmt.Errorf("cart store: nil pool")
	}
	if quantity <= 0 {
		return fmt.Errorf("cart store: quantity must be positive")
	}
	trimmed := strings.TrimSpace(sku)
	tag, err := s.pool.Exec(ctx, cartLineDeleteSQL, cartID, trimmed, quantity)
	if err != nil {
		return fmt.Errorf("cart store: remove line item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		tag, err = s.pool.Exec(ctx, cartLineDecrementSQL, cartID, trimmed, quantity)
		if err != nil {
			return fmt.Errorf("cart store: remove line item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("cart store: remove line item: %w", cartstore.ErrNotFound)
		}
	}
	if _, err := s.pool.Exec(ctx, cartTouchSQL, cartID); err != nil {
		return fmt.Errorf("cart store: touch cart: %w", err)
	}
	return nil
}

// ClearLineItems removes every line item from the cart.
func (s *CartStore) ClearLineItems(ctx context.Context, cartID string) error {
	if s.pool == nil {
		return fmt.Errorf("cart store: nil pool")
	}
	if _, err := s.pool.Exec(ctx, cartLineClearSQL, cartID); err != nil {
		return fmt.Errorf("cart store: clear line items: %w", err)
	}
	if _, err := s.pool.Exec(ctx, cartTouchSQL, cartID); err != nil {
		return fmt.Errorf("cart store: touch cart: %w", err)
	}
	return nil
}

// ListLineItems returns the cart's line items ordered by insertion time.
func (s *CartStore) ListLineItems(ctx context.Context, cartID string) ([]cartstore.LineItem, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("cart store: nil pool")
	}
	rows, err := s.pool.Query(ctx, cartLineListSQL, cartID)
	if err != nil {
		return nil, fmt.Errorf("cart store: list line items: %w", err)
	}
	defer rows.Close()

	var items []cartstore.LineItem
	for rows.Next() {
		var (
			item     cartstore.LineItem
			rawPrice string
		)
		if err := rows.Scan(&item.SKU, &item.Quantity, &rawPrice, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("cart store: scan line item: %w", err)
		}
		price, err := decimal.NewFromString(rawPrice)
		if err != nil {
			return nil, fmt.Errorf("cart store: parse unit price %q: %w", rawPrice, err)
		}
		item.UnitPrice = price
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cart store: iterate line items: %w", err)
	}
	return items, nil
}

// ListExpired returns sweep candidates created at or before the cutoff.
func (s *CartStore) ListExpired(ctx context.Context, cutoff time.Time, attemptLimit, limit int) ([]cartstore.ExpiryCandidate, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("cart store: nil pool")
	}
	if attemptLimit <= 0 {
		return nil, fmt.Errorf("cart store: attempt limit must be positive")
	}
	if limit <= 0 {
		limit = defaultExpiredLimit
	} else if limit > maxExpiredLimit {
		limit = maxExpiredLimit
	}
	rows, err := s.pool.Query(ctx, cartListExpiredSQL, cutoff, attemptLimit, limit)
	if err != nil {
		return nil, fmt.Errorf("cart store: list expired: %w", err)
	}
	defer rows.Close()

	var candidates []cartstore.ExpiryCandidate
	for rows.Next() {
		var candidate cartstore.ExpiryCandidate
		if err := rows.Scan(&candidate.CartID, &candidate.CustomerEmail, &candidate.CreatedAt); err != nil {
			return nil, fmt.Errorf("cart store: scan expired cart: %w", err)
		}
		candidates = append(candidates, candidate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cart store: iterate expired carts: %w", err)
	}
	return candidates, nil
}

// Deactivate retires a cart after its contents were reconciled remotely.
func (s *CartStore) Deactivate(ctx context.Context, cartID string) error {
	if s.pool == nil {
		return fmt.Errorf("cart store: nil pool")
	}
	tag, err := s.pool.Exec(ctx, cartDeactivateSQL, cartID)
	if err != nil {
		return fmt.Errorf("cart store: deactivate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cart store: deactivate: %w", cartstore.ErrNotFound)
	}
	return nil
}

// RecordSweepFailure bumps the sweep counter, dead-lettering the cart at the limit.
func (s *CartStore) RecordSweepFailure(ctx context.Context, cartID string, attemptLimit int) error {
	if s.pool == nil {
		return fmt.Errorf("cart store: nil pool")
	}
	if attemptLimit <= 0 {
		return fmt.Errorf("cart store: attempt limit must be positive")
	}
	tag, err := s.pool.Exec(ctx, cartSweepFailureSQL, cartID, attemptLimit)
	if err != nil {
		return fmt.Errorf("cart store: record sweep failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cart store: record sweep failure: %w", cartstore.ErrNotFound)
	}
	return nil
}

func (s *CartStore) selectActive(ctx context.Context, email string) (cartstore.Cart, error) {
	row := s.pool.QueryRow(ctx, cartSelectActiveSQL, email)
	return scanCart(row)
}

func scanCart(row rowScanner) (cartstore.Cart, error) {
	var cart cartstore.Cart
	if err := row.Scan(
		&cart.ID,
		&cart.CustomerEmail,
		&cart.Active,
		&cart.SweepAttempts,
		&cart.DeadLettered,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cartstore.Cart{}, err
		}
		return cartstore.Cart{}, fmt.Errorf("cart store: scan cart: %w", err)
	}
	return cart, nil
}

var _ cartstore.Store = (*CartStore)(nil)
