package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/customerstore"
)

// CustomerStore persists customer records and their mirrored loyalty state.
type CustomerStore struct {
	pool *pgxpool.Pool
}

// NewCustomerStore constructs a CustomerStore backed by the provided pool.
func NewCustomerStore(pool *pgxpool.Pool) *CustomerStore {
	return &CustomerStore{pool: pool}
}

const (
	customerInsertSQL = `
INSERT INTO customers (id, email, points, available_coins, current_tier, next_tier, points_to_next_tier)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`

	customerSelectByEmailSQL = `
SELECT
    id,
    email,
    points,
    available_coins,
    current_tier,
    next_tier,
    points_to_next_tier,
    created_at,
    updated_at
FROM customers
WHERE email = $1;
`

	customerUpdateLoyaltySQL = `
UPDATE customers
SET points = COALESCE($2, points),
    available_coins = COALESCE($3, available_coins),
    current_tier = COALESCE($4, current_tier),
    next_tier = COALESCE($5, next_tier),
    points_to_next_tier = COALESCE($6, points_to_next_tier),
    updated_at = NOW()
WHERE email = $1
RETURNING
    id,
    email,
    points,
    available_coins,
    current_tier,
    next_tier,
    points_to_next_tier,
    created_at,
    updated_at;
`
)

// Create inserts a new customer record.
func (s *CustomerStore) Create(ctx context.Context, customer customerstore.Customer) error {
	if s.pool == nil {
		return fmt.Errorf("customer store: nil pool")
	}
	email := strings.ToLower(strings.TrimSpace(customer.Email))
	if email == "" {
		return fmt.Errorf("customer store: email required")
	}
	if _, err := s.pool.Exec(ctx, customerInsertSQL,
		customer.ID,
		email,
		customer.Loyalty.Points,
		customer.Loyalty.AvailableCoins,
		customer.Loyalty.CurrentTier,
		customer.Loyalty.NextTier,
		customer.Loyalty.PointsToNextTier,
	); err != nil {
		return fmt.Errorf("customer store: create: %w", err)
	}
	return nil
}

// GetByEmail loads a customer by email address.
func (s *CustomerStore) GetByEmail(ctx context.Context, email string) (customerstore.Customer, error) {
	if s.pool == nil {
		return customerstore.Customer{}, fmt.Errorf("customer store: nil pool")
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	row := s.pool.QueryRow(ctx, customerSelectByEmailSQL, normalized)
	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return customerstore.Customer{}, fmt.Errorf("customer store: %w", customerstore.ErrNotFound)
		}
		return customerstore.Customer{}, err
	}
	return customer, nil
}

// UpdateLoyalty applies a partial loyalty update, leaving omitted fields untouched.
func (s *CustomerStore) UpdateLoyalty(ctx context.Context, email string, update customerstore.LoyaltyUpdate) (customerstore.Customer, error) {
	if s.pool == nil {
		return customerstore.Customer{}, fmt.Errorf("customer store: nil pool")
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	row := s.pool.QueryRow(ctx, customerUpdateLoyaltySQL,
		normalized,
		update.Points,
		update.AvailableCoins,
		update.CurrentTier,
		update.NextTier,
		update.PointsToNextTier,
	)
	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return customerstore.Customer{}, fmt.Errorf("customer store: %w", customerstore.ErrNotFound)
		}
		return customerstore.Customer{}, err
	}
	return customer, nil
}

func scanCustomer(row rowScanner) (customerstore.Customer, error) {
	var customer customerstore.Customer
	if err := row.Scan(
		&customer.ID,
		&customer.Email,
		&customer.Loyalty.Points,
		&customer.Loyalty.AvailableCoins,
		&customer.Loyalty.CurrentTier,
		&customer.Loyalty.NextTier,
		&customer.Loyalty.PointsToNextTier,
		&customer.CreatedAt,
		&customer.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return customerstore.Customer{}, err
		}
		return customerstore.Customer{}, fmt.Errorf("customer store: scan customer: %w", err)
	}
	return customer, nil
}

var _ customerstore.Store = (*CustomerStore)(nil)
