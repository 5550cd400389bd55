// Package customerstore defines persistence contracts for customer loyalty state.
package customerstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that no customer matches the requested email.
var ErrNotFound = errors.New("customer not found")

// Loyalty holds the per-customer state mirrored from the loyalty engine.
type Loyalty struct {
	Points           int    `json:"points"`
	AvailableCoins   int    `json:"availableCoins"`
	CurrentTier      string `json:"currentTier"`
	NextTier         string `json:"nextTier"`
	PointsToNextTier int    `json:"pointsToNextTier"`
}

// LoyaltyUpdate applies only the fields present in a partial update.
type LoyaltyUpdate struct {
	Points           *int    `json:"points,omitempty"`
	AvailableCoins   *int    `json:"availableCoins,omitempty"`
	CurrentTier      *string `json:"currentTier,omitempty"`
	NextTier         *string `json:"nextTier,omitempty"`
	PointsToNextTier *int    `json:"pointsToNextTier,omitempty"`
}

// Customer is the persisted customer record.
type Customer struct {
	ID        string
	Email     string
	Loyalty   Loyalty
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store defines the contract for customer persistence operations.
type Store interface {
	Create(ctx context.Context, customer Customer) error
	GetByEmail(ctx context.Context, email string) (Customer, error)
	UpdateLoyalty(ctx context.Context, email string, update LoyaltyUpdate) (Customer, error)
}
