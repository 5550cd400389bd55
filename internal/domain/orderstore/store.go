// Package orderstore defines persistence contracts for loyalty order placement state.
package orderstore

import (
	"context"
	"errors"
	"time"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/message"
)

// ErrNotFound reports that no order matches the requested identifier.
var ErrNotFound = errors.New("order not found")

// Order represents the persisted snapshot of an order awaiting loyalty placement.
type Order struct {
	ID            string
	OrderNumber   string
	CustomerEmail string
	OrderDate     string
	Products      []message.OrderedProduct
	Placed        bool
	RetrieveCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store defines the contract for order persistence operations.
//
// ListUnplaced excludes orders already placed and orders whose retrieve count
// reached the limit; each sweep iteration either places an order or increments
// its counter by exactly one.
type Store interface {
	Create(ctx context.Context, order Order) error
	GetByNumber(ctx context.Context, orderNumber string) (Order, error)
	ListUnplaced(ctx context.Context, retrieveLimit, limit int) ([]Order, error)
	MarkPlaced(ctx context.Context, id string) error
	IncrementRetrieve(ctx context.Context, id string) error
}
