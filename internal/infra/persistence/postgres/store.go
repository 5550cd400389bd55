package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyaltyengage/loyalty-bridge/internal/infra/persistence"
)

// Store exposes PostgreSQL-backed repositories for the loyalty bridge.
type Store struct {
	*persistence.Store
}

// New constructs a PostgreSQL persistence store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Store: persistence.NewStore(pool)}
}

// Outbox returns the dispatch outbox repository.
func (s *Store) Outbox() *OutboxStore { return NewOutboxStore(s.Pool()) }

// Carts returns the loyalty cart repository.
func (s *Store) Carts() *CartStore { return NewCartStore(s.Pool()) }

// Orders returns the order placement repository.
func (s *Store) Orders() *OrderStore { return NewOrderStore(s.Pool()) }

// Customers returns the customer loyalty repository.
func (s *Store) Customers() *CustomerStore { return NewCustomerStore(s.Pool()) }

// Promotions returns the promotion repository.
func (s *Store) Promotions() *PromotionStore { return NewPromotionStore(s.Pool()) }
