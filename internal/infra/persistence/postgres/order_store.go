package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/message"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/orderstore"
)

// OrderStore persists completed orders awaiting remote loyalty placement.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore constructs an OrderStore backed by the provided pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const (
	defaultUnplacedLimit = 128
	maxUnplacedLimit     = 1024
)

const (
	orderInsertSQL = `
INSERT INTO orders (id, order_number, customer_email, order_date, products)
VALUES ($1, $2, $3, $4, $5::jsonb);
`

	orderSelectByNumberSQL = `
SELECT
    id,
    order_number,
    customer_email,
    order_date,
    products,
    placed,
    retrieve_count,
    created_at,
    updated_at
FROM orders
WHERE order_number = $1;
`

	orderListUnplacedSQL = `
SELECT
    id,
    order_number,
    customer_email,
    order_date,
    products,
    placed,
    retrieve_count,
    created_at,
    updated_at
FROM orders
WHERE placed = FALSE
  AND retrieve_count < $1
ORDER BY created_at ASC
LIMIT $2;
`

	orderMarkPlacedSQL = `
UPDATE orders
SET placed = TRUE,
    updated_at = NOW()
WHERE id = $1;
`

	orderIncrementRetrieveSQL = `
UPDATE orders
SET retrieve_count = retrieve_count + 1,
    updated_at = NOW()
WHERE id = $1;
`
)

// Create inserts a new order snapshot.
func (s *OrderStore) Create(ctx context.Context, order orderstore.Order) error {
	if s.pool == nil {
		return fmt.Errorf("order store: nil pool")
	}
	orderNumber := strings.TrimSpace(order.OrderNumber)
	if orderNumber == "" {
		return fmt.Errorf("order store: order number required")
	}
	email := strings.ToLower(strings.TrimSpace(order.CustomerEmail))
	if email == "" {
		return fmt.Errorf("order store: customer email required")
	}
	products := order.Products
	if products == nil {
		products = []message.OrderedProduct{}
	}
	encoded, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("order store: encode products: %w", err)
	}
	if _, err := s.pool.Exec(ctx, orderInsertSQL, order.ID, orderNumber, email, strings.TrimSpace(order.OrderDate), encoded); err != nil {
		return fmt.Errorf("order store: create: %w", err)
	}
	return nil
}

// GetByNumber loads an order by its public order number.
func (s *OrderStore) GetByNumber(ctx context.Context, orderNumber string) (orderstore.Order, error) {
	if s.pool == nil {
		return orderstore.Order{}, fmt.Errorf("order store: nil pool")
	}
	row := s.pool.QueryRow(ctx, orderSelectByNumberSQL, strings.TrimSpace(orderNumber))
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orderstore.Order{}, fmt.Errorf("order store: %w", orderstore.ErrNotFound)
		}
		return orderstore.Order{}, err
	}
	return order, nil
}

// ListUnplaced returns orders still awaiting placement whose retry budget remains.
func (s *OrderStore) ListUnplaced(ctx context.Context, retrieveLimit, limit int) ([]orderstore.Order, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("order store: nil pool")
	}
	if retrieveLimit <= 0 {
		return nil, fmt.Errorf("order store: retrieve limit must be positive")
	}
	if limit <= 0 {
		limit = defaultUnplacedLimit
	} else if limit > maxUnplacedLimit {
		limit = maxUnplacedLimit
	}
	rows, err := s.pool.Query(ctx, orderListUnplacedSQL, retrieveLimit, limit)
	if err != nil {
		return nil, fmt.Errorf("order store: list unplaced: %w", err)
	}
	defer rows.Close()

	var orders []orderstore.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order store: iterate unplaced: %w", err)
	}
	return orders, nil
}

// MarkPlaced flags an order as placed with the remote loyalty engine.
func (s *OrderStore) MarkPlaced(ctx context.Context, id string) error {
	if s.pool == nil {
		return fmt.Errorf("order store: nil pool")
	}
	tag, err := s.pool.Exec(ctx, orderMarkPlacedSQL, id)
	if err != nil {
		return fmt.Errorf("order store: mark placed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order store: mark placed: %w", orderstore.ErrNotFound)
	}
	return nil
}

// IncrementRetrieve bumps the placement attempt counter after a failed sweep pass.
func (s *OrderStore) IncrementRetrieve(ctx context.Context, id string) error {
	if s.pool == nil {
		return fmt.Errorf("order store: nil pool")
	}
	tag, err := s.pool.Exec(ctx, orderIncrementRetrieveSQL, id)
	if err != nil {
		return fmt.Errorf("order store: increment retrieve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order store: increment retrieve: %w", orderstore.ErrNotFound)
	}
	return nil
}

func scanOrder(row rowScanner) (orderstore.Order, error) {
	var (
		order    orderstore.Order
		products []byte
	)
	if err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.CustomerEmail,
		&order.OrderDate,
		&products,
		&order.Placed,
		&order.RetrieveCount,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orderstore.Order{}, err
		}
		return orderstore.Order{}, fmt.Errorf("order store: scan order: %w", err)
	}
	if len(products) > 0 {
		if err := json.Unmarshal(products, &order.Products); err != nil {
			return orderstore.Order{}, fmt.Errorf("order store: decode products: %w", err)
		}
	}
	return order, nil
}

var _ orderstore.Store = (*OrderStore)(nil)
