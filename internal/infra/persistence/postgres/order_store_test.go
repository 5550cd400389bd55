package postgres

import (
	"context"
	"testing"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/orderstore"
)

func TestOrderStoreNilPool(t *testing.T) {
	store := NewOrderStore(nil)
	ctx := context.Background()
	order := orderstore.Order{
		ID:            "b6f1cf04-1f44-4b1f-9a90-2b7de4a46b01",
		OrderNumber:   "10001",
		CustomerEmail: "shopper@example.com",
	}
	if err := store.Create(ctx, order); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.GetByNumber(ctx, "10001"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.ListUnplaced(ctx, 3, 10); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.MarkPlaced(ctx, order.ID); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.IncrementRetrieve(ctx, order.ID); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}
