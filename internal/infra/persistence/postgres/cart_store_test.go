package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/cartstore"
)

func TestCartStoreNilPool(t *testing.T) {
	store := NewCartStore(nil)
	ctx := context.Background()
	item := cartstore.LineItem{SKU: "SKU-1", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}
	if _, err := store.EnsureActiveCart(ctx, "shopper@example.com"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.AddLineItem(ctx, "cart-1", item); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.RemoveLineItem(ctx, "cart-1", "SKU-1", 1); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.ClearLineItems(ctx, "cart-1"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.ListLineItems(ctx, "cart-1"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.ListExpired(ctx, time.Now(), 3, 10); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.Deactivate(ctx, "cart-1"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.RecordSweepFailure(ctx, "cart-1", 3); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}
