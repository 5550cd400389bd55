package postgres

import (
	"context"
	"testing"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/customerstore"
)

func TestCustomerStoreNilPool(t *testing.T) {
	store := NewCustomerStore(nil)
	ctx := context.Background()
	customer := customerstore.Customer{
		ID:    "8b0b9f5a-90f2-4f6c-a9bd-6f6f55c2a001",
		Email: "shopper@example.com",
	}
	if err := store.Create(ctx, customer); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.GetByEmail(ctx, "shopper@example.com"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.UpdateLoyalty(ctx, "shopper@example.com", customerstore.LoyaltyUpdate{}); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}
