package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/promotionstore"
)

func TestPromotionStoreNilPool(t *testing.T) {
	store := NewPromotionStore(nil)
	ctx := context.Background()
	promotion := promotionstore.Promotion{
		ID:              "4f9cf6a0-7c7e-4a87-9d93-0f0df55ab101",
		Code:            "LOYALTY-10",
		DiscountPercent: decimal.NewFromInt(10),
		Active:          true,
	}
	if _, _, err := store.GetByCode(ctx, "LOYALTY-10"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.Create(ctx, promotion); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}
