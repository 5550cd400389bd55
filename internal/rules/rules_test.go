package rules

import (
	"testing"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/customerstore"
)

func TestPointsRuleOperators(t *testing.T) {
	loyalty := &customerstore.Loyalty{Points: 150}
	cases := []struct {
		name string
		rule PointsRule
		want bool
	}{
		{"eq match", PointsRule{Operator: OpEq, Points: 150}, true},
		{"eq miss", PointsRule{Operator: OpEq, Points: 100}, false},
		{"gte match", PointsRule{Operator: OpGte, Points: 150}, true},
		{"gt miss", PointsRule{Operator: OpGt, Points: 150}, false},
		{"lt match", PointsRule{Operator: OpLt, Points: 200}, true},
		{"lte miss", PointsRule{Operator: OpLte, Points: 149}, false},
		{"neq match", PointsRule{Operator: OpNeq, Points: 100}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rule.Match(loyalty); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestRulesAgainstUnknownCustomer(t *testing.T) {
	if (PointsRule{Operator: OpGte, Points: 1}).Match(nil) {
		t.Fatalf("positive operator must not match unknown customer")
	}
	if !(PointsRule{Operator: OpNeq, Points: 1}).Match(nil) {
		t.Fatalf("negative operator must match unknown customer")
	}
	if (TierRule{Operator: OpEq, Tier: "gold"}).Match(nil) {
		t.Fatalf("tier eq must not match unknown customer")
	}
	if !(TierRule{Operator: OpNeq, Tier: "gold"}).Match(nil) {
		t.Fatalf("tier neq must match unknown customer")
	}
	untiered := &customerstore.Loyalty{Points: 10}
	if (TierRule{Operator: OpEq, Tier: "gold"}).Match(untiered) {
		t.Fatalf("tier eq must not match customer without a tier")
	}
	if !(TierRule{Operator: OpNeq, Tier: "gold"}).Match(untiered) {
		t.Fatalf("tier neq must match customer without a tier")
	}
}

func TestTierRuleIsCaseInsensitive(t *testing.T) {
	loyalty := &customerstore.Loyalty{CurrentTier: "Gold"}
	if !(TierRule{Operator: OpEq, Tier: "gold"}).Match(loyalty) {
		t.Fatalf("expected case-insensitive tier match")
	}
	if (TierRule{Operator: OpNeq, Tier: "GOLD"}).Match(loyalty) {
		t.Fatalf("expected neq to miss same tier")
	}
}

func TestCoinsRule(t *testing.T) {
	loyalty := &customerstore.Loyalty{AvailableCoins: 42}
	if !(CoinsRule{Operator: OpGte, Coins: 40}).Match(loyalty) {
		t.Fatalf("expected coins gte match")
	}
	if (CoinsRule{Operator: OpGt, Coins: 42}).Match(loyalty) {
		t.Fatalf("expected coins gt miss")
	}
}

func TestParseBuildsConfiguredRules(t *testing.T) {
	rule, err := Parse("points", "gte", "100")
	if err != nil {
		t.Fatalf("Parse points rule: %v", err)
	}
	if !rule.Match(&customerstore.Loyalty{Points: 150}) {
		t.Fatalf("expected parsed points rule to match 150")
	}
	if rule.Match(&customerstore.Loyalty{Points: 50}) {
		t.Fatalf("expected parsed points rule to miss 50")
	}

	rule, err = Parse("Tier", "NEQ", "gold")
	if err != nil {
		t.Fatalf("Parse tier rule: %v", err)
	}
	if rule.Name() != "customerTier" {
		t.Fatalf("unexpected rule name %s", rule.Name())
	}

	if _, err := Parse("points", "between", "1"); err == nil {
		t.Fatalf("expected error for unknown operator")
	}
	if _, err := Parse("karma", "eq", "1"); err == nil {
		t.Fatalf("expected error for unknown field")
	}
	if _, err := Parse("coins", "eq", "lots"); err == nil {
		t.Fatalf("expected error for non-numeric coins threshold")
	}
	if _, err := Parse("tier", "gt", "gold"); err == nil {
		t.Fatalf("expected error for ordered tier comparison")
	}
}

func TestSetRequiresAllRules(t *testing.T) {
	loyalty := &customerstore.Loyalty{Points: 500, AvailableCoins: 10, CurrentTier: "silver"}
	set := Set{
		PointsRule{Operator: OpGte, Points: 100},
		CoinsRule{Operator: OpGte, Coins: 5},
		TierRule{Operator: OpEq, Tier: "silver"},
	}
	if !set.Match(loyalty) {
		t.Fatalf("expected full set match")
	}
	set = append(set, CoinsRule{Operator: OpGte, Coins: 100})
	if set.Match(loyalty) {
		t.Fatalf("expected set miss when one rule fails")
	}
	if !(Set{}).Match(loyalty) {
		t.Fatalf("empty set must match")
	}
}
