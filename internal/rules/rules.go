// Package rules evaluates reward eligibility against mirrored customer loyalty state.
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/customerstore"
)

// Operator compares a customer's loyalty value against a rule threshold.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNeq Operator = "neq"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
)

// IsNegative reports whether the operator matches by absence. Rules evaluated
// against an unknown customer succeed only under negative operators.
func (o Operator) IsNegative() bool {
	return o == OpNeq
}

func compareNumeric(value, threshold float64, op Operator) bool {
	switch op {
	case OpEq:
		return value == threshold
	case OpNeq:
		return value != threshold
	case OpGt:
		return value > threshold
	case OpGte:
		return value >= threshold
	case OpLt:
		return value < threshold
	case OpLte:
		return value <= threshold
	default:
		return false
	}
}

func compareString(value, threshold string, op Operator) bool {
	switch op {
	case OpEq:
		return strings.EqualFold(value, threshold)
	case OpNeq:
		return !strings.EqualFold(value, threshold)
	default:
		return false
	}
}

// Rule decides whether a customer's loyalty state satisfies one condition.
// A nil loyalty state means the customer is unknown to the bridge.
type Rule interface {
	Name() string
	Match(loyalty *customerstore.Loyalty) bool
}

// PointsRule compares the customer's loyalty point balance.
type PointsRule struct {
	Operator Operator
	Points   int
}

func (PointsRule) Name() string { return "customerPoints" }

func (r PointsRule) Match(loyalty *customerstore.Loyalty) bool {
	if loyalty == nil {
		return r.Operator.IsNegative()
	}
	return compareNumeric(float64(loyalty.Points), float64(r.Points), r.Operator)
}

// CoinsRule compares the customer's available coin balance.
type CoinsRule struct {
	Operator Operator
	Coins    int
}

func (CoinsRule) Name() string { return "customerCoins" }

func (r CoinsRule) Match(loyalty *customerstore.Loyalty) bool {
	if loyalty == nil {
		return r.Operator.IsNegative()
	}
	return compareNumeric(float64(loyalty.AvailableCoins), float64(r.Coins), r.Operator)
}

// TierRule compares the customer's current tier name.
type TierRule struct {
	Operator Operator
	Tier     string
}

func (TierRule) Name() string { return "customerTier" }

func (r TierRule) Match(loyalty *customerstore.Loyalty) bool {
	if loyalty == nil || loyalty.CurrentTier == "" {
		return r.Operator.IsNegative()
	}
	return compareString(loyalty.CurrentTier, r.Tier, r.Operator)
}

// ParseOperator resolves a configured operator name.
func ParseOperator(raw string) (Operator, error) {
	op := Operator(strings.ToLower(strings.TrimSpace(raw)))
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		return op, nil
	default:
		return "", fmt.Errorf("rules: unknown operator %q", raw)
	}
}

// Parse builds a rule from its configured field, operator, and threshold.
// Fields are "points", "coins", and "tier".
func Parse(field, operator, value string) (Rule, error) {
	op, err := ParseOperator(operator)
	if err != nil {
		return nil, err
	}
	threshold := strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "points":
		n, err := strconv.Atoi(threshold)
		if err != nil {
			return nil, fmt.Errorf("rules: points threshold %q: %w", value, err)
		}
		return PointsRule{Operator: op, Points: n}, nil
	case "coins":
		n, err := strconv.Atoi(threshold)
		if err != nil {
			return nil, fmt.Errorf("rules: coins threshold %q: %w", value, err)
		}
		return CoinsRule{Operator: op, Coins: n}, nil
	case "tier":
		if op != OpEq && op != OpNeq {
			return nil, fmt.Errorf("rules: tier supports eq and neq only, got %q", operator)
		}
		if threshold == "" {
			return nil, fmt.Errorf("rules: tier threshold required")
		}
		return TierRule{Operator: op, Tier: threshold}, nil
	default:
		return nil, fmt.Errorf("rules: unknown field %q", field)
	}
}

// Set is a conjunction of rules; a customer is eligible when every rule matches.
type Set []Rule

// Match reports whether the loyalty state satisfies every rule in the set.
// An empty set always matches.
func (s Set) Match(loyalty *customerstore.Loyalty) bool {
	for _, rule := range s {
		if rule == nil {
			continue
		}
		if !rule.Match(loyalty) {
			return false
		}
	}
	return true
}
