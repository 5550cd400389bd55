// Package message defines the immutable outbound notifications delivered to the
// loyalty engine, together with their wire payloads.
package message

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/loyaltyengage/loyalty-bridge/errs"
)

// Kind discriminates the message variants carried by the dispatch queue.
type Kind string

const (
	// KindPurchase notifies the loyalty engine of a completed order.
	KindPurchase Kind = "Purchase"
	// KindReturn notifies the loyalty engine of a returned delivery.
	KindReturn Kind = "Return"
	// KindFreeProductPurchase places a zero-cost loyalty order remotely.
	KindFreeProductPurchase Kind = "FreeProductPurchase"
	// KindFreeProductRemove removes a free product from the remote cart.
	KindFreeProductRemove Kind = "FreeProductRemove"
)

// Price is a decimal amount that marshals as a bare JSON number, matching the
// payload the loyalty engine expects.
type Price struct {
	decimal.Decimal
}

// NewPrice wraps a decimal into a wire-compatible price.
func NewPrice(d decimal.Decimal) Price {
	return Price{Decimal: d}
}

// PriceFromFloat builds a Price from a float amount.
func PriceFromFloat(f float64) Price {
	return Price{Decimal: decimal.NewFromFloat(f)}
}

// MarshalJSON renders the price without surrounding quotes.
func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.Decimal.String()), nil
}

// UnmarshalJSON accepts both quoted and bare numeric forms.
func (p *Price) UnmarshalJSON(data []byte) error {
	d, err := decimal.NewFromString(strings.Trim(string(data), `"`))
	if err != nil {
		return fmt.Errorf("parse price: %w", err)
	}
	p.Decimal = d
	return nil
}

// OrderedProduct is one purchased or returned order line.
type OrderedProduct struct {
	SKU      string `json:"sku"`
	Price    Price  `json:"price"`
	Quantity int    `json:"quantity"`
}

// FreeProduct is one zero-cost reward line.
type FreeProduct struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Envelope is a single entry of the /api/v1/events wire payload.
type Envelope struct {
	Event          string           `json:"event"`
	Email          string           `json:"email"`
	OrderID        string           `json:"orderId,omitempty"`
	OrderDate      string           `json:"orderDate,omitempty"`
	Products       []OrderedProduct `json:"products"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty"`
}

// Purchase describes a completed order notification.
type Purchase struct {
	Email     string
	OrderID   string
	OrderDate string
	Products  []OrderedProduct
}

// Return describes a returned delivery notification.
type Return struct {
	Email      string
	ReturnDate string
	Products   []OrderedProduct
}

// FreeProductPurchase describes reward products redeemed with an order.
type FreeProductPurchase struct {
	Email    string
	OrderID  string
	Products []FreeProduct
}

// FreeProductRemove describes a reward product removed from a cart.
type FreeProductRemove struct {
	Email     string
	ProductID string
	Quantity  int
}

// Message is the tagged union handled by the dispatch pipeline.
type Message interface {
	Kind() Kind
	// CorrelationID identifies the subject of this message: the order or
	// product id, or for returns the customer-scoped return date.
	CorrelationID() string
	// CustomerEmail returns the owning customer address.
	CustomerEmail() string
	Validate() error
}

func (Purchase) Kind() Kind            { return KindPurchase }
func (Return) Kind() Kind              { return KindReturn }
func (FreeProductPurchase) Kind() Kind { return KindFreeProductPurchase }
func (FreeProductRemove) Kind() Kind   { return KindFreeProductRemove }

func (m Purchase) CorrelationID() string            { return m.OrderID }
func (m Return) CorrelationID() string              { return m.Email + "|" + m.ReturnDate }
func (m FreeProductPurchase) CorrelationID() string { return m.OrderID }
func (m FreeProductRemove) CorrelationID() string   { return m.ProductID }

func (m Purchase) CustomerEmail() string            { return m.Email }
func (m Return) CustomerEmail() string              { return m.Email }
func (m FreeProductPurchase) CustomerEmail() string { return m.Email }
func (m FreeProductRemove) CustomerEmail() string   { return m.Email }

// Validate checks the invariants shared by all purchase notifications.
func (m Purchase) Validate() error {
	if err := validateEmail(m.Email); err != nil {
		return err
	}
	if strings.TrimSpace(m.OrderID) == "" {
		return errs.New("message", errs.CodeInvalid, errs.WithMessage("order id required"))
	}
	if len(m.Products) == 0 {
		return errs.New("message", errs.CodeInvalid, errs.WithMessage("at least one product required"))
	}
	return validateOrdered(m.Products)
}

func (m Return) Validate() error {
	if err := validateEmail(m.Email); err != nil {
		return err
	}
	if strings.TrimSpace(m.ReturnDate) == "" {
		return errs.New("message", errs.CodeInvalid, errs.WithMessage("return date required"))
	}
	if len(m.Products) == 0 {
		return errs.New("message", errs.CodeInvalid, errs.WithMessage("at least one product required"))
	}
	return validateOrdered(m.Products)
}

func (m FreeProductPurchase) Validate() error {
	if err := validateEmail(m.Email); err != nil {
		return err
	}
	if strings.TrimSpace(m.OrderID) == "" {
		return errs.New("message", errs.CodeInvalid, errs.WithMessage("order id required"))
	}
	if len(m.Products) == 0 {
		return errs.New("message", errs.CodeInvalid, errs.WithMessage("at least one product required"))
	}
	for _, p := range m.Products {
		if strings.TrimSpace(p.SKU) == "" {
			return errs.New("message", errs.CodeInvalid, errs.WithMessage("product sku required"))
		}
		if p.Quantity <= 0 {
			return errs.New("message", errs.CodeInvalid, errs.WithMessage("product quantity must be positive"))
		}
	}
	return nil
}

func (m FreeProductRemove) Validate() error {
	if err := validateEmail(m.Email); err != nil {
		return err
	}
	if strings.TrimSpace(m.ProductID) == "" {
		return errs.New("message", errs.CodeInvalid, errs.WithMessage("product id required"))
	}
	if m.Quantity <= 0 {
		return errs.New("message", errs.CodeInvalid, errs.WithMessage("quantity must be positive"))
	}
	return nil
}

// Envelopes renders the single-entry event payload sent to /api/v1/events.
func (m Purchase) Envelopes() []Envelope {
	return []Envelope{{
		Event:          string(KindPurchase),
		Email:          m.Email,
		OrderID:        m.OrderID,
		OrderDate:      m.OrderDate,
		Products:       m.Products,
		IdempotencyKey: IdempotencyKey(KindPurchase, m.CorrelationID()),
	}}
}

// Envelopes renders the single-entry event payload sent to /api/v1/events.
// The remote contract reuses the orderDate field for the return date.
func (m Return) Envelopes() []Envelope {
	return []Envelope{{
		Event:          string(KindReturn),
		Email:          m.Email,
		OrderDate:      m.ReturnDate,
		Products:       m.Products,
		IdempotencyKey: IdempotencyKey(KindReturn, m.CorrelationID()),
	}}
}

// IdempotencyKey derives a stable key from the message kind and correlation id,
// so remote redeliveries of the same notification can be deduplicated.
func IdempotencyKey(kind Kind, correlationID string) string {
	sum := sha256.Sum256([]byte(string(kind) + "|" + correlationID))
	return hex.EncodeToString(sum[:])
}

// Encode serializes a message body for outbox storage.
func Encode(m Message) (json.RawMessage, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Kind(), err)
	}
	return raw, nil
}

// Decode reconstructs a message from its outbox payload.
func Decode(kind Kind, payload json.RawMessage) (Message, error) {
	switch kind {
	case KindPurchase:
		var m Purchase
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decode purchase message: %w", err)
		}
		return m, nil
	case KindReturn:
		var m Return
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decode return message: %w", err)
		}
		return m, nil
	case KindFreeProductPurchase:
		var m FreeProductPurchase
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decode free product purchase message: %w", err)
		}
		return m, nil
	case KindFreeProductRemove:
		var m FreeProductRemove
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decode free product remove message: %w", err)
		}
		return m, nil
	default:
		return nil, errs.New("message", errs.CodeInvalid, errs.WithMessage(fmt.Sprintf("unknown message kind %q", kind)))
	}
}

// ValidateEmail checks that the address is present and parseable.
func ValidateEmail(email string) error {
	return validateEmail(email)
}

func validateEmail(email string) error {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return errs.New("message", errs.CodeInvalid,
			errs.WithMessage("email required"),
			errs.WithCanonicalCode(errs.CanonicalInvalidEmail))
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return errs.New("message", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("invalid email %q", trimmed)),
			errs.WithCanonicalCode(errs.CanonicalInvalidEmail),
			errs.WithCause(err))
	}
	return nil
}

func validateOrdered(products []OrderedProduct) error {
	for _, p := range products {
		if strings.TrimSpace(p.SKU) == "" {
			return errs.New("message", errs.CodeInvalid, errs.WithMessage("product sku required"))
		}
		if p.Quantity <= 0 {
			return errs.New("message", errs.CodeInvalid, errs.WithMessage("product quantity must be positive"))
		}
	}
	return nil
}
