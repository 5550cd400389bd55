// Package errs provides structured error types and helpers for loyalty-bridge services.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies an error category produced by the bridge.
type Code string

const (
	// CodeRateLimited indicates that the request exceeded rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodeAuth indicates authentication or authorization errors.
	CodeAuth Code = "auth"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeRemote indicates a loyalty-engine-side failure.
	CodeRemote Code = "remote_error"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// CanonicalCode captures pipeline-agnostic failure categories.
type CanonicalCode string

const (
	// CanonicalUnknown captures uncategorized failures.
	CanonicalUnknown CanonicalCode = "unknown"
	// CanonicalNotEligible indicates the customer is not eligible for the requested reward.
	CanonicalNotEligible CanonicalCode = "not_eligible"
	// CanonicalCustomerNotFound indicates that the referenced customer does not exist.
	CanonicalCustomerNotFound CanonicalCode = "customer_not_found"
	// CanonicalInvalidEmail indicates a malformed or missing customer email.
	CanonicalInvalidEmail CanonicalCode = "invalid_email"
	// CanonicalDuplicateEvent indicates an event that was already recorded.
	CanonicalDuplicateEvent CanonicalCode = "duplicate_event"
	// CanonicalDeliveryExhausted indicates a message that exhausted its delivery attempts.
	CanonicalDeliveryExhausted CanonicalCode = "delivery_exhausted"
	// CanonicalRateLimited indicates the request was rate limited.
	CanonicalRateLimited CanonicalCode = "rate_limited"
)

// E captures structured error information produced across the bridge.
type E struct {
	Scope     string
	Code      Code
	HTTP      int
	RawMsg    string
	Message   string
	Canonical CanonicalCode

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component scope and error code.
func New(scope string, code Code, opts ...Option) *E {
	e := &E{
		Scope:     strings.TrimSpace(scope),
		Code:      code,
		HTTP:      0,
		RawMsg:    "",
		Message:   "",
		Canonical: CanonicalUnknown,
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawMessage captures the raw remote response body or error text.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithCanonicalCode sets the canonical code describing the failure category.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	scope := strings.TrimSpace(e.Scope)
	if scope == "" {
		scope = "unknown"
	}
	parts = append(parts, "scope="+scope)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// NotEligible returns a standardized error for loyalty operations the remote rejected.
func NotEligible(msg string) *E {
	return New("loyalty", CodeRemote, WithMessage(strings.TrimSpace(msg)), WithCanonicalCode(CanonicalNotEligible))
}
