// Package outboxstore defines persistence contracts for durable loyalty event dispatch.
package outboxstore

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/message"
)

// Event encapsulates a single outbox entry ready to be enqueued.
type Event struct {
	Kind           message.Kind
	Email          string
	CorrelationID  string
	IdempotencyKey string
	Payload        json.RawMessage
	AvailableAt    time.Time
}

// EventRecord captures the persisted state of an outbox entry.
type EventRecord struct {
	ID             int64
	Kind           message.Kind
	Email          string
	CorrelationID  string
	IdempotencyKey string
	Payload        json.RawMessage
	AvailableAt    time.Time
	PublishedAt    *time.Time
	Attempts       int
	LastError      string
	Delivered      bool
	Dead           bool
	CreatedAt      time.Time
}

// Store abstracts persistence operations for the dispatch outbox.
//
// ListPending never returns delivered or dead records; records stay owned by
// the queue until MarkDelivered or MarkDead completes them. Implementations
// may additionally claim listed records so an in-flight delivery is not
// handed out to a later poll.
type Store interface {
	Enqueue(ctx context.Context, evt Event) (EventRecord, error)
	ListPending(ctx context.Context, limit int) ([]EventRecord, error)
	MarkDelivered(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, lastError string, nextAttempt time.Time) error
	MarkDead(ctx context.Context, id int64, lastError string) error
	Delete(ctx context.Context, id int64) error
}
