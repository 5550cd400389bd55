package dispatch

import (
	"context"

	"github.com/loyaltyengage/loyalty-bridge/errs"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/message"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/outboxstore"
)

// Queue enqueues validated messages into the durable outbox for later dispatch.
type Queue struct {
	store outboxstore.Store
}

// NewQueue constructs a Queue backed by the provided outbox store.
func NewQueue(store outboxstore.Store) *Queue {
	return &Queue{store: store}
}

// Enqueue validates and persists a message. The stored record carries a
// deterministic idempotency key derived from the message kind and correlation id.
func (q *Queue) Enqueue(ctx context.Context, m message.Message) (outboxstore.EventRecord, error) {
	if q == nil || q.store == nil {
		return outboxstore.EventRecord{}, errs.New("dispatch", errs.CodeUnavailable, errs.WithMessage("queue not initialised"))
	}
	payload, err := message.Encode(m)
	if err != nil {
		return outboxstore.EventRecord{}, err
	}
	evt := outboxstore.Event{
		Kind:           m.Kind(),
		Email:          m.CustomerEmail(),
		CorrelationID:  m.CorrelationID(),
		IdempotencyKey: message.IdempotencyKey(m.Kind(), m.CorrelationID()),
		Payload:        payload,
	}
	return q.store.Enqueue(ctx, evt)
}
