package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/message"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/outboxstore"
)

// OutboxStore persists loyalty events awaiting dispatch to the remote engine.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore constructs an OutboxStore backed by the provided pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

const (
	defaultOutboxLimit = 128
	maxOutboxLimit     = 1024

	// outboxClaimTTL bounds how long a listed record stays invisible to later
	// polls while its delivery is in flight.
	outboxClaimTTL = time.Minute
)

const (
	outboxInsertSQL = `
INSERT INTO loyalty_outbox (
    kind,
    email,
    correlation_id,
    idempotency_key,
    payload,
    available_at
)
VALUES ($1, $2, $3, $4, $5::jsonb, $6)
RETURNING
    id,
    kind,
    email,
    correlation_id,
    idempotency_key,
    payload,
    available_at,
    published_at,
    attempts,
    last_error,
    delivered,
    dead,
    created_at;
`

	// Listing claims the rows it returns, so a delivery that outlives the poll
	// interval is not handed out twice. Expired claims fall back into rotation.
	outboxListPendingSQL = `
UPDATE loyalty_outbox
SET claimed_at = NOW()
WHERE id IN (
    SELECT id
    FROM loyalty_outbox
    WHERE delivered = FALSE
      AND dead = FALSE
      AND available_at <= NOW()
      AND (claimed_at IS NULL OR claimed_at <= $2)
    ORDER BY available_at ASC
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
RETURNING
    id,
    kind,
    email,
    correlation_id,
    idempotency_key,
    payload,
    available_at,
    published_at,
    attempts,
    last_error,
    delivered,
    dead,
    created_at;
`

	outboxMarkDeliveredSQL = `
UPDATE loyalty_outbox
SET delivered = TRUE,
    published_at = NOW(),
    attempts = attempts + 1
WHERE id = $1;
`

	outboxMarkFailedSQL = `
UPDATE loyalty_outbox
SET attempts = attempts + 1,
    last_error = $2,
    available_at = $3,
    claimed_at = NULL
WHERE id = $1;
`

	outboxMarkDeadSQL = `
UPDATE loyalty_outbox
SET dead = TRUE,
    attempts = attempts + 1,
    last_error = $2
WHERE id = $1;
`

	outboxDeleteSQL = `
DELETE FROM loyalty_outbox
WHERE id = $1;
`
)

// Enqueue inserts a new event into the outbox.
func (s *OutboxStore) Enqueue(ctx context.Context, evt outboxstore.Event) (outboxstore.EventRecord, error) {
	if s.pool == nil {
		return outboxstore.EventRecord{}, fmt.Errorf("outbox store: nil pool")
	}
	kind := message.Kind(strings.TrimSpace(string(evt.Kind)))
	if kind == "" {
		return outboxstore.EventRecord{}, fmt.Errorf("outbox store: kind required")
	}
	email := strings.TrimSpace(evt.Email)
	if email == "" {
		return outboxstore.EventRecord{}, fmt.Errorf("outbox store: email required")
	}
	correlationID := strings.TrimSpace(evt.CorrelationID)
	if correlationID == "" {
		return outboxstore.EventRecord{}, fmt.Errorf("outbox store: correlation id required")
	}
	idempotencyKey := strings.TrimSpace(evt.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = message.IdempotencyKey(kind, correlationID)
	}
	if len(evt.Payload) == 0 {
		return outboxstore.EventRecord{}, fmt.Errorf("outbox store: payload required")
	}
	availableAt := evt.AvailableAt
	if availableAt.IsZero() {
		availableAt = time.Now()
	}
	row := s.pool.QueryRow(ctx, outboxInsertSQL, string(kind), email, correlationID, idempotencyKey, []byte(evt.Payload), availableAt)
	return scanOutboxRecord(row)
}

// ListPending claims and returns undelivered, non-dead events that are ready
// for dispatch. A claimed event is excluded from later calls until its claim
// lapses or a failed attempt releases it.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]outboxstore.EventRecord, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("outbox store: nil pool")
	}
	if limit <= 0 {
		limit = defaultOutboxLimit
	} else if limit > maxOutboxLimit {
		limit = maxOutboxLimit
	}
	rows, err := s.pool.Query(ctx, outboxListPendingSQL, limit, time.Now().Add(-outboxClaimTTL))
	if err != nil {
		return nil, fmt.Errorf("outbox store: list pending: %w", err)
	}
	defer rows.Close()

	var records []outboxstore.EventRecord
	for rows.Next() {
		record, err := scanOutboxRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox store: iterate pending: %w", err)
	}
	return records, nil
}

// MarkDelivered flags a stored event as successfully dispatched.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id int64) error {
	if s.pool == nil {
		return fmt.Errorf("outbox store: nil pool")
	}
	tag, err := s.pool.Exec(ctx, outboxMarkDeliveredSQL, id)
	if err != nil {
		return fmt.Errorf("outbox store: mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox store: mark delivered: no rows updated")
	}
	return nil
}

// MarkFailed records a failed dispatch attempt and schedules the next one.
func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, lastError string, nextAttempt time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("outbox store: nil pool")
	}
	if nextAttempt.IsZero() {
		nextAttempt = time.Now()
	}
	tag, err := s.pool.Exec(ctx, outboxMarkFailedSQL, id, strings.TrimSpace(lastError), nextAttempt)
	if err != nil {
		return fmt.Errorf("outbox store: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox store: mark failed: no rows updated")
	}
	return nil
}

// MarkDead removes an event from dispatch rotation after its retry budget is spent.
func (s *OutboxStore) MarkDead(ctx context.Context, id int64, lastError string) error {
	if s.pool == nil {
		return fmt.Errorf("outbox store: nil pool")
	}
	tag, err := s.pool.Exec(ctx, outboxMarkDeadSQL, id, strings.TrimSpace(lastError))
	if err != nil {
		return fmt.Errorf("outbox store: mark dead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox store: mark dead: no rows updated")
	}
	return nil
}

// Delete removes an outbox entry by identifier.
func (s *OutboxStore) Delete(ctx context.Context, id int64) error {
	if s.pool == nil {
		return fmt.Errorf("outbox store: nil pool")
	}
	tag, err := s.pool.Exec(ctx, outboxDeleteSQL, id)
	if err != nil {
		return fmt.Errorf("outbox store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox store: delete: no rows deleted")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxRecord(row rowScanner) (outboxstore.EventRecord, error) {
	var (
		record      outboxstore.EventRecord
		kind        string
		payload     []byte
		publishedAt pgtype.Timestamptz
		lastError   pgtype.Text
	)
	if err := row.Scan(
		&record.ID,
		&kind,
		&record.Email,
		&record.CorrelationID,
		&record.IdempotencyKey,
		&payload,
		&record.AvailableAt,
		&publishedAt,
		&record.Attempts,
		&lastError,
		&record.Delivered,
		&record.Dead,
		&record.CreatedAt,
	); err != nil {
		return outboxstore.EventRecord{}, fmt.Errorf("outbox store: scan record: %w", err)
	}
	record.Kind = message.Kind(kind)
	record.Payload = json.RawMessage(payload)
	if publishedAt.Valid {
		t := publishedAt.Time
		record.PublishedAt = &t
	}
	if lastError.Valid {
		record.LastError = lastError.String
	}
	return record, nil
}

var _ outboxstore.Store = (*OutboxStore)(nil)
