package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/message"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/outboxstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/infra/config"
	"github.com/loyaltyengage/loyalty-bridge/internal/loyalty"
	"github.com/loyaltyengage/loyalty-bridge/internal/observability"
)

type fakeOutbox struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*outboxstore.EventRecord
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{records: make(map[int64]*outboxstore.EventRecord)}
}

func (f *fakeOutbox) Enqueue(_ context.Context, evt outboxstore.Event) (outboxstore.EventRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	record := outboxstore.EventRecord{
		ID:             f.nextID,
		Kind:           evt.Kind,
		Email:          evt.Email,
		CorrelationID:  evt.CorrelationID,
		IdempotencyKey: evt.IdempotencyKey,
		Payload:        evt.Payload,
		AvailableAt:    evt.AvailableAt,
		CreatedAt:      time.Now(),
	}
	f.records[record.ID] = &record
	return record, nil
}

func (f *fakeOutbox) ListPending(_ context.Context, limit int) ([]outboxstore.EventRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outboxstore.EventRecord
	for _, record := range f.records {
		if record.Delivered || record.Dead {
			continue
		}
		out = append(out, *record)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkDelivered(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := f.records[id]
	record.Delivered = true
	record.Attempts++
	now := time.Now()
	record.PublishedAt = &now
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id int64, lastError string, nextAttempt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := f.records[id]
	record.Attempts++
	record.LastError = lastError
	record.AvailableAt = nextAttempt
	return nil
}

func (f *fakeOutbox) MarkDead(_ context.Context, id int64, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := f.records[id]
	record.Dead = true
	record.Attempts++
	record.LastError = lastError
	return nil
}

func (f *fakeOutbox) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeOutbox) get(id int64) outboxstore.EventRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.records[id]
}

type fakeAPI struct {
	mu          sync.Mutex
	outcome     loyalty.Outcome
	err         error
	sentEvents  [][]message.Envelope
	placeOrders []string
	removals    []string
}

func (f *fakeAPI) SendEvent(_ context.Context, envelopes []message.Envelope) (loyalty.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentEvents = append(f.sentEvents, envelopes)
	return f.outcome, f.err
}

func (f *fakeAPI) PlaceOrder(_ context.Context, _, orderID string, _ []message.FreeProduct) (loyalty.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeOrders = append(f.placeOrders, orderID)
	return f.outcome, f.err
}

func (f *fakeAPI) RemoveItem(_ context.Context, _, sku string, _ int) (loyalty.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removals = append(f.removals, sku)
	return f.outcome, f.err
}

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		PollInterval:   10 * time.Millisecond,
		Workers:        2,
		QueueDepth:     16,
		BatchLimit:     16,
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Second,
		MaxBackoff:     time.Minute,
	}
}

func newTestDispatcher(t *testing.T, store outboxstore.Store, api API) *Dispatcher {
	t.Helper()
	d, err := New(store, api, testDispatchConfig(), observability.NewNop())
	if err != nil {
		t.Fatalf("New dispatcher failed: %v", err)
	}
	return d
}

func purchaseMessage() message.Purchase {
	return message.Purchase{
		Email:     "shopper@example.com",
		OrderID:   "order-1001",
		OrderDate: "2026-02-14T10:00:00+00:00",
		Products: []message.OrderedProduct{
			{SKU: "SKU-1", Price: message.Price{Decimal: decimal.NewFromFloat(19.99)}, Quantity: 1},
		},
	}
}

func TestDeliverMarksDelivered(t *testing.T) {
	store := newFakeOutbox()
	api := &fakeAPI{outcome: loyalty.Outcome{Status: 200}}
	d := newTestDispatcher(t, store, api)

	queue := NewQueue(store)
	record, err := queue.Enqueue(context.Background(), purchaseMessage())
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	d.Deliver(context.Background(), record)

	got := store.get(record.ID)
	if !got.Delivered {
		t.Fatalf("expected record delivered, got %+v", got)
	}
	if got.PublishedAt == nil {
		t.Fatalf("expected published timestamp")
	}
	if len(api.sentEvents) != 1 {
		t.Fatalf("expected one SendEvent call, got %d", len(api.sentEvents))
	}
	if api.sentEvents[0][0].Event != "Purchase" {
		t.Fatalf("unexpected envelope event %s", api.sentEvents[0][0].Event)
	}
}

func TestDeliverSchedulesRetryOnRemoteFailure(t *testing.T) {
	store := newFakeOutbox()
	api := &fakeAPI{outcome: loyalty.Outcome{Status: 500}}
	d := newTestDispatcher(t, store, api)

	record, err := NewQueue(store).Enqueue(context.Background(), purchaseMessage())
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	before := time.Now()
	d.Deliver(context.Background(), record)

	got := store.get(record.ID)
	if got.Delivered || got.Dead {
		t.Fatalf("expected record pending retry, got %+v", got)
	}
	if got.Attempts != 1 {
		t.Fatalf("expected one attempt, got %d", got.Attempts)
	}
	if got.LastError != "remote status 500" {
		t.Fatalf("unexpected last error %q", got.LastError)
	}
	if !got.AvailableAt.After(before.Add(9 * time.Second)) {
		t.Fatalf("expected retry scheduled at least one backoff out, got %s", got.AvailableAt)
	}
}

func TestDeliverRetriesOnAcceptedStatus(t *testing.T) {
	store := newFakeOutbox()
	api := &fakeAPI{outcome: loyalty.Outcome{Status: 202}}
	d := newTestDispatcher(t, store, api)

	record, err := NewQueue(store).Enqueue(context.Background(), purchaseMessage())
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	d.Deliver(context.Background(), record)

	got := store.get(record.ID)
	if got.Delivered {
		t.Fatalf("status 202 must not count as delivered")
	}
	if got.Attempts != 1 {
		t.Fatalf("expected one attempt, got %d", got.Attempts)
	}
	if got.LastError != "remote status 202" {
		t.Fatalf("unexpected last error %q", got.LastError)
	}
}

func TestDeliverDeadLettersAfterMaxAttempts(t *testing.T) {
	store := newFakeOutbox()
	api := &fakeAPI{outcome: loyalty.Outcome{Status: 500}}
	d := newTestDispatcher(t, store, api)

	record, err := NewQueue(store).Enqueue(context.Background(), purchaseMessage())
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	// Two prior failed attempts; the next failure exhausts the budget of 3.
	store.mu.Lock()
	store.records[record.ID].Attempts = 2
	store.mu.Unlock()
	record = store.get(record.ID)

	d.Deliver(context.Background(), record)

	got := store.get(record.ID)
	if !got.Dead {
		t.Fatalf("expected record dead-lettered, got %+v", got)
	}
	if got.Delivered {
		t.Fatalf("dead record must not be delivered")
	}
}

func TestDeliverDeadLettersUndecodablePayload(t *testing.T) {
	store := newFakeOutbox()
	api := &fakeAPI{outcome: loyalty.Outcome{Status: 200}}
	d := newTestDispatcher(t, store, api)

	record, err := store.Enqueue(context.Background(), outboxstore.Event{
		Kind:           "Purchase",
		Email:          "shopper@example.com",
		CorrelationID:  "order-x",
		IdempotencyKey: "key",
		Payload:        json.RawMessage(`{invalid`),
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	d.Deliver(context.Background(), record)

	got := store.get(record.ID)
	if !got.Dead {
		t.Fatalf("expected undecodable record dead-lettered, got %+v", got)
	}
	if len(api.sentEvents) != 0 {
		t.Fatalf("expected no remote calls for poison payload")
	}
}

func TestDeliverRoutesFreeProductMessages(t *testing.T) {
	store := newFakeOutbox()
	api := &fakeAPI{outcome: loyalty.Outcome{Status: 200}}
	d := newTestDispatcher(t, store, api)
	queue := NewQueue(store)

	placeRecord, err := queue.Enqueue(context.Background(), message.FreeProductPurchase{
		Email:    "shopper@example.com",
		OrderID:  "order-77",
		Products: []message.FreeProduct{{SKU: "SKU-7", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	removeRecord, err := queue.Enqueue(context.Background(), message.FreeProductRemove{
		Email:     "shopper@example.com",
		ProductID: "SKU-9",
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	d.Deliver(context.Background(), placeRecord)
	d.Deliver(context.Background(), removeRecord)

	if len(api.placeOrders) != 1 || api.placeOrders[0] != "order-77" {
		t.Fatalf("expected PlaceOrder for order-77, got %v", api.placeOrders)
	}
	if len(api.removals) != 1 || api.removals[0] != "SKU-9" {
		t.Fatalf("expected RemoveItem for SKU-9, got %v", api.removals)
	}
	if !store.get(placeRecord.ID).Delivered || !store.get(removeRecord.ID).Delivered {
		t.Fatalf("expected both records delivered")
	}
}

func TestDelayForDoublesAndCaps(t *testing.T) {
	d := newTestDispatcher(t, newFakeOutbox(), &fakeAPI{})

	first := d.delayFor(1)
	if first != 10*time.Second {
		t.Fatalf("expected first delay 10s, got %s", first)
	}
	second := d.delayFor(2)
	if second != 20*time.Second {
		t.Fatalf("expected second delay 20s, got %s", second)
	}
	huge := d.delayFor(20)
	if huge > time.Minute {
		t.Fatalf("expected delay capped at 1m, got %s", huge)
	}
}

func TestQueueEnqueueSetsIdempotencyKey(t *testing.T) {
	store := newFakeOutbox()
	queue := NewQueue(store)

	record, err := queue.Enqueue(context.Background(), purchaseMessage())
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	want := message.IdempotencyKey(message.KindPurchase, "order-1001")
	if record.IdempotencyKey != want {
		t.Fatalf("expected idempotency key %s, got %s", want, record.IdempotencyKey)
	}
	if record.CorrelationID != "order-1001" {
		t.Fatalf("unexpected correlation id %s", record.CorrelationID)
	}

	ret := message.Return{
		Email:      "shopper@example.com",
		ReturnDate: "2026-02-20T10:00:00+00:00",
		Products:   []message.OrderedProduct{{SKU: "SKU-1", Price: message.PriceFromFloat(5), Quantity: 1}},
	}
	retRecord, err := queue.Enqueue(context.Background(), ret)
	if err != nil {
		t.Fatalf("Enqueue return failed: %v", err)
	}
	// The stored key and the wire envelope key must agree.
	if want := ret.Envelopes()[0].IdempotencyKey; retRecord.IdempotencyKey != want {
		t.Fatalf("stored key %s does not match envelope key %s", retRecord.IdempotencyKey, want)
	}
}

func TestQueueEnqueueRejectsInvalidMessage(t *testing.T) {
	queue := NewQueue(newFakeOutbox())
	_, err := queue.Enqueue(context.Background(), message.Purchase{Email: "not-an-email"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRunOnceDrainsPendingBatch(t *testing.T) {
	store := newFakeOutbox()
	api := &fakeAPI{outcome: loyalty.Outcome{Status: 200}}
	d := newTestDispatcher(t, store, api)
	queue := NewQueue(store)

	record, err := queue.Enqueue(context.Background(), purchaseMessage())
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	submitted, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if submitted != 1 {
		t.Fatalf("expected 1 submission, got %d", submitted)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.get(record.ID).Delivered {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("record not delivered before deadline: %+v", store.get(record.ID))
}
