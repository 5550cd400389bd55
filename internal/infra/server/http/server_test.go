package httpserver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/loyaltyengage/loyalty-bridge/internal/cart"
	"github.com/loyaltyengage/loyalty-bridge/internal/dispatch"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/cartstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/customerstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/message"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/orderstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/outboxstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/promotionstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/infra/config"
	"github.com/loyaltyengage/loyalty-bridge/internal/loyalty"
)

type stubLoyaltyAPI struct {
	addStatus   int
	claimStatus int
	claim       loyalty.Discount
}

func (s *stubLoyaltyAPI) AddToCart(ctx context.Context, email, sku string) (loyalty.Outcome, error) {
	return loyalty.Outcome{Status: s.addStatus}, nil
}

func (s *stubLoyaltyAPI) RemoveItem(ctx context.Context, email, sku string, quantity int) (loyalty.Outcome, error) {
	return loyalty.Outcome{Status: 200}, nil
}

func (s *stubLoyaltyAPI) RemoveAllItems(ctx context.Context, email string) (loyalty.Outcome, error) {
	return loyalty.Outcome{Status: 200}, nil
}

func (s *stubLoyaltyAPI) ClaimDiscount(ctx context.Context, email string, discount float64) (loyalty.Discount, loyalty.Outcome, error) {
	return s.claim, loyalty.Outcome{Status: s.claimStatus}, nil
}

type stubCartStore struct {
	lines map[string]int
}

func (s *stubCartStore) EnsureActiveCart(ctx context.Context, email string) (cartstore.Cart, error) {
	return cartstore.Cart{ID: "cart-1", CustomerEmail: email, Active: true}, nil
}

func (s *stubCartStore) AddLineItem(ctx context.Context, cartID string, item cartstore.LineItem) error {
	if s.lines == nil {
		s.lines = map[string]int{}
	}
	s.lines[item.SKU] += item.Quantity
	return nil
}

func (s *stubCartStore) RemoveLineItem(ctx context.Context, cartID, sku string, quantity int) error {
	return nil
}

func (s *stubCartStore) ClearLineItems(ctx context.Context, cartID string) error { return nil }

func (s *stubCartStore) ListLineItems(ctx context.Context, cartID string) ([]cartstore.LineItem, error) {
	return nil, nil
}

func (s *stubCartStore) ListExpired(ctx context.Context, cutoff time.Time, attemptLimit, limit int) ([]cartstore.ExpiryCandidate, error) {
	return nil, nil
}

func (s *stubCartStore) Deactivate(ctx context.Context, cartID string) error { return nil }

func (s *stubCartStore) RecordSweepFailure(ctx context.Context, cartID string, attemptLimit int) error {
	return nil
}

type stubPromotionStore struct{}

func (stubPromotionStore) GetByCode(ctx context.Context, code string) (promotionstore.Promotion, bool, error) {
	return promotionstore.Promotion{}, false, nil
}

func (stubPromotionStore) Create(ctx context.Context, promotion promotionstore.Promotion) error {
	return nil
}

type memoryOutbox struct {
	mu      sync.Mutex
	nextID  int64
	records []outboxstore.EventRecord
}

func (m *memoryOutbox) Enqueue(ctx context.Context, evt outboxstore.Event) (outboxstore.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	record := outboxstore.EventRecord{
		ID:             m.nextID,
		Kind:           evt.Kind,
		Email:          evt.Email,
		CorrelationID:  evt.CorrelationID,
		IdempotencyKey: evt.IdempotencyKey,
		Payload:        evt.Payload,
	}
	m.records = append(m.records, record)
	return record, nil
}

func (m *memoryOutbox) ListPending(ctx context.Context, limit int) ([]outboxstore.EventRecord, error) {
	return nil, nil
}

func (m *memoryOutbox) MarkDelivered(ctx context.Context, id int64) error { return nil }

func (m *memoryOutbox) MarkFailed(ctx context.Context, id int64, lastError string, nextAttempt time.Time) error {
	return nil
}

func (m *memoryOutbox) MarkDead(ctx context.Context, id int64, lastError string) error { return nil }

func (m *memoryOutbox) Delete(ctx context.Context, id int64) error { return nil }

type memoryOrders struct {
	mu      sync.Mutex
	created []orderstore.Order
}

func (m *memoryOrders) Create(ctx context.Context, order orderstore.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, order)
	return nil
}

func (m *memoryOrders) GetByNumber(ctx context.Context, orderNumber string) (orderstore.Order, error) {
	return orderstore.Order{}, orderstore.ErrNotFound
}

func (m *memoryOrders) ListUnplaced(ctx context.Context, retrieveLimit, limit int) ([]orderstore.Order, error) {
	return nil, nil
}

func (m *memoryOrders) MarkPlaced(ctx context.Context, id string) error { return nil }

func (m *memoryOrders) IncrementRetrieve(ctx context.Context, id string) error { return nil }

type memoryCustomers struct {
	mu        sync.Mutex
	customers map[string]customerstore.Customer
}

func newMemoryCustomers() *memoryCustomers {
	return &memoryCustomers{customers: map[string]customerstore.Customer{}}
}

func (m *memoryCustomers) Create(ctx context.Context, customer customerstore.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	customer.CreatedAt = time.Now().UTC()
	customer.UpdatedAt = customer.CreatedAt
	m.customers[customer.Email] = customer
	return nil
}

func (m *memoryCustomers) GetByEmail(ctx context.Context, email string) (customerstore.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	customer, ok := m.customers[email]
	if !ok {
		return customerstore.Customer{}, customerstore.ErrNotFound
	}
	return customer, nil
}

func (m *memoryCustomers) UpdateLoyalty(ctx context.Context, email string, update customerstore.LoyaltyUpdate) (customerstore.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	customer, ok := m.customers[email]
	if !ok {
		return customerstore.Customer{}, customerstore.ErrNotFound
	}
	if update.Points != nil {
		customer.Loyalty.Points = *update.Points
	}
	if update.AvailableCoins != nil {
		customer.Loyalty.AvailableCoins = *update.AvailableCoins
	}
	if update.CurrentTier != nil {
		customer.Loyalty.CurrentTier = *update.CurrentTier
	}
	customer.UpdatedAt = time.Now().UTC()
	m.customers[email] = customer
	return customer, nil
}

type fixture struct {
	handler http.Handler
	outbox  *memoryOutbox
	orders  *memoryOrders
	custs   *memoryCustomers
}

func newFixture(t *testing.T, api cart.API, events config.EventsConfig) *fixture {
	t.Helper()
	carts, err := cart.NewService(api, &stubCartStore{}, stubPromotionStore{}, nil)
	if err != nil {
		t.Fatalf("cart.NewService: %v", err)
	}
	outbox := &memoryOutbox{}
	orders := &memoryOrders{}
	custs := newMemoryCustomers()
	handler := NewHandler(carts, dispatch.NewQueue(outbox), orders, custs, events, nil)
	return &fixture{handler: handler, outbox: outbox, orders: orders, custs: custs}
}

func allEvents() config.EventsConfig {
	return config.EventsConfig{PurchaseEnabled: true, ReturnEnabled: true}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(recorder.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return out
}

func TestCartAddSuccess(t *testing.T) {
	f := newFixture(t, &stubLoyaltyAPI{addStatus: 200}, allEvents())

	rec := doJSON(t, f.handler, http.MethodPost, cartAddPath, map[string]any{
		"email":     "user@example.com",
		"productId": "SKU-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse[cartResponse](t, rec)
	if !resp.Success {
		t.Fatalf("expected success response")
	}
}

func TestCartAddIneligibleReturnsMessage(t *testing.T) {
	f := newFixture(t, &stubLoyaltyAPI{addStatus: 422}, allEvents())

	rec := doJSON(t, f.handler, http.MethodPost, cartAddPath, map[string]any{
		"email":     "user@example.com",
		"productId": "SKU-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	resp := decodeResponse[cartResponse](t, rec)
	if resp.Success {
		t.Fatalf("expected failure response")
	}
	if resp.Message != cart.NotEligibleMessage {
		t.Fatalf("unexpected message %q", resp.Message)
	}
}

func TestCartAddWithoutEmailIsUnauthorized(t *testing.T) {
	f := newFixture(t, &stubLoyaltyAPI{addStatus: 200}, allEvents())

	rec := doJSON(t, f.handler, http.MethodPost, cartAddPath, map[string]any{
		"productId": "SKU-1",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCartClaimDiscountReturnsCode(t *testing.T) {
	f := newFixture(t, &stubLoyaltyAPI{
		addStatus:   200,
		claimStatus: 200,
		claim:       loyalty.Discount{DiscountCode: "LOYAL10", Discount: 0.1},
	}, allEvents())

	rec := doJSON(t, f.handler, http.MethodPost, cartClaimDiscountPath, map[string]any{
		"email":     "user@example.com",
		"productId": "SKU-D",
		"discount":  0.1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse[cartResponse](t, rec)
	if resp.DiscountCode != "LOYAL10" {
		t.Fatalf("expected discount code, got %q", resp.DiscountCode)
	}
}

func TestOrderCompletedRecordsAndEnqueues(t *testing.T) {
	f := newFixture(t, &stubLoyaltyAPI{addStatus: 200}, allEvents())

	rec := doJSON(t, f.handler, http.MethodPost, eventOrderCompletedPath, map[string]any{
		"orderNumber": "10001",
		"email":       "user@example.com",
		"orderDate":   "2026-09-01T10:00:00+00:00",
		"products": []map[string]any{
			{"sku": "SKU-1", "price": 19.99, "quantity": 2},
		},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse[enqueueResponse](t, rec)
	if !resp.Enqueued || resp.ID == 0 {
		t.Fatalf("expected enqueued record, got %+v", resp)
	}
	if len(f.orders.created) != 1 || f.orders.created[0].OrderNumber != "10001" {
		t.Fatalf("expected order recorded, got %+v", f.orders.created)
	}
	if len(f.outbox.records) != 1 || f.outbox.records[0].Kind != message.KindPurchase {
		t.Fatalf("expected purchase outbox record, got %+v", f.outbox.records)
	}
}

func TestOrderCompletedDisabledSkipsPipeline(t *testing.T) {
	f := newFixture(t, &stubLoyaltyAPI{addStatus: 200}, config.EventsConfig{ReturnEnabled: true})

	rec := doJSON(t, f.handler, http.MethodPost, eventOrderCompletedPath, map[string]any{
		"orderNumber": "10001",
		"email":       "user@example.com",
		"orderDate":   "2026-09-01T10:00:00+00:00",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	resp := decodeResponse[enqueueResponse](t, rec)
	if resp.Enqueued {
		t.Fatalf("disabled event type must not enqueue")
	}
	if len(f.orders.created) != 0 || len(f.outbox.records) != 0 {
		t.Fatalf("disabled event type must not touch stores")
	}
}

func TestOrderCompletedRejectsInvalidEmail(t *testing.T) {
	f := newFixture(t, &stubLoyaltyAPI{addStatus: 200}, allEvents())

	rec := doJSON(t, f.handler, http.MethodPost, eventOrderCompletedPath, map[string]any{
		"orderNumber": "10001",
		"email":       "not-an-email",
		"orderDate":   "2026-09-01T10:00:00+00:00",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(f.outbox.records) != 0 {
		t.Fatalf("invalid event must not enqueue")
	}
}

func TestFreeProductRemoveEnqueues(t *testing.T) {
	f := newFixture(t, &stubLoyaltyAPI{addStatus: 200}, allEvents())

	rec := doJSON(t, f.handler, http.MethodPost, eventFreeProductRemovePath, map[string]any{
		"email":     "user@example.com",
		"productId": "SKU-9",
		"quantity":  1,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.outbox.records) != 1 || f.outbox.records[0].Kind != message.KindFreeProductRemove {
		t.Fatalf("expected free product remove record, got %+v", f.outbox.records)
	}
}

func TestCustomerLifecycle(t *testing.T) {
	f := newFixture(t, &stubLoyaltyAPI{addStatus: 200}, allEvents())

	rec := doJSON(t, f.handler, http.MethodPost, customersPath, map[string]any{
		"email":   "User@Example.com",
		"loyalty": map[string]any{"points": 100, "currentTier": "silver"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, f.handler, http.MethodGet, customersDetailPrefix+"user@example.com", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	customer := decodeResponse[customerResponse](t, rec)
	if customer.Loyalty.Points != 100 {
		t.Fatalf("expected 100 points, got %d", customer.Loyalty.Points)
	}

	rec = doJSON(t, f.handler, http.MethodPatch, customersDetailPrefix+"user@example.com", map[string]any{
		"points": 250,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	customer = decodeResponse[customerResponse](t, rec)
	if customer.Loyalty.Points != 250 {
		t.Fatalf("expected patched points 250, got %d", customer.Loyalty.Points)
	}
	if customer.Loyalty.CurrentTier != "silver" {
		t.Fatalf("patch must keep unset fields, got tier %q", customer.Loyalty.CurrentTier)
	}
}

func TestCustomerNotFound(t *testing.T) {
	f := newFixture(t, &stubLoyaltyAPI{addStatus: 200}, allEvents())

	rec := doJSON(t, f.handler, http.MethodGet, customersDetailPrefix+"ghost@example.com", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, &stubLoyaltyAPI{addStatus: 200}, allEvents())

	rec := doJSON(t, f.handler, http.MethodGet, cartAddPath, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Fatalf("expected Allow header POST, got %q", allow)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, &stubLoyaltyAPI{addStatus: 200}, allEvents())

	rec := doJSON(t, f.handler, http.MethodGet, healthPath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
