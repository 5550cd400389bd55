// Package httpserver exposes the bridge's inbound HTTP surface: cart actions,
// event ingestion, and customer loyalty state.
package httpserver

import (
	"bytes"
	"errors"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/loyaltyengage/loyalty-bridge/internal/cart"
	"github.com/loyaltyengage/loyalty-bridge/internal/dispatch"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/customerstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/orderstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/infra/config"
	"github.com/loyaltyengage/loyalty-bridge/internal/observability"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	cartAddPath           = "/cart/add"
	cartRemovePath        = "/cart/remove"
	cartRemoveAllPath     = "/cart/remove-all"
	cartClaimDiscountPath = "/cart/claim-discount"

	eventOrderCompletedPath      = "/events/order-completed"
	eventDeliveryReturnedPath    = "/events/delivery-returned"
	eventFreeProductPurchasePath = "/events/free-product-purchase"
	eventFreeProductRemovePath   = "/events/free-product-remove"

	customersPath         = "/loyalty/customers"
	customersDetailPrefix = customersPath + "/"

	healthPath = "/healthz"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	carts     *cart.Service
	queue     *dispatch.Queue
	orders    orderstore.Store
	customers customerstore.Store
	events    config.EventsConfig
	logger    observability.Logger
}

// NewHandler wires the bridge routes onto a ServeMux.
func NewHandler(carts *cart.Service, queue *dispatch.Queue, orders orderstore.Store, customers customerstore.Store, events config.EventsConfig, logger observability.Logger) http.Handler {
	if logger == nil {
		logger = observability.NewNop()
	}
	server := &httpServer{
		carts:     carts,
		queue:     queue,
		orders:    orders,
		customers: customers,
		events:    events,
		logger:    logger,
	}
	mux := http.NewServeMux()

	mux.Handle(cartAddPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.cartAdd,
	}))
	mux.Handle(cartRemovePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.cartRemove,
	}))
	mux.Handle(cartRemoveAllPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.cartRemoveAll,
	}))
	mux.Handle(cartClaimDiscountPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.cartClaimDiscount,
	}))

	mux.Handle(eventOrderCompletedPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.orderCompleted,
	}))
	mux.Handle(eventDeliveryReturnedPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.deliveryReturned,
	}))
	mux.Handle(eventFreeProductPurchasePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.freeProductPurchase,
	}))
	mux.Handle(eventFreeProductRemovePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.freeProductRemove,
	}))

	mux.Handle(customersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.createCustomer,
	}))
	mux.Handle(customersDetailPrefix, http.HandlerFunc(server.handleCustomer))

	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		return
	}
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(dst)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
