package httpserver

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/loyaltyengage/loyalty-bridge/errs"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/message"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/orderstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/observability"
)

type enqueueResponse struct {
	Enqueued bool  `json:"enqueued"`
	ID       int64 `json:"id,omitempty"`
}

type orderCompletedRequest struct {
	OrderNumber string                   `json:"orderNumber"`
	Email       string                   `json:"email"`
	OrderDate   string                   `json:"orderDate"`
	Products    []message.OrderedProduct `json:"products"`
}

type deliveryReturnedRequest struct {
	Email      string                   `json:"email"`
	ReturnDate string                   `json:"returnDate"`
	Products   []message.OrderedProduct `json:"products"`
}

type freeProductPurchaseRequest struct {
	Email    string                `json:"email"`
	OrderID  string                `json:"orderId"`
	Products []message.FreeProduct `json:"products"`
}

type freeProductRemoveRequest struct {
	Email     string `json:"email"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (s *httpServer) orderCompleted(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var req orderCompletedRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if !s.events.PurchaseEnabled {
		writeJSON(w, http.StatusAccepted, enqueueResponse{Enqueued: false})
		return
	}

	msg := message.Purchase{
		Email:     req.Email,
		OrderID:   req.OrderNumber,
		OrderDate: req.OrderDate,
		Products:  req.Products,
	}
	if err := msg.Validate(); err != nil {
		s.writeEventError(w, err)
		return
	}

	order := orderstore.Order{
		ID:            uuid.NewString(),
		OrderNumber:   req.OrderNumber,
		CustomerEmail: req.Email,
		OrderDate:     req.OrderDate,
		Products:      req.Products,
	}
	if err := s.orders.Create(r.Context(), order); err != nil {
		s.writeEventError(w, err)
		return
	}

	s.enqueue(w, r, msg)
}

func (s *httpServer) deliveryReturned(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var req deliveryReturnedRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if !s.events.ReturnEnabled {
		writeJSON(w, http.StatusAccepted, enqueueResponse{Enqueued: false})
		return
	}
	s.enqueue(w, r, message.Return{
		Email:      req.Email,
		ReturnDate: req.ReturnDate,
		Products:   req.Products,
	})
}

func (s *httpServer) freeProductPurchase(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var req freeProductPurchaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	s.enqueue(w, r, message.FreeProductPurchase{
		Email:    req.Email,
		OrderID:  req.OrderID,
		Products: req.Products,
	})
}

func (s *httpServer) freeProductRemove(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var req freeProductRemoveRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	s.enqueue(w, r, message.FreeProductRemove{
		Email:     req.Email,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
}

func (s *httpServer) enqueue(w http.ResponseWriter, r *http.Request, msg message.Message) {
	record, err := s.queue.Enqueue(r.Context(), msg)
	if err != nil {
		s.writeEventError(w, err)
		return
	}
	s.logger.Info("event enqueued",
		observability.F("id", record.ID),
		observability.F("kind", record.Kind),
		observability.F("email", record.Email))
	writeJSON(w, http.StatusAccepted, enqueueResponse{Enqueued: true, ID: record.ID})
}

func (s *httpServer) writeEventError(w http.ResponseWriter, err error) {
	s.logger.Warn("event ingestion rejected", observability.F("error", err))
	writeError(w, errorStatus(err), failureMessage(err))
}

// errorStatus maps structured error codes onto HTTP statuses.
func errorStatus(err error) int {
	var e *errs.E
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case errs.CodeInvalid:
		return http.StatusBadRequest
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeConflict:
		return http.StatusConflict
	case errs.CodeAuth:
		return http.StatusUnauthorized
	case errs.CodeRateLimited:
		return http.StatusTooManyRequests
	case errs.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
