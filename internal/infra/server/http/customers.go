package httpserver

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loyaltyengage/loyalty-bridge/internal/domain/customerstore"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/message"
	"github.com/loyaltyengage/loyalty-bridge/internal/observability"
)

type createCustomerRequest struct {
	Email   string                `json:"email"`
	Loyalty customerstore.Loyalty `json:"loyalty"`
}

type customerResponse struct {
	ID        string                `json:"id"`
	Email     string                `json:"email"`
	Loyalty   customerstore.Loyalty `json:"loyalty"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

func customerPayload(customer customerstore.Customer) customerResponse {
	return customerResponse{
		ID:        customer.ID,
		Email:     customer.Email,
		Loyalty:   customer.Loyalty,
		CreatedAt: customer.CreatedAt,
		UpdatedAt: customer.UpdatedAt,
	}
}

func (s *httpServer) createCustomer(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var req createCustomerRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := message.ValidateEmail(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, failureMessage(err))
		return
	}
	customer := customerstore.Customer{
		ID:      uuid.NewString(),
		Email:   strings.ToLower(strings.TrimSpace(req.Email)),
		Loyalty: req.Loyalty,
	}
	if err := s.customers.Create(r.Context(), customer); err != nil {
		s.logger.Warn("create customer failed", observability.F("error", err))
		writeError(w, errorStatus(err), failureMessage(err))
		return
	}
	stored, err := s.customers.GetByEmail(r.Context(), customer.Email)
	if err != nil {
		writeError(w, errorStatus(err), failureMessage(err))
		return
	}
	writeJSON(w, http.StatusCreated, customerPayload(stored))
}

func (s *httpServer) handleCustomer(w http.ResponseWriter, r *http.Request) {
	email := customerEmailFromPath(r.URL.Path)
	if email == "" {
		writeError(w, http.StatusNotFound, "customer email required")
		return
	}
	if err := message.ValidateEmail(email); err != nil {
		writeError(w, http.StatusBadRequest, failureMessage(err))
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getCustomer(w, r, email)
	case http.MethodPatch:
		s.patchCustomer(w, r, email)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch)
	}
}

func (s *httpServer) getCustomer(w http.ResponseWriter, r *http.Request, email string) {
	customer, err := s.customers.GetByEmail(r.Context(), email)
	if errors.Is(err, customerstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	if err != nil {
		writeError(w, errorStatus(err), failureMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, customerPayload(customer))
}

// patchCustomer applies only the loyalty fields present in the request body.
func (s *httpServer) patchCustomer(w http.ResponseWriter, r *http.Request, email string) {
	limitRequestBody(w, r)
	var update customerstore.LoyaltyUpdate
	if err := decodeBody(r, &update); err != nil {
		writeDecodeError(w, err)
		return
	}
	customer, err := s.customers.UpdateLoyalty(r.Context(), email, update)
	if errors.Is(err, customerstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	if err != nil {
		writeError(w, errorStatus(err), failureMessage(err))
		return
	}
	s.logger.Info("customer loyalty updated", observability.F("email", customer.Email))
	writeJSON(w, http.StatusOK, customerPayload(customer))
}

func customerEmailFromPath(path string) string {
	rest := strings.Trim(strings.TrimPrefix(path, customersDetailPrefix), "/")
	if rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	if unescaped, err := url.PathUnescape(rest); err == nil {
		rest = unescaped
	}
	return strings.TrimSpace(rest)
}
