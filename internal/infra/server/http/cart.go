package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/loyaltyengage/loyalty-bridge/errs"
	"github.com/loyaltyengage/loyalty-bridge/internal/observability"
)

type cartRequest struct {
	Email     string  `json:"email"`
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Discount  float64 `json:"discount"`
}

type cartResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	DiscountCode string `json:"discountCode,omitempty"`
}

func (s *httpServer) cartAdd(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCartRequest(w, r, true)
	if !ok {
		return
	}
	if err := s.carts.AddProduct(r.Context(), req.Email, req.ProductID); err != nil {
		s.writeCartFailure(w, "cart add", err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{Success: true})
}

func (s *httpServer) cartRemove(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCartRequest(w, r, true)
	if !ok {
		return
	}
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	if err := s.carts.RemoveProduct(r.Context(), req.Email, req.ProductID, quantity); err != nil {
		s.writeCartFailure(w, "cart remove", err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{Success: true})
}

func (s *httpServer) cartRemoveAll(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCartRequest(w, r, false)
	if !ok {
		return
	}
	if err := s.carts.RemoveAllProducts(r.Context(), req.Email); err != nil {
		s.writeCartFailure(w, "cart remove all", err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{Success: true})
}

func (s *httpServer) cartClaimDiscount(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCartRequest(w, r, true)
	if !ok {
		return
	}
	code, err := s.carts.ClaimDiscount(r.Context(), req.Email, req.ProductID, req.Discount)
	if err != nil {
		s.writeCartFailure(w, "claim discount", err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{Success: true, DiscountCode: code})
}

// decodeCartRequest parses and pre-validates a cart mutation body. A missing
// email is an authentication failure, not a validation failure.
func (s *httpServer) decodeCartRequest(w http.ResponseWriter, r *http.Request, needProduct bool) (cartRequest, bool) {
	limitRequestBody(w, r)
	var req cartRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return cartRequest{}, false
	}
	req.Email = strings.TrimSpace(req.Email)
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.Email == "" {
		writeJSON(w, http.StatusUnauthorized, cartResponse{Success: false, Message: "customer email required"})
		return cartRequest{}, false
	}
	if needProduct && req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, cartResponse{Success: false, Message: "product id required"})
		return cartRequest{}, false
	}
	return req, true
}

func (s *httpServer) writeCartFailure(w http.ResponseWriter, op string, err error) {
	s.logger.Warn(op+" failed", observability.F("error", err))
	writeJSON(w, http.StatusBadRequest, cartResponse{Success: false, Message: failureMessage(err)})
}

// failureMessage prefers the structured error's human message over its full
// diagnostic rendering.
func failureMessage(err error) string {
	var e *errs.E
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
