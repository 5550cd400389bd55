// Package loyalty implements the HTTP client for the remote loyalty engine.
package loyalty

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/loyaltyengage/loyalty-bridge/errs"
	"github.com/loyaltyengage/loyalty-bridge/internal/domain/message"
	"github.com/loyaltyengage/loyalty-bridge/internal/infra/config"
	"github.com/loyaltyengage/loyalty-bridge/internal/observability"
)

// Outcome reports the HTTP status of a remote loyalty call. Status zero means
// the request never reached the engine.
type Outcome struct {
	Status int
}

// OK reports whether the engine accepted the request. The engine signals
// acceptance with status 200 exactly; every other status is a rejection.
func (o Outcome) OK() bool {
	return o.Status == http.StatusOK
}

// TransportFailed reports whether the request failed before receiving a response.
func (o Outcome) TransportFailed() bool {
	return o.Status == 0
}

// Discount is the engine's response to a successful discount claim.
type Discount struct {
	DiscountCode string  `json:"discountCode"`
	Discount     float64 `json:"discount"`
}

// Client calls the remote loyalty engine's shop API.
type Client struct {
	baseURL    string
	basicAuth  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     observability.Logger
}

// NewClient constructs a Client from API configuration. Base URLs outside the
// pinned engine host are replaced with the pinned host.
func NewClient(cfg config.APIConfig, logger observability.Logger) *Client {
	if logger == nil {
		logger = observability.NewNop()
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = config.PinnedAPIHost
		logger.Warn("loyalty api url not configured, using default",
			observability.F("defaultUrl", baseURL))
	}
	if !strings.HasPrefix(baseURL, config.PinnedAPIHost) {
		logger.Warn("loyalty api url does not start with the required base url, using default",
			observability.F("configuredUrl", baseURL),
			observability.F("defaultUrl", config.PinnedAPIHost))
		baseURL = config.PinnedAPIHost
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		basicAuth:  base64.StdEncoding.EncodeToString([]byte(cfg.TenantID + ":" + cfg.BearerToken)),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:     logger,
	}
}

// WithHTTPClient overrides the underlying HTTP client, primarily for testing.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c
}

// WithBaseURL overrides the resolved base URL, primarily for testing.
func (c *Client) WithBaseURL(baseURL string) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed != "" {
		c.baseURL = trimmed
	}
	return c
}

// AddToCart adds a single reward product to the customer's remote cart.
// The returned outcome carries the engine's status verbatim; any status other
// than 200 is how the engine signals ineligibility.
func (c *Client) AddToCart(ctx context.Context, email, sku string) (Outcome, error) {
	payload := map[string]any{
		"sku":      sku,
		"quantity": 1,
	}
	outcome, _, err := c.send(ctx, "add_to_cart", http.MethodPost, c.shopPath(email, "/cart/add"), payload)
	if err != nil {
		return outcome, err
	}
	c.logger.Debug("loyalty add to cart",
		observability.F("email", email),
		observability.F("sku", sku),
		observability.F("status", outcome.Status))
	return outcome, nil
}

// RemoveItem removes quantity units of a product from the customer's remote cart.
func (c *Client) RemoveItem(ctx context.Context, email, sku string, quantity int) (Outcome, error) {
	payload := map[string]any{
		"sku":      sku,
		"quantity": quantity,
	}
	outcome, _, err := c.send(ctx, "remove_item", http.MethodDelete, c.shopPath(email, "/cart/remove"), payload)
	if err != nil {
		return outcome, err
	}
	c.logger.Debug("loyalty remove item",
		observability.F("email", email),
		observability.F("sku", sku),
		observability.F("quantity", quantity),
		observability.F("status", outcome.Status))
	return outcome, nil
}

// RemoveAllItems empties the customer's remote cart.
func (c *Client) RemoveAllItems(ctx context.Context, email string) (Outcome, error) {
	outcome, _, err := c.send(ctx, "remove_all_items", http.MethodDelete, c.shopPath(email, "/cart"), nil)
	if err != nil {
		return outcome, err
	}
	c.logger.Debug("loyalty remove all items",
		observability.F("email", email),
		observability.F("status", outcome.Status))
	return outcome, nil
}

// PlaceOrder converts the customer's remote cart into a placed loyalty order.
func (c *Client) PlaceOrder(ctx context.Context, email, orderID string, products []message.FreeProduct) (Outcome, error) {
	if products == nil {
		products = []message.FreeProduct{}
	}
	payload := map[string]any{
		"orderId":  orderID,
		"products": products,
	}
	outcome, _, err := c.send(ctx, "place_order", http.MethodPost, c.shopPath(email, "/cart/purchase"), payload)
	if err != nil {
		return outcome, err
	}
	c.logger.Debug("loyalty place order",
		observability.F("email", email),
		observability.F("orderId", orderID),
		observability.F("status", outcome.Status))
	return outcome, nil
}

// SendEvent delivers one or more event envelopes to the engine's event intake.
func (c *Client) SendEvent(ctx context.Context, envelopes []message.Envelope) (Outcome, error) {
	if len(envelopes) == 0 {
		return Outcome{}, errs.New("loyalty", errs.CodeInvalid, errs.WithMessage("no envelopes to send"))
	}
	outcome, _, err := c.send(ctx, "send_event", http.MethodPost, "/api/v1/events", envelopes)
	if err != nil {
		return outcome, err
	}
	c.logger.Debug("loyalty send event",
		observability.F("event", envelopes[0].Event),
		observability.F("count", len(envelopes)),
		observability.F("status", outcome.Status))
	return outcome, nil
}

// ClaimDiscount claims a percentage discount for the customer. The discount
// body is only populated when the engine returns 200.
func (c *Client) ClaimDiscount(ctx context.Context, email string, discount float64) (Discount, Outcome, error) {
	payload := map[string]any{"discount": discount}
	path := "/api/v1/discount/" + url.PathEscape(email) + "/claim"
	outcome, body, err := c.send(ctx, "claim_discount", http.MethodPost, path, payload)
	if err != nil {
		return Discount{}, outcome, err
	}
	c.logger.Debug("loyalty claim discount",
		observability.F("email", email),
		observability.F("discount", discount),
		observability.F("status", outcome.Status))
	if outcome.Status != http.StatusOK {
		return Discount{}, outcome, nil
	}
	var claimed Discount
	if err := json.Unmarshal(body, &claimed); err != nil {
		return Discount{}, outcome, errs.New("loyalty", errs.CodeRemote,
			WithStatus(outcome.Status),
			errs.WithMessage("decode discount claim response"),
			errs.WithCause(err))
	}
	return claimed, outcome, nil
}

// WithStatus records the remote status on a client error.
func WithStatus(status int) errs.Option {
	return errs.WithHTTP(status)
}

func (c *Client) shopPath(email, suffix string) string {
	return "/api/v1/loyalty/shop/" + url.PathEscape(email) + suffix
}

// send performs one rate-limited request and returns the outcome plus the
// response body (capped at 64 KiB). Transport failures yield a zero status and
// a network-scoped error.
func (c *Client) send(ctx context.Context, op, method, path string, payload any) (Outcome, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Outcome{}, nil, errs.New("loyalty", errs.CodeRateLimited,
			errs.WithMessage("rate limiter wait"),
			errs.WithCanonicalCode(errs.CanonicalRateLimited),
			errs.WithCause(err))
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Outcome{}, nil, errs.New("loyalty", errs.CodeInvalid,
				errs.WithMessage("encode request payload"),
				errs.WithCause(err))
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return Outcome{}, nil, errs.New("loyalty", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("create %s request", method)),
			errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+c.basicAuth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("loyalty request failed",
			observability.F("method", method),
			observability.F("path", path),
			observability.F("error", err))
		recordRemoteCall(ctx, op, 0)
		return Outcome{}, nil, errs.New("loyalty", errs.CodeNetwork,
			errs.WithMessage("request loyalty engine"),
			errs.WithCause(err))
	}
	recordRemoteCall(ctx, op, resp.StatusCode)
	defer func() {
		_ = resp.Body.Close()
	}()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Outcome{Status: resp.StatusCode}, nil, errs.New("loyalty", errs.CodeNetwork,
			WithStatus(resp.StatusCode),
			errs.WithMessage("read response body"),
			errs.WithCause(err))
	}
	return Outcome{Status: resp.StatusCode}, responseBody, nil
}
