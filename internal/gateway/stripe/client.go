// Package stripe implements the payment gateway against Stripe's
// form-encoded REST API.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/barva88/trauck/internal/gateway"
)

const defaultAPIBase = "https://api.stripe.com"

// Client talks to the Stripe REST API. It carries its own bounded
// http.Client so a slow provider can never hold a request handler or
// the refund engine hostage.
type Client struct {
	apiKey  string
	apiBase string
	http    *http.Client
	log     *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying transport, used by tests to
// point the client at a local server.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = strings.TrimRight(base, "/") }
}

func New(apiKey string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		apiBase: defaultAPIBase,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log.Named("gateway.stripe"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateCustomer(ctx context.Context, email string, metadata map[string]string) (*gateway.Customer, error) {
	form := url.Values{}
	if email != "" {
		form.Set("email", email)
	}
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/v1/customers", form, &resp); err != nil {
		return nil, err
	}
	return &gateway.Customer{ID: resp.ID}, nil
}

func (c *Client) CreateCheckout(ctx context.Context, params gateway.CheckoutParams) (*gateway.CheckoutSession, error) {
	quantity := params.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	form := url.Values{}
	form.Set("mode", string(params.Mode))
	form.Set("line_items[0][price]", params.PriceID)
	form.Set("line_items[0][quantity]", strconv.FormatInt(quantity, 10))
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	if params.CustomerID != "" {
		form.Set("customer", params.CustomerID)
	} else if params.CustomerEmail != "" {
		form.Set("customer_email", params.CustomerEmail)
	}
	if params.ClientReferenceID != "" {
		form.Set("client_reference_id", params.ClientReferenceID)
	}
	for k, v := range params.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var resp struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := c.post(ctx, "/v1/checkout/sessions", form, &resp); err != nil {
		return nil, err
	}
	return &gateway.CheckoutSession{ID: resp.ID, URL: resp.URL}, nil
}

func (c *Client) CreatePortal(ctx context.Context, customerID string, returnURL string) (*gateway.PortalSession, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	if returnURL != "" {
		form.Set("return_url", returnURL)
	}

	var resp struct {
		URL string `json:"url"`
	}
	if err := c.post(ctx, "/v1/billing_portal/sessions", form, &resp); err != nil {
		return nil, err
	}
	return &gateway.PortalSession{URL: resp.URL}, nil
}

func (c *Client) CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64) (*gateway.Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", paymentIntentID)
	if amountCents > 0 {
		form.Set("amount", strconv.FormatInt(amountCents, 10))
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.post(ctx, "/v1/refunds", form, &resp); err != nil {
		return nil, err
	}
	return &gateway.Refund{ID: resp.ID, Status: resp.Status}, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("provider request failed", zap.String("path", path), zap.Error(err))
		return gateway.ErrProviderUnavailable
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gateway.ErrProviderUnavailable
	}

	switch {
	case resp.StatusCode >= 500:
		c.log.Warn("provider server error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return gateway.ErrProviderUnavailable
	case resp.StatusCode >= 400:
		c.log.Warn("provider rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%w: status %d", gateway.ErrProviderRejected, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
