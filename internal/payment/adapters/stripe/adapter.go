// Package stripe adapts Stripe webhook deliveries to the reconciler's
// provider-agnostic event model.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/barva88/trauck/internal/payment/domain"
)

const (
	ProviderName    = "stripe"
	signatureHeader = "Stripe-Signature"

	defaultTolerance = 5 * time.Minute
)

type factory struct{}

func NewFactory() paymentdomain.AdapterFactory {
	return factory{}
}

func (factory) Provider() string { return ProviderName }

func (factory) NewAdapter(config paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(config.Secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	tolerance := config.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &adapter{secret: []byte(secret), tolerance: tolerance}, nil
}

type adapter struct {
	secret    []byte
	tolerance time.Duration
}

// Verify checks the signature header's HMAC over "<timestamp>.<body>"
// and rejects stale timestamps to stop replayed captures.
func (a *adapter) Verify(_ context.Context, payload []byte, headers http.Header) error {
	header := strings.TrimSpace(headers.Get(signatureHeader))
	if header == "" {
		return paymentdomain.ErrInvalidSignature
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return paymentdomain.ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	age := time.Since(time.Unix(unix, 0))
	if age > a.tolerance || age < -a.tolerance {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutSession struct {
	ID                string `json:"id"`
	ClientReferenceID string `json:"client_reference_id"`
	PaymentIntent     string `json:"payment_intent"`
	Subscription      string `json:"subscription"`
	PaymentStatus     string `json:"payment_status"`
}

type invoice struct {
	ID            string `json:"id"`
	Subscription  string `json:"subscription"`
	PaymentIntent string `json:"payment_intent"`
	BillingReason string `json:"billing_reason"`
}

func (a *adapter) Parse(_ context.Context, payload []byte) (*paymentdomain.ProviderEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if env.ID == "" || env.Type == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	event := paymentdomain.ProviderEvent{
		Provider:        ProviderName,
		ProviderEventID: env.ID,
		OccurredAt:      time.Unix(env.Created, 0).UTC(),
	}

	switch env.Type {
	case "checkout.session.completed":
		var session checkoutSession
		if err := json.Unmarshal(env.Data.Object, &session); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		if session.ID == "" {
			return nil, paymentdomain.ErrInvalidPayload
		}
		event.Type = paymentdomain.EventTypeCheckoutCompleted
		event.CheckoutSessionID = session.ID
		event.PaymentIntentID = session.PaymentIntent
		event.SubscriptionID = session.Subscription
	case "invoice.paid", "invoice.payment_succeeded":
		var inv invoice
		if err := json.Unmarshal(env.Data.Object, &inv); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		if inv.ID == "" {
			return nil, paymentdomain.ErrInvalidPayload
		}
		event.Type = paymentdomain.EventTypeInvoicePaid
		event.InvoiceID = inv.ID
		event.SubscriptionID = inv.Subscription
		event.PaymentIntentID = inv.PaymentIntent
		event.BillingReason = inv.BillingReason
	case "invoice.payment_failed":
		var inv invoice
		if err := json.Unmarshal(env.Data.Object, &inv); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		event.Type = paymentdomain.EventTypePaymentFailed
		event.InvoiceID = inv.ID
		event.SubscriptionID = inv.Subscription
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	return &event, nil
}
