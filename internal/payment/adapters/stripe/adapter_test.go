package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	paymentdomain "github.com/barva88/trauck/internal/payment/domain"
)

const testSecret = "whsec_test"

func newTestAdapter(t *testing.T) paymentdomain.PaymentAdapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Provider: ProviderName,
		Secret:   testSecret,
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func signPayload(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func signedHeaders(secret string, timestamp int64, payload []byte) http.Header {
	headers := http.Header{}
	headers.Set(signatureHeader, "t="+strconv.FormatInt(timestamp, 10)+",v1="+signPayload(secret, timestamp, payload))
	return headers
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	headers := signedHeaders(testSecret, time.Now().Unix(), payload)
	if err := adapter.Verify(context.Background(), payload, headers); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_2"}`)

	headers := signedHeaders("whsec_other", time.Now().Unix(), payload)
	if err := adapter.Verify(context.Background(), payload, headers); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_3"}`)

	headers := signedHeaders(testSecret, time.Now().Unix(), payload)
	tampered := []byte(`{"id":"evt_3","amount":999}`)
	if err := adapter.Verify(context.Background(), tampered, headers); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_4"}`)

	stale := time.Now().Add(-10 * time.Minute).Unix()
	headers := signedHeaders(testSecret, stale, payload)
	if err := adapter.Verify(context.Background(), payload, headers); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected stale timestamp rejection, got %v", err)
	}
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	adapter := newTestAdapter(t)

	if err := adapter.Verify(context.Background(), []byte(`{}`), http.Header{}); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected missing header rejection, got %v", err)
	}
}

func TestVerifyAcceptsSecondSignature(t *testing.T) {
	// Secret rotation sends two v1 entries; any match passes.
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_5"}`)
	timestamp := time.Now().Unix()

	headers := http.Header{}
	headers.Set(signatureHeader,
		"t="+strconv.FormatInt(timestamp, 10)+
			",v1="+signPayload("whsec_retired", timestamp, payload)+
			",v1="+signPayload(testSecret, timestamp, payload))
	if err := adapter.Verify(context.Background(), payload, headers); err != nil {
		t.Fatalf("expected rotated signature to pass, got %v", err)
	}
}

func TestParseCheckoutCompleted(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_checkout",
		"type": "checkout.session.completed",
		"created": 1714564800,
		"data": {"object": {
			"id": "cs_test_123",
			"client_reference_id": "1234567890",
			"payment_intent": "pi_123",
			"payment_status": "paid"
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != paymentdomain.EventTypeCheckoutCompleted {
		t.Fatalf("expected checkout_completed, got %s", event.Type)
	}
	if event.ProviderEventID != "evt_checkout" {
		t.Fatalf("expected evt_checkout, got %s", event.ProviderEventID)
	}
	if event.CheckoutSessionID != "cs_test_123" {
		t.Fatalf("expected cs_test_123, got %s", event.CheckoutSessionID)
	}
	if event.PaymentIntentID != "pi_123" {
		t.Fatalf("expected pi_123, got %s", event.PaymentIntentID)
	}
	if !event.OccurredAt.Equal(time.Unix(1714564800, 0)) {
		t.Fatalf("unexpected occurred_at %s", event.OccurredAt)
	}
}

func TestParseInvoicePaid(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_invoice",
		"type": "invoice.paid",
		"created": 1714564800,
		"data": {"object": {
			"id": "in_123",
			"subscription": "sub_123",
			"billing_reason": "subscription_cycle"
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != paymentdomain.EventTypeInvoicePaid {
		t.Fatalf("expected invoice_paid, got %s", event.Type)
	}
	if event.InvoiceID != "in_123" || event.SubscriptionID != "sub_123" {
		t.Fatalf("unexpected refs %q %q", event.InvoiceID, event.SubscriptionID)
	}
	if event.BillingReason != "subscription_cycle" {
		t.Fatalf("expected subscription_cycle, got %s", event.BillingReason)
	}
}

func TestParsePaymentFailed(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_failed",
		"type": "invoice.payment_failed",
		"created": 1714564800,
		"data": {"object": {"id": "in_456", "subscription": "sub_456"}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != paymentdomain.EventTypePaymentFailed {
		t.Fatalf("expected payment_failed, got %s", event.Type)
	}
	if event.SubscriptionID != "sub_456" {
		t.Fatalf("expected sub_456, got %s", event.SubscriptionID)
	}
}

func TestParseIgnoresUnknownEventType(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id": "evt_x", "type": "customer.updated", "data": {"object": {}}}`)

	_, err := adapter.Parse(context.Background(), payload)
	if !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected event ignored, got %v", err)
	}
}

func TestParseRejectsMalformedPayload(t *testing.T) {
	adapter := newTestAdapter(t)

	cases := [][]byte{
		[]byte(`not-json`),
		[]byte(`{"type": "checkout.session.completed"}`),
		[]byte(`{"id": "evt_y", "type": "checkout.session.completed", "data": {"object": {}}}`),
	}
	for _, payload := range cases {
		if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, paymentdomain.ErrInvalidPayload) {
			t.Fatalf("expected invalid payload for %s, got %v", payload, err)
		}
	}
}

func TestNewAdapterRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Provider: ProviderName})
	if !errors.Is(err, paymentdomain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}
