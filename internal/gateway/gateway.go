// Package gateway defines the payment provider client used for
// checkout, billing portal and refund calls. Implementations are
// constructed explicitly and injected; nothing in this module reaches
// for provider globals.
package gateway

import (
	"context"
	"errors"
)

// CheckoutMode selects one-off payment vs recurring subscription.
type CheckoutMode string

const (
	ModePayment      CheckoutMode = "payment"
	ModeSubscription CheckoutMode = "subscription"
)

// CheckoutParams describes a hosted checkout session to create.
type CheckoutParams struct {
	CustomerID        string
	CustomerEmail     string
	PriceID           string
	Quantity          int64
	Mode              CheckoutMode
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
}

// CheckoutSession is the provider's hosted payment page.
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalSession is the provider's self-service billing page.
type PortalSession struct {
	URL string
}

// Refund is the provider-side refund record.
type Refund struct {
	ID     string
	Status string
}

// Customer is the provider-side customer record.
type Customer struct {
	ID string
}

type Gateway interface {
	CreateCustomer(ctx context.Context, email string, metadata map[string]string) (*Customer, error)
	CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	CreatePortal(ctx context.Context, customerID string, returnURL string) (*PortalSession, error)
	// CreateRefund refunds amountCents against a payment intent.
	// amountCents 0 means a full refund.
	CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64) (*Refund, error)
}

var (
	ErrProviderUnavailable = errors.New("provider_unavailable")
	ErrProviderRejected    = errors.New("provider_rejected")
)
