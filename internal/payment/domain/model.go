package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Provider event types after normalization.
const (
	EventTypeCheckoutCompleted = "checkout_completed"
	EventTypeInvoicePaid       = "invoice_paid"
	EventTypePaymentFailed     = "payment_failed"
)

// ProviderEvent is a webhook payload normalized by an adapter. Only the
// identifiers the reconciler needs survive parsing; the raw payload is
// kept on the EventRecord.
type ProviderEvent struct {
	Provider          string
	ProviderEventID   string
	Type              string
	CheckoutSessionID string
	SubscriptionID    string
	PaymentIntentID   string
	InvoiceID         string
	BillingReason     string
	OccurredAt        time.Time
}

// EventRecord is the durable receipt of one webhook delivery. The
// unique (provider, provider_event_id) pair is the idempotency anchor:
// redeliveries find the existing row instead of inserting.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `gorm:"type:text;not null"`
	Payload         datatypes.JSON `gorm:"type:text"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:""`
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "payment_events" }
