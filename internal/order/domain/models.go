// Package domain contains the order lifecycle models and service contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status is the order state machine position.
//
//	PENDING -> PAID -> REFUNDED
//	PAID -> PAST_DUE -> PAID | REFUNDED
//	any non-terminal -> CANCELED
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusPaid     Status = "PAID"
	StatusPastDue  Status = "PAST_DUE"
	StatusRefunded Status = "REFUNDED"
	StatusCanceled Status = "CANCELED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusRefunded || s == StatusCanceled
}

// WindowStatus is the guarantee window state.
type WindowStatus string

const (
	WindowActive   WindowStatus = "ACTIVE"
	WindowVoid     WindowStatus = "VOID"
	WindowRefunded WindowStatus = "REFUNDED"
)

// Order records one checkout attempt. Credits and price are snapshotted
// at creation; the provider identifiers double as idempotency keys.
type Order struct {
	ID                snowflake.ID    `gorm:"primaryKey"`
	UserID            int64           `gorm:"not null;index"`
	PlanID            *snowflake.ID   `gorm:""`
	CreditPackID      *snowflake.ID   `gorm:""`
	ProviderProductID *string         `gorm:"type:text"`
	ProviderPriceID   *string         `gorm:"type:text"`
	CheckoutSessionID *string         `gorm:"type:text;uniqueIndex:ux_orders_checkout_session"`
	SubscriptionID    *string         `gorm:"type:text;uniqueIndex:ux_orders_subscription"`
	PaymentIntentID   *string         `gorm:"type:text"`
	Status            Status          `gorm:"type:text;not null;default:'PENDING'"`
	CreditsGranted    int64           `gorm:"not null;default:0"`
	AmountUSD         decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	GuaranteeStartsAt *time.Time      `gorm:""`
	GuaranteeEndsAt   *time.Time      `gorm:""`
	CreatedAt         time.Time       `gorm:"not null"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// GuaranteeWindow is the money-back eligibility period, one per order,
// refreshed on every activation or renewal.
type GuaranteeWindow struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrderID   snowflake.ID `gorm:"not null;uniqueIndex:ux_guarantee_windows_order"`
	StartsAt  time.Time    `gorm:"not null"`
	EndsAt    time.Time    `gorm:"not null"`
	Status    WindowStatus `gorm:"type:text;not null;default:'ACTIVE'"`
	CreatedAt time.Time    `gorm:"not null"`
	UpdatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (GuaranteeWindow) TableName() string { return "guarantee_windows" }

// OrderRenewal records an applied renewal invoice; the unique key on
// (order_id, invoice_id) deduplicates redelivered invoice events.
type OrderRenewal struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrderID   snowflake.ID `gorm:"not null;uniqueIndex:ux_order_renewals,priority:1"`
	InvoiceID string       `gorm:"type:text;not null;uniqueIndex:ux_order_renewals,priority:2"`
	CreatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (OrderRenewal) TableName() string { return "order_renewals" }

// CatalogRef points an order at the plan or pack it was created from.
type CatalogRef struct {
	PlanID *snowflake.ID
	PackID *snowflake.ID
}

// ActivationRefs are the provider identifiers learned at payment time.
type ActivationRefs struct {
	PaymentIntentID string
	SubscriptionID  string
}

type Service interface {
	CreatePending(ctx context.Context, userID int64, ref CatalogRef, checkoutSessionID string) (*Order, error)
	Activate(ctx context.Context, orderID snowflake.ID, refs ActivationRefs) error
	MarkPastDue(ctx context.Context, orderID snowflake.ID) error
	Renew(ctx context.Context, orderID snowflake.ID, invoiceID string) error
	Cancel(ctx context.Context, orderID snowflake.ID) error
	Get(ctx context.Context, orderID snowflake.ID) (*Order, error)
	FindByCheckoutSession(ctx context.Context, sessionID string) (*Order, error)
	FindBySubscription(ctx context.Context, subscriptionID string) (*Order, error)
	Window(ctx context.Context, orderID snowflake.ID) (*GuaranteeWindow, error)
}

var (
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrInvalidCatalogRef = errors.New("invalid_catalog_ref")
	ErrInvalidTransition = errors.New("invalid_transition")
)
