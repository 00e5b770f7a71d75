// Package domain contains the refund request model and service
// contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status tracks a refund request through its short lifecycle.
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusApproved  Status = "APPROVED"
	StatusDeclined  Status = "DECLINED"
	StatusCompleted Status = "COMPLETED"
)

// RefundRequest records one money-back claim against an order.
// ProviderRefundID is nil when the provider call was skipped or
// degraded to an internal approval.
type RefundRequest struct {
	ID               snowflake.ID    `gorm:"primaryKey"`
	OrderID          snowflake.ID    `gorm:"not null;index"`
	UserID           int64           `gorm:"not null;index"`
	ReasonText       string          `gorm:"type:text;not null;default:''"`
	RefundAmountUSD  decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	ProviderRefundID *string         `gorm:"type:text"`
	Status           Status          `gorm:"type:text;not null;default:'REQUESTED'"`
	CreatedAt        time.Time       `gorm:"not null"`
	UpdatedAt        time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (RefundRequest) TableName() string { return "refund_requests" }

type Service interface {
	// Request runs the whole refund pipeline for one order and returns
	// the persisted request.
	Request(ctx context.Context, requesterID int64, orderID snowflake.ID, reason string) (*RefundRequest, error)
	// ForOrder returns the refund requests recorded against an order.
	ForOrder(ctx context.Context, orderID snowflake.ID) ([]RefundRequest, error)
}

var (
	ErrUnauthorizedRequester = errors.New("unauthorized_requester")
	ErrGuaranteeExpired      = errors.New("guarantee_expired")
	ErrRefundNotEligible     = errors.New("refund_not_eligible")
	ErrAlreadyRefunded       = errors.New("already_refunded")
)
