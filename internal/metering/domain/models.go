// Package domain contains the consumption metering models and service
// contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	orderdomain "github.com/barva88/trauck/internal/order/domain"
)

// ServiceType is a billable feature of the platform. Rows self-register
// the first time a code is consumed against.
type ServiceType struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	Code               string       `gorm:"type:text;not null;uniqueIndex:ux_service_types_code"`
	Label              string       `gorm:"type:text;not null"`
	DefaultCostCredits int64        `gorm:"not null;default:1"`
}

// TableName sets the database table name.
func (ServiceType) TableName() string { return "service_types" }

// ConsumptionEvent records one debit against a wallet. OrderID is set
// when the caller can attribute the spend to a purchase; most callers
// cannot, which is why refund usage falls back to a time window.
type ConsumptionEvent struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	WalletID      snowflake.ID      `gorm:"not null;index"`
	ServiceTypeID snowflake.ID      `gorm:"not null"`
	CreditsSpent  int64             `gorm:"not null"`
	Source        string            `gorm:"type:text;not null;default:''"`
	OrderID       *snowflake.ID     `gorm:"index"`
	Metadata      datatypes.JSONMap `gorm:"type:text"`
	CreatedAt     time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (ConsumptionEvent) TableName() string { return "consumption_events" }

// DebitRequest parameterizes one consumption. Amount 0 means "use the
// service type's default cost".
type DebitRequest struct {
	UserID      int64
	ServiceCode string
	Amount      int64
	Source      string
	OrderID     *snowflake.ID
	Metadata    map[string]any
}

type Service interface {
	// DebitForService spends credits and records the consumption in one
	// transaction. Returns the remaining balance.
	DebitForService(ctx context.Context, req DebitRequest) (int64, error)
	// CanConsume is an advisory balance check; it takes no locks.
	CanConsume(ctx context.Context, userID int64, amount int64) (bool, error)
	// ConsumedForOrder sums the credits attributable to an order, for
	// refund proration.
	ConsumedForOrder(ctx context.Context, order *orderdomain.Order) (int64, error)
}

var (
	ErrInvalidServiceCode = errors.New("invalid_service_code")
	ErrInvalidAmount      = errors.New("invalid_amount")
)
