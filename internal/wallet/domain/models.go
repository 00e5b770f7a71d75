// Package domain contains the credit wallet models and service contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TransactionType classifies a signed ledger entry.
type TransactionType string

const (
	TypePurchase   TransactionType = "PURCHASE"
	TypeDebit      TransactionType = "DEBIT"
	TypeRefund     TransactionType = "REFUND"
	TypeAdjustment TransactionType = "ADJUSTMENT"
	TypeRenewal    TransactionType = "SUBSCRIPTION_RENEWAL"
)

// CreditWallet holds one user's credit balance. The balance column is a
// denormalized sum of the wallet's signed transactions.
type CreditWallet struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	UserID             int64        `gorm:"not null;uniqueIndex:ux_credit_wallets_user"`
	Balance            int64        `gorm:"not null;default:0"`
	ProviderCustomerID *string      `gorm:"type:text"`
	CreatedAt          time.Time    `gorm:"not null"`
	UpdatedAt          time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (CreditWallet) TableName() string { return "credit_wallets" }

// CreditTransaction is an append-only signed ledger entry.
type CreditTransaction struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	WalletID     snowflake.ID      `gorm:"not null;index"`
	Type         TransactionType   `gorm:"type:text;not null"`
	SignedAmount int64             `gorm:"not null"`
	Reason       string            `gorm:"type:text;not null;default:''"`
	Metadata     datatypes.JSONMap `gorm:"type:text"`
	CreatedAt    time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// Service is the only writer of wallet balances. Credit and Debit accept
// an optional enclosing transaction so callers can compose atomic flows
// (order activation, consumption metering).
type Service interface {
	GetOrCreate(ctx context.Context, userID int64) (*CreditWallet, error)
	Credit(ctx context.Context, tx *gorm.DB, userID int64, amount int64, txType TransactionType, reason string, metadata map[string]any) (int64, error)
	Debit(ctx context.Context, tx *gorm.DB, userID int64, amount int64, reason string, metadata map[string]any) (int64, error)
	Balance(ctx context.Context, userID int64) (int64, error)
	Transactions(ctx context.Context, userID int64, limit int) ([]CreditTransaction, error)
	SetProviderCustomer(ctx context.Context, userID int64, customerID string) error
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrWalletNotFound      = errors.New("wallet_not_found")
)
