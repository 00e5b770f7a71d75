// Package domain contains the purchasable catalog: plans and credit packs.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// RenewalInterval distinguishes subscriptions from one-off purchases.
type RenewalInterval string

const (
	IntervalMonthly RenewalInterval = "MONTHLY"
	IntervalOneOff  RenewalInterval = "ONE_OFF"
)

// Plan is a subscription or one-off offer that grants credits on purchase.
type Plan struct {
	ID                snowflake.ID    `gorm:"primaryKey"`
	Name              string          `gorm:"type:text;not null"`
	Slug              string          `gorm:"type:text;not null;uniqueIndex:ux_plans_slug"`
	IsActive          bool            `gorm:"not null;default:true"`
	PriceUSD          decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	Currency          string          `gorm:"type:text;not null;default:'usd'"`
	CreditsOnPurchase int64           `gorm:"not null;default:0"`
	RenewalInterval   RenewalInterval `gorm:"type:text;not null;default:'ONE_OFF'"`
	ExamCostCredits   int64           `gorm:"not null;default:1"`
	Description       string          `gorm:"type:text;not null;default:''"`
	ProviderProductID *string         `gorm:"type:text"`
	ProviderPriceID   *string         `gorm:"type:text"`
	CreatedAt         time.Time       `gorm:"not null"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// PlanBenefit is a display line attached to a plan.
type PlanBenefit struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	PlanID    snowflake.ID `gorm:"not null;index"`
	Label     string       `gorm:"type:text;not null"`
	SortOrder int64        `gorm:"not null;default:0"`
}

// TableName sets the database table name.
func (PlanBenefit) TableName() string { return "plan_benefits" }

// CreditPack is a one-off credit top-up offer.
type CreditPack struct {
	ID                snowflake.ID    `gorm:"primaryKey"`
	Name              string          `gorm:"type:text;not null"`
	Credits           int64           `gorm:"not null"`
	PriceUSD          decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	IsActive          bool            `gorm:"not null;default:true"`
	ProviderProductID *string         `gorm:"type:text"`
	ProviderPriceID   *string         `gorm:"type:text"`
}

// TableName sets the database table name.
func (CreditPack) TableName() string { return "credit_packs" }

// Service reads catalog entries. Lookups on the order activation path go
// through a short TTL cache; listing bypasses it.
type Service interface {
	GetPlan(ctx context.Context, id snowflake.ID) (*Plan, error)
	GetPack(ctx context.Context, id snowflake.ID) (*CreditPack, error)
	ActivePlans(ctx context.Context) ([]Plan, error)
	PlanBenefits(ctx context.Context, planID snowflake.ID) ([]PlanBenefit, error)
}

var (
	ErrPlanNotFound = errors.New("plan_not_found")
	ErrPackNotFound = errors.New("pack_not_found")
)
