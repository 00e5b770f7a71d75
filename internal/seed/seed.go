// Package seed bootstraps the billing catalog on first start: default
// plans, the exam service type, and nothing else. Every insert is
// keyed on a natural unique column so reruns are no-ops.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	examServiceCode  = "exam"
	examServiceLabel = "Practice exam"
)

type planSeed struct {
	Name              string
	Slug              string
	PriceUSD          string
	CreditsOnPurchase int64
	RenewalInterval   string
	ExamCostCredits   int64
	Description       string
}

var defaultPlans = []planSeed{
	{
		Name:              "Starter",
		Slug:              "starter",
		PriceUSD:          "10.00",
		CreditsOnPurchase: 10,
		RenewalInterval:   "ONE_OFF",
		ExamCostCredits:   1,
		Description:       "One-time credit top-up for occasional practice.",
	},
	{
		Name:              "Driver Monthly",
		Slug:              "driver-monthly",
		PriceUSD:          "29.00",
		CreditsOnPurchase: 40,
		RenewalInterval:   "MONTHLY",
		ExamCostCredits:   1,
		Description:       "Monthly credits for steady exam preparation.",
	},
	{
		Name:              "Fleet Monthly",
		Slug:              "fleet-monthly",
		PriceUSD:          "99.00",
		CreditsOnPurchase: 160,
		RenewalInterval:   "MONTHLY",
		ExamCostCredits:   1,
		Description:       "High-volume plan for carrier training programs.",
	},
}

// EnsureCatalog seeds the default plans and the exam service type.
func EnsureCatalog(db *gorm.DB, defaultExamCost int64) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}
	if defaultExamCost <= 0 {
		defaultExamCost = 1
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		for _, plan := range defaultPlans {
			price, err := decimal.NewFromString(plan.PriceUSD)
			if err != nil {
				return err
			}
			if err := tx.Exec(
				`INSERT INTO plans (id, name, slug, is_active, price_usd, currency, credits_on_purchase, renewal_interval, exam_cost_credits, description, created_at, updated_at)
				 VALUES (?, ?, ?, TRUE, ?, 'usd', ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (slug) DO NOTHING`,
				node.Generate(),
				plan.Name,
				plan.Slug,
				price,
				plan.CreditsOnPurchase,
				plan.RenewalInterval,
				plan.ExamCostCredits,
				plan.Description,
				now,
				now,
			).Error; err != nil {
				return err
			}
		}

		return tx.Exec(
			`INSERT INTO service_types (id, code, label, default_cost_credits)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (code) DO NOTHING`,
			node.Generate(),
			examServiceCode,
			examServiceLabel,
			defaultExamCost,
		).Error
	})
}
