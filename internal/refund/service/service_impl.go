package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/barva88/trauck/internal/audit/domain"
	"github.com/barva88/trauck/internal/clock"
	appconfig "github.com/barva88/trauck/internal/config"
	"github.com/barva88/trauck/internal/events"
	"github.com/barva88/trauck/internal/gateway"
	meteringdomain "github.com/barva88/trauck/internal/metering/domain"
	"github.com/barva88/trauck/internal/observability/metrics"
	orderdomain "github.com/barva88/trauck/internal/order/domain"
	refunddomain "github.com/barva88/trauck/internal/refund/domain"
)

const providerTimeout = 10 * time.Second

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         appconfig.Config
	OrderSvc    orderdomain.Service
	MeteringSvc meteringdomain.Service
	Gateway     gateway.Gateway         `optional:"true"`
	AuditSvc    auditdomain.Service     `optional:"true"`
	Outbox      *events.Outbox          `optional:"true"`
	Metrics     *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         appconfig.Config
	orderSvc    orderdomain.Service
	meteringSvc meteringdomain.Service
	gateway     gateway.Gateway
	auditSvc    auditdomain.Service
	outbox      *events.Outbox
	metrics     *metrics.BillingMetrics
}

func NewService(p Params) refunddomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("refund.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Cfg,
		orderSvc:    p.OrderSvc,
		meteringSvc: p.MeteringSvc,
		gateway:     p.Gateway,
		auditSvc:    p.AuditSvc,
		outbox:      p.Outbox,
		metrics:     p.Metrics,
	}
}

// Request runs authorization, guarantee and usage checks, attempts the
// provider refund, then settles the order in one transaction. Granted
// credits are NOT clawed back from the wallet: the money goes back, the
// credits stay, and the wallet ledger remains append-only.
func (s *Service) Request(ctx context.Context, requesterID int64, orderID snowflake.ID, reason string) (*refunddomain.RefundRequest, error) {
	order, err := s.orderSvc.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != requesterID {
		return nil, refunddomain.ErrUnauthorizedRequester
	}
	if order.Status == orderdomain.StatusRefunded {
		return nil, refunddomain.ErrAlreadyRefunded
	}
	if order.Status != orderdomain.StatusPaid && order.Status != orderdomain.StatusPastDue {
		return nil, refunddomain.ErrRefundNotEligible
	}

	now := s.clock.Now()
	window, err := s.orderSvc.Window(ctx, orderID)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			return nil, refunddomain.ErrGuaranteeExpired
		}
		return nil, err
	}
	if window.Status != orderdomain.WindowActive || !window.EndsAt.After(now) {
		return nil, refunddomain.ErrGuaranteeExpired
	}

	used, err := s.meteringSvc.ConsumedForOrder(ctx, order)
	if err != nil {
		return nil, err
	}

	amount, err := s.refundAmount(order, used)
	if err != nil {
		return nil, err
	}

	status := refunddomain.StatusApproved
	var providerRefundID *string
	if s.gateway != nil && amount.IsPositive() && order.PaymentIntentID != nil && *order.PaymentIntentID != "" {
		refund, perr := s.providerRefund(ctx, *order.PaymentIntentID, amount)
		if perr == nil {
			status = refunddomain.StatusCompleted
			if refund.ID != "" {
				id := refund.ID
				providerRefundID = &id
			}
		} else {
			// Any provider failure: keep the customer's claim as an
			// internal approval and let support settle it manually.
			s.log.Warn("provider refund degraded to internal approval",
				zap.Int64("order_id", int64(order.ID)),
				zap.Error(perr),
			)
		}
	}

	request := refunddomain.RefundRequest{
		ID:               s.genID.Generate(),
		OrderID:          order.ID,
		UserID:           order.UserID,
		ReasonText:       reason,
		RefundAmountUSD:  amount,
		ProviderRefundID: providerRefundID,
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
			orderdomain.StatusRefunded, now, order.ID,
			orderdomain.StatusPaid, orderdomain.StatusPastDue,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return refunddomain.ErrAlreadyRefunded
		}

		if err := tx.Exec(
			`UPDATE guarantee_windows SET status = ?, updated_at = ? WHERE order_id = ?`,
			orderdomain.WindowRefunded, now, order.ID,
		).Error; err != nil {
			return err
		}

		if err := tx.Create(&request).Error; err != nil {
			return err
		}

		if s.outbox != nil {
			payload := events.RefundPayload{
				OrderID:   order.ID.String(),
				UserID:    order.UserID,
				AmountUSD: amount.StringFixed(2),
				Status:    string(status),
			}
			if providerRefundID != nil {
				payload.ProviderRefundID = *providerRefundID
			}
			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				Type:      events.EventRefundSettled,
				Payload:   payload.ToMap(),
				DedupeKey: "refund:" + order.ID.String(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncRefund(string(status))
	if s.auditSvc != nil {
		targetID := order.ID.String()
		_ = s.auditSvc.AuditLog(ctx, &order.UserID, "refund.settled", "order", &targetID, map[string]any{
			"amount_usd":    amount.StringFixed(2),
			"credits_used":  used,
			"refund_status": string(status),
		})
	}

	s.log.Info("refund settled",
		zap.Int64("order_id", int64(order.ID)),
		zap.Int64("user_id", order.UserID),
		zap.String("amount_usd", amount.StringFixed(2)),
		zap.String("status", string(status)),
	)
	return &request, nil
}

// refundAmount applies the policy ladder: full refund on zero usage,
// pro-rata when enabled (a fully-consumed order settles at 0.00),
// full refund under the free-usage threshold, otherwise not eligible.
func (s *Service) refundAmount(order *orderdomain.Order, used int64) (decimal.Decimal, error) {
	granted := order.CreditsGranted

	if used <= 0 {
		return order.AmountUSD.Round(2), nil
	}

	if s.cfg.RefundProRata && granted > 0 {
		remaining := granted - used
		if remaining < 0 {
			remaining = 0
		}
		return order.AmountUSD.
			Mul(decimal.NewFromInt(remaining)).
			Div(decimal.NewFromInt(granted)).
			Round(2), nil
	}

	if s.cfg.RefundFreeUsageThreshold > 0 && used <= s.cfg.RefundFreeUsageThreshold {
		return order.AmountUSD.Round(2), nil
	}

	return decimal.Zero, refunddomain.ErrRefundNotEligible
}

func (s *Service) providerRefund(ctx context.Context, paymentIntentID string, amount decimal.Decimal) (*gateway.Refund, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	cents := amount.Shift(2).Round(0).IntPart()
	return s.gateway.CreateRefund(ctx, paymentIntentID, cents)
}

func (s *Service) ForOrder(ctx context.Context, orderID snowflake.ID) ([]refunddomain.RefundRequest, error) {
	var requests []refunddomain.RefundRequest
	if err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}
