package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/barva88/trauck/internal/clock"
	appconfig "github.com/barva88/trauck/internal/config"
	meteringdomain "github.com/barva88/trauck/internal/metering/domain"
	"github.com/barva88/trauck/internal/observability/metrics"
	orderdomain "github.com/barva88/trauck/internal/order/domain"
	walletdomain "github.com/barva88/trauck/internal/wallet/domain"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Cfg       appconfig.Config
	WalletSvc walletdomain.Service
	Metrics   *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	cfg       appconfig.Config
	walletSvc walletdomain.Service
	metrics   *metrics.BillingMetrics
}

func NewService(p Params) meteringdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("metering.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		cfg:       p.Cfg,
		walletSvc: p.WalletSvc,
		metrics:   p.Metrics,
	}
}

// DebitForService is the single consumption entry point: the wallet
// debit and the consumption event commit together or not at all.
func (s *Service) DebitForService(ctx context.Context, req meteringdomain.DebitRequest) (int64, error) {
	code := strings.ToLower(strings.TrimSpace(req.ServiceCode))
	if code == "" {
		return 0, meteringdomain.ErrInvalidServiceCode
	}
	if req.Amount < 0 {
		return 0, meteringdomain.ErrInvalidAmount
	}

	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		serviceType, err := s.ensureServiceType(ctx, tx, code)
		if err != nil {
			return err
		}

		amount := req.Amount
		if amount == 0 {
			amount = serviceType.DefaultCostCredits
		}
		if amount <= 0 {
			return meteringdomain.ErrInvalidAmount
		}

		remaining, err := s.walletSvc.Debit(ctx, tx, req.UserID, amount, "Service consumption: "+code, req.Metadata)
		if err != nil {
			return err
		}
		balance = remaining

		var wallet walletdomain.CreditWallet
		if err := tx.WithContext(ctx).
			Where("user_id = ?", req.UserID).
			First(&wallet).Error; err != nil {
			return err
		}

		event := meteringdomain.ConsumptionEvent{
			ID:            s.genID.Generate(),
			WalletID:      wallet.ID,
			ServiceTypeID: serviceType.ID,
			CreditsSpent:  amount,
			Source:        req.Source,
			OrderID:       req.OrderID,
			Metadata:      datatypes.JSONMap(req.Metadata),
			CreatedAt:     s.clock.Now(),
		}
		if err := tx.WithContext(ctx).Create(&event).Error; err != nil {
			return err
		}

		s.metrics.AddCreditsSpent(code, amount)
		s.log.Info("service consumption recorded",
			zap.Int64("user_id", req.UserID),
			zap.String("service_type", code),
			zap.Int64("credits", amount),
			zap.Int64("balance", remaining),
		)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) CanConsume(ctx context.Context, userID int64, amount int64) (bool, error) {
	if amount <= 0 {
		return false, meteringdomain.ErrInvalidAmount
	}
	balance, err := s.walletSvc.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// ConsumedForOrder prefers explicitly linked events. When nothing links
// to the order (most callers don't know which purchase funded a spend),
// it falls back to consumption inside the guarantee window, a
// best-effort attribution that errs toward counting usage.
func (s *Service) ConsumedForOrder(ctx context.Context, order *orderdomain.Order) (int64, error) {
	if order == nil {
		return 0, orderdomain.ErrOrderNotFound
	}

	var linked struct {
		Count int64
		Total int64
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS count, COALESCE(SUM(credits_spent), 0) AS total
		 FROM consumption_events
		 WHERE order_id = ?`,
		order.ID,
	).Scan(&linked).Error; err != nil {
		return 0, err
	}
	if linked.Count > 0 {
		return linked.Total, nil
	}

	if order.GuaranteeStartsAt == nil {
		return 0, nil
	}
	end := s.clock.Now()
	if order.GuaranteeEndsAt != nil && order.GuaranteeEndsAt.Before(end) {
		end = *order.GuaranteeEndsAt
	}

	var wallet walletdomain.CreditWallet
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", order.UserID).
		First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}

	var total int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(credits_spent), 0)
		 FROM consumption_events
		 WHERE wallet_id = ? AND created_at >= ? AND created_at <= ?`,
		wallet.ID,
		*order.GuaranteeStartsAt,
		end,
	).Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// ensureServiceType self-registers unknown codes so new platform
// features never fail consumption. Only "exam" carries the configured
// exam cost; every other code defaults to one credit.
func (s *Service) ensureServiceType(ctx context.Context, tx *gorm.DB, code string) (*meteringdomain.ServiceType, error) {
	defaultCost := int64(1)
	if code == "exam" && s.cfg.DefaultExamCostCredits > 0 {
		defaultCost = s.cfg.DefaultExamCostCredits
	}

	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO service_types (id, code, label, default_cost_credits)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (code) DO NOTHING`,
		s.genID.Generate(),
		code,
		strings.ReplaceAll(code, "_", " "),
		defaultCost,
	).Error; err != nil {
		return nil, err
	}

	var serviceType meteringdomain.ServiceType
	if err := tx.WithContext(ctx).
		Where("code = ?", code).
		First(&serviceType).Error; err != nil {
		return nil, err
	}
	return &serviceType, nil
}
