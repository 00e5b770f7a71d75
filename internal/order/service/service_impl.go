package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	catalogdomain "github.com/barva88/trauck/internal/catalog/domain"
	"github.com/barva88/trauck/internal/clock"
	appconfig "github.com/barva88/trauck/internal/config"
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
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	walletSvc walletdomain.Service

	guaranteeDays int
}

func NewService(p Params) orderdomain.Service {
	days := p.Cfg.GuaranteeDays
	if days <= 0 {
		days = 30
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("order.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		walletSvc:     p.WalletSvc,
		guaranteeDays: days,
	}
}

// CreatePending snapshots credits and price from the referenced plan or
// pack. The snapshot is authoritative from here on; only the zero-credit
// correction on activation ever re-reads the catalog.
func (s *Service) CreatePending(ctx context.Context, userID int64, ref orderdomain.CatalogRef, checkoutSessionID string) (*orderdomain.Order, error) {
	if userID == 0 {
		return nil, walletdomain.ErrInvalidUser
	}
	if ref.PlanID == nil && ref.PackID == nil {
		return nil, orderdomain.ErrInvalidCatalogRef
	}

	now := s.clock.Now()
	order := orderdomain.Order{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Status:    orderdomain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if checkoutSessionID != "" {
		order.CheckoutSessionID = &checkoutSessionID
	}

	switch {
	case ref.PlanID != nil:
		var plan catalogdomain.Plan
		if err := s.db.WithContext(ctx).First(&plan, "id = ?", *ref.PlanID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, catalogdomain.ErrPlanNotFound
			}
			return nil, err
		}
		order.PlanID = &plan.ID
		order.CreditsGranted = plan.CreditsOnPurchase
		order.AmountUSD = plan.PriceUSD
		order.ProviderProductID = plan.ProviderProductID
		order.ProviderPriceID = plan.ProviderPriceID
	case ref.PackID != nil:
		var pack catalogdomain.CreditPack
		if err := s.db.WithContext(ctx).First(&pack, "id = ?", *ref.PackID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, catalogdomain.ErrPackNotFound
			}
			return nil, err
		}
		order.CreditPackID = &pack.ID
		order.CreditsGranted = pack.Credits
		order.AmountUSD = pack.PriceUSD
		order.ProviderProductID = pack.ProviderProductID
		order.ProviderPriceID = pack.ProviderPriceID
	}

	if err := s.db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// Activate flips a pending order to PAID and grants its credits, all in
// one transaction. The conditional status update is the serialization
// point: of two concurrent activations only one flips the row, so only
// one grants. A second call once PAID is a no-op.
func (s *Service) Activate(ctx context.Context, orderID snowflake.ID, refs orderdomain.ActivationRefs) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order orderdomain.Order
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return orderdomain.ErrOrderNotFound
			}
			return err
		}
		if order.Status == orderdomain.StatusPaid {
			return nil
		}
		if order.Status.Terminal() {
			s.log.Warn("activation for terminal order ignored",
				zap.Int64("order_id", int64(order.ID)),
				zap.String("status", string(order.Status)),
			)
			return nil
		}

		now := s.clock.Now()
		res := tx.Exec(
			`UPDATE orders
			 SET status = ?,
			     payment_intent_id = COALESCE(?, payment_intent_id),
			     subscription_id = COALESCE(?, subscription_id),
			     updated_at = ?
			 WHERE id = ? AND status = ?`,
			orderdomain.StatusPaid,
			nullable(refs.PaymentIntentID),
			nullable(refs.SubscriptionID),
			now,
			order.ID,
			orderdomain.StatusPending,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		toGrant, err := s.correctedCredits(ctx, tx, &order, now)
		if err != nil {
			return err
		}

		if toGrant > 0 {
			if _, err := s.walletSvc.Credit(ctx, tx, order.UserID, toGrant, walletdomain.TypePurchase, "Checkout completed", map[string]any{
				"order_id": order.ID.String(),
			}); err != nil {
				return err
			}
		} else {
			s.log.Warn("order activated with zero credits",
				zap.Int64("order_id", int64(order.ID)),
				zap.Int64("user_id", order.UserID),
			)
		}

		return s.openGuarantee(ctx, tx, order.ID, now)
	})
}

// correctedCredits returns the snapshot, unless the snapshot is zero and
// the live catalog entry now carries credits: misconfigured plans fixed
// after purchase still grant what the buyer paid for.
func (s *Service) correctedCredits(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, now time.Time) (int64, error) {
	if order.CreditsGranted > 0 {
		return order.CreditsGranted, nil
	}

	var expected int64
	switch {
	case order.PlanID != nil:
		var plan catalogdomain.Plan
		if err := tx.WithContext(ctx).First(&plan, "id = ?", *order.PlanID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, err
			}
		} else {
			expected = plan.CreditsOnPurchase
		}
	case order.CreditPackID != nil:
		var pack catalogdomain.CreditPack
		if err := tx.WithContext(ctx).First(&pack, "id = ?", *order.CreditPackID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, err
			}
		} else {
			expected = pack.Credits
		}
	default:
		s.log.Warn("order has no catalog linkage, granting zero credits",
			zap.Int64("order_id", int64(order.ID)),
		)
		return 0, nil
	}

	if expected <= 0 {
		return 0, nil
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE orders SET credits_granted = ?, updated_at = ? WHERE id = ?`,
		expected, now, order.ID,
	).Error; err != nil {
		return 0, err
	}
	order.CreditsGranted = expected
	return expected, nil
}

// MarkPastDue records a failed subscription payment. The wallet is not
// touched; already-granted credits stay spendable.
func (s *Service) MarkPastDue(ctx context.Context, orderID snowflake.ID) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		orderdomain.StatusPastDue,
		s.clock.Now(),
		orderID,
		orderdomain.StatusPaid,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return orderdomain.ErrInvalidTransition
	}
	return nil
}

// Renew applies one subscription invoice: dedup on the invoice id, grant
// the plan's current renewal credits, refresh the guarantee window, and
// bring a past-due order back to PAID.
func (s *Service) Renew(ctx context.Context, orderID snowflake.ID, invoiceID string) error {
	if invoiceID == "" {
		return orderdomain.ErrInvalidTransition
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order orderdomain.Order
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return orderdomain.ErrOrderNotFound
			}
			return err
		}
		if order.Status.Terminal() {
			s.log.Warn("renewal for terminal order ignored",
				zap.Int64("order_id", int64(order.ID)),
				zap.String("status", string(order.Status)),
			)
			return nil
		}

		now := s.clock.Now()
		res := tx.Exec(
			`INSERT INTO order_renewals (id, order_id, invoice_id, created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (order_id, invoice_id) DO NOTHING`,
			s.genID.Generate(),
			order.ID,
			invoiceID,
			now,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Invoice already applied; redelivered event.
			return nil
		}

		var credits int64
		if order.PlanID != nil {
			var plan catalogdomain.Plan
			if err := tx.WithContext(ctx).First(&plan, "id = ?", *order.PlanID).Error; err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
			} else {
				credits = plan.CreditsOnPurchase
			}
		}

		if credits > 0 {
			if _, err := s.walletSvc.Credit(ctx, tx, order.UserID, credits, walletdomain.TypeRenewal, "Subscription renewal", map[string]any{
				"order_id":   order.ID.String(),
				"invoice_id": invoiceID,
			}); err != nil {
				return err
			}
		} else {
			s.log.Warn("renewal granted zero credits",
				zap.Int64("order_id", int64(order.ID)),
				zap.String("invoice_id", invoiceID),
			)
		}

		if err := tx.Exec(
			`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
			orderdomain.StatusPaid, now, order.ID,
			orderdomain.StatusPaid, orderdomain.StatusPastDue,
		).Error; err != nil {
			return err
		}

		return s.openGuarantee(ctx, tx, order.ID, now)
	})
}

func (s *Service) Cancel(ctx context.Context, orderID snowflake.ID) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status NOT IN (?, ?)`,
		orderdomain.StatusCanceled,
		s.clock.Now(),
		orderID,
		orderdomain.StatusRefunded,
		orderdomain.StatusCanceled,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return orderdomain.ErrInvalidTransition
	}
	return nil
}

func (s *Service) Get(ctx context.Context, orderID snowflake.ID) (*orderdomain.Order, error) {
	var order orderdomain.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderdomain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Service) FindByCheckoutSession(ctx context.Context, sessionID string) (*orderdomain.Order, error) {
	return s.findByRef(ctx, "checkout_session_id = ?", sessionID)
}

func (s *Service) FindBySubscription(ctx context.Context, subscriptionID string) (*orderdomain.Order, error) {
	return s.findByRef(ctx, "subscription_id = ?", subscriptionID)
}

func (s *Service) findByRef(ctx context.Context, query string, value string) (*orderdomain.Order, error) {
	if value == "" {
		return nil, orderdomain.ErrOrderNotFound
	}
	var order orderdomain.Order
	if err := s.db.WithContext(ctx).First(&order, query, value).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderdomain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Service) Window(ctx context.Context, orderID snowflake.ID) (*orderdomain.GuaranteeWindow, error) {
	var window orderdomain.GuaranteeWindow
	if err := s.db.WithContext(ctx).First(&window, "order_id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderdomain.ErrOrderNotFound
		}
		return nil, err
	}
	return &window, nil
}

// openGuarantee refreshes the window and mirrors its bounds onto the
// order row for cheap eligibility reads.
func (s *Service) openGuarantee(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, now time.Time) error {
	start := now
	end := now.Add(time.Duration(s.guaranteeDays) * 24 * time.Hour)

	if err := tx.WithContext(ctx).Exec(
		`UPDATE orders SET guarantee_starts_at = ?, guarantee_ends_at = ?, updated_at = ? WHERE id = ?`,
		start, end, now, orderID,
	).Error; err != nil {
		return err
	}

	return tx.WithContext(ctx).Exec(
		`INSERT INTO guarantee_windows (id, order_id, starts_at, ends_at, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (order_id) DO UPDATE SET starts_at = ?, ends_at = ?, status = ?, updated_at = ?`,
		s.genID.Generate(), orderID, start, end, orderdomain.WindowActive, now, now,
		start, end, orderdomain.WindowActive, now,
	).Error
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
