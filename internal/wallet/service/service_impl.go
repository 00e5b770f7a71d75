package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/barva88/trauck/internal/observability/metrics"
	walletdomain "github.com/barva88/trauck/internal/wallet/domain"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Metrics *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	metrics *metrics.BillingMetrics
}

func NewService(p Params) walletdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("wallet.service"),
		genID:   p.GenID,
		metrics: p.Metrics,
	}
}

// GetOrCreate returns the user's wallet, creating it on first access.
// The insert-or-skip keeps concurrent callers from creating duplicates;
// the unique index on user_id is the backstop.
func (s *Service) GetOrCreate(ctx context.Context, userID int64) (*walletdomain.CreditWallet, error) {
	return s.getOrCreate(ctx, s.db, userID)
}

func (s *Service) getOrCreate(ctx context.Context, db *gorm.DB, userID int64) (*walletdomain.CreditWallet, error) {
	if userID == 0 {
		return nil, walletdomain.ErrInvalidUser
	}

	now := time.Now().UTC()
	if err := db.WithContext(ctx).Exec(
		`INSERT INTO credit_wallets (id, user_id, balance, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		s.genID.Generate(),
		userID,
		now,
		now,
	).Error; err != nil {
		return nil, err
	}

	var wallet walletdomain.CreditWallet
	if err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *Service) Credit(ctx context.Context, tx *gorm.DB, userID int64, amount int64, txType walletdomain.TransactionType, reason string, metadata map[string]any) (int64, error) {
	if amount <= 0 {
		return 0, walletdomain.ErrInvalidAmount
	}
	db := s.conn(tx)

	wallet, err := s.getOrCreate(ctx, db, userID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	if err := db.WithContext(ctx).Exec(
		`UPDATE credit_wallets
		 SET balance = balance + ?, updated_at = ?
		 WHERE id = ?`,
		amount,
		now,
		wallet.ID,
	).Error; err != nil {
		return 0, err
	}

	if err := s.appendTransaction(ctx, db, wallet.ID, txType, amount, reason, metadata, now); err != nil {
		return 0, err
	}

	balance, err := s.walletBalance(ctx, db, wallet.ID)
	if err != nil {
		return 0, err
	}

	s.metrics.AddCreditsGranted(string(txType), amount)
	s.log.Info("wallet credited",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.String("type", string(txType)),
		zap.Int64("balance", balance),
	)
	return balance, nil
}

// Debit atomically checks and decrements the balance. The conditional
// update stands in for SELECT ... FOR UPDATE so the same statement works
// on postgres and sqlite: the row update serializes concurrent debits,
// and the balance guard makes overdrafts impossible.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, userID int64, amount int64, reason string, metadata map[string]any) (int64, error) {
	if amount <= 0 {
		return 0, walletdomain.ErrInvalidAmount
	}
	db := s.conn(tx)

	wallet, err := s.getOrCreate(ctx, db, userID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	res := db.WithContext(ctx).Exec(
		`UPDATE credit_wallets
		 SET balance = balance - ?, updated_at = ?
		 WHERE id = ? AND balance >= ?`,
		amount,
		now,
		wallet.ID,
		amount,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, walletdomain.ErrInsufficientCredits
	}

	if err := s.appendTransaction(ctx, db, wallet.ID, walletdomain.TypeDebit, -amount, reason, metadata, now); err != nil {
		return 0, err
	}

	return s.walletBalance(ctx, db, wallet.ID)
}

func (s *Service) Balance(ctx context.Context, userID int64) (int64, error) {
	wallet, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}

func (s *Service) Transactions(ctx context.Context, userID int64, limit int) ([]walletdomain.CreditTransaction, error) {
	wallet, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	var records []walletdomain.CreditTransaction
	if err := s.db.WithContext(ctx).
		Where("wallet_id = ?", wallet.ID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// SetProviderCustomer records the payment provider's customer id after
// the first checkout or portal session. First writer wins; the id never
// changes once set.
func (s *Service) SetProviderCustomer(ctx context.Context, userID int64, customerID string) error {
	wallet, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Exec(
		`UPDATE credit_wallets
		 SET provider_customer_id = ?, updated_at = ?
		 WHERE id = ? AND provider_customer_id IS NULL`,
		customerID,
		time.Now().UTC(),
		wallet.ID,
	).Error
}

func (s *Service) appendTransaction(ctx context.Context, db *gorm.DB, walletID snowflake.ID, txType walletdomain.TransactionType, signedAmount int64, reason string, metadata map[string]any, now time.Time) error {
	record := walletdomain.CreditTransaction{
		ID:           s.genID.Generate(),
		WalletID:     walletID,
		Type:         txType,
		SignedAmount: signedAmount,
		Reason:       reason,
		CreatedAt:    now,
	}
	if metadata != nil {
		record.Metadata = datatypes.JSONMap(metadata)
	}
	return db.WithContext(ctx).Create(&record).Error
}

func (s *Service) walletBalance(ctx context.Context, db *gorm.DB, walletID snowflake.ID) (int64, error) {
	var balance int64
	if err := db.WithContext(ctx).Raw(
		`SELECT balance FROM credit_wallets WHERE id = ?`,
		walletID,
	).Scan(&balance).Error; err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
