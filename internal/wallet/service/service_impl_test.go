package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	walletdomain "github.com/barva88/trauck/internal/wallet/domain"
)

func TestCreditThenDebit(t *testing.T) {
	svc := setupWalletService(t)
	ctx := context.Background()

	balance, err := svc.Credit(ctx, nil, 101, 10, walletdomain.TypePurchase, "Checkout completed", nil)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected balance 10, got %d", balance)
	}

	balance, err = svc.Debit(ctx, nil, 101, 4, "Service consumption: exam", nil)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if balance != 6 {
		t.Fatalf("expected balance 6, got %d", balance)
	}
}

func TestDebitInsufficientCredits(t *testing.T) {
	svc := setupWalletService(t)
	ctx := context.Background()

	if _, err := svc.Credit(ctx, nil, 102, 3, walletdomain.TypePurchase, "", nil); err != nil {
		t.Fatalf("credit: %v", err)
	}

	_, err := svc.Debit(ctx, nil, 102, 5, "", nil)
	if !errors.Is(err, walletdomain.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}

	balance, err := svc.Balance(ctx, 102)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 3 {
		t.Fatalf("expected balance unchanged at 3, got %d", balance)
	}
}

func TestDebitStopsAtZero(t *testing.T) {
	svc := setupWalletService(t)
	ctx := context.Background()

	if _, err := svc.Credit(ctx, nil, 103, 5, walletdomain.TypePurchase, "", nil); err != nil {
		t.Fatalf("credit: %v", err)
	}

	succeeded := 0
	for i := 0; i < 8; i++ {
		if _, err := svc.Debit(ctx, nil, 103, 1, "", nil); err == nil {
			succeeded++
		} else if !errors.Is(err, walletdomain.ErrInsufficientCredits) {
			t.Fatalf("unexpected debit error: %v", err)
		}
	}
	if succeeded != 5 {
		t.Fatalf("expected exactly 5 successful debits, got %d", succeeded)
	}

	balance, err := svc.Balance(ctx, 103)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected balance 0, got %d", balance)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc := setupWalletService(t)
	ctx := context.Background()

	// One connection forces the goroutines to interleave between
	// statements instead of failing on sqlite table locks; the balance
	// guard in the UPDATE is what has to keep them honest.
	sqlDB, err := svc.db.DB()
	if err != nil {
		t.Fatalf("raw db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if _, err := svc.Credit(ctx, nil, 107, 5, walletdomain.TypePurchase, "", nil); err != nil {
		t.Fatalf("credit: %v", err)
	}

	const attempts = 20
	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Debit(ctx, nil, 107, 1, "", nil); err == nil {
				succeeded.Add(1)
			} else if !errors.Is(err, walletdomain.ErrInsufficientCredits) {
				t.Errorf("unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 5 {
		t.Fatalf("expected exactly 5 successful concurrent debits, got %d", succeeded.Load())
	}
	balance, err := svc.Balance(ctx, 107)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected balance 0, got %d", balance)
	}
}

func TestInvalidAmountRejected(t *testing.T) {
	svc := setupWalletService(t)
	ctx := context.Background()

	if _, err := svc.Credit(ctx, nil, 104, 0, walletdomain.TypePurchase, "", nil); !errors.Is(err, walletdomain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount on zero credit, got %v", err)
	}
	if _, err := svc.Credit(ctx, nil, 104, -5, walletdomain.TypePurchase, "", nil); !errors.Is(err, walletdomain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount on negative credit, got %v", err)
	}
	if _, err := svc.Debit(ctx, nil, 104, -1, "", nil); !errors.Is(err, walletdomain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount on negative debit, got %v", err)
	}
}

func TestBalanceMatchesLedger(t *testing.T) {
	svc := setupWalletService(t)
	ctx := context.Background()

	if _, err := svc.Credit(ctx, nil, 105, 20, walletdomain.TypePurchase, "", nil); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := svc.Debit(ctx, nil, 105, 7, "", nil); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, err := svc.Credit(ctx, nil, 105, 5, walletdomain.TypeRenewal, "", nil); err != nil {
		t.Fatalf("credit: %v", err)
	}

	records, err := svc.Transactions(ctx, 105, 10)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	var sum int64
	for _, record := range records {
		sum += record.SignedAmount
	}

	balance, err := svc.Balance(ctx, 105)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if sum != balance {
		t.Fatalf("ledger sum %d does not match balance %d", sum, balance)
	}
	if balance != 18 {
		t.Fatalf("expected balance 18, got %d", balance)
	}
}

func TestSetProviderCustomerFirstWriteWins(t *testing.T) {
	svc := setupWalletService(t)
	ctx := context.Background()

	if err := svc.SetProviderCustomer(ctx, 106, "cus_first"); err != nil {
		t.Fatalf("set provider customer: %v", err)
	}
	if err := svc.SetProviderCustomer(ctx, 106, "cus_second"); err != nil {
		t.Fatalf("set provider customer again: %v", err)
	}

	wallet, err := svc.GetOrCreate(ctx, 106)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if wallet.ProviderCustomerID == nil || *wallet.ProviderCustomerID != "cus_first" {
		t.Fatalf("expected cus_first to stick, got %v", wallet.ProviderCustomerID)
	}
}

// A single node per test binary keeps generated IDs unique across
// tests sharing the in-memory database.
var testNode = mustNode(1)

func mustNode(n int64) *snowflake.Node {
	node, err := snowflake.NewNode(n)
	if err != nil {
		panic(err)
	}
	return node
}

func setupWalletService(t *testing.T) *Service {
	t.Helper()
	db := setupWalletTestDB(t)
	return &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: testNode,
	}
}

func setupWalletTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS credit_wallets (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL UNIQUE,
			balance BIGINT NOT NULL DEFAULT 0,
			provider_customer_id TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	).Error; err != nil {
		t.Fatalf("create credit_wallets: %v", err)
	}
	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id BIGINT PRIMARY KEY,
			wallet_id BIGINT NOT NULL,
			type TEXT NOT NULL,
			signed_amount BIGINT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
	).Error; err != nil {
		t.Fatalf("create credit_transactions: %v", err)
	}
	return db
}
