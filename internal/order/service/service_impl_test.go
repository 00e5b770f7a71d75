package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/barva88/trauck/internal/clock"
	orderdomain "github.com/barva88/trauck/internal/order/domain"
	walletdomain "github.com/barva88/trauck/internal/wallet/domain"
	walletservice "github.com/barva88/trauck/internal/wallet/service"
)

func TestActivateGrantsCreditsOnce(t *testing.T) {
	svc, db, walletSvc := setupOrderService(t)
	ctx := context.Background()

	planID := insertTestPlan(t, db, "starter-once", "10.00", 10)
	order, err := svc.CreatePending(ctx, 201, orderdomain.CatalogRef{PlanID: &planID}, "cs_once")
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}

	refs := orderdomain.ActivationRefs{PaymentIntentID: "pi_once"}
	if err := svc.Activate(ctx, order.ID, refs); err != nil {
		t.Fatalf("first activate: %v", err)
	}
	if err := svc.Activate(ctx, order.ID, refs); err != nil {
		t.Fatalf("second activate: %v", err)
	}

	balance, err := walletSvc.Balance(ctx, 201)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected a single grant of 10, got balance %d", balance)
	}

	stored, err := svc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != orderdomain.StatusPaid {
		t.Fatalf("expected PAID, got %s", stored.Status)
	}
	if stored.PaymentIntentID == nil || *stored.PaymentIntentID != "pi_once" {
		t.Fatalf("expected payment intent recorded, got %v", stored.PaymentIntentID)
	}

	window, err := svc.Window(ctx, order.ID)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if window.Status != orderdomain.WindowActive {
		t.Fatalf("expected active window, got %s", window.Status)
	}
}

func TestActivateCorrectsZeroCreditSnapshot(t *testing.T) {
	svc, db, walletSvc := setupOrderService(t)
	ctx := context.Background()

	// Plan misconfigured with zero credits at purchase time.
	planID := insertTestPlan(t, db, "zero-snapshot", "10.00", 0)
	order, err := svc.CreatePending(ctx, 202, orderdomain.CatalogRef{PlanID: &planID}, "cs_zero")
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if order.CreditsGranted != 0 {
		t.Fatalf("expected zero snapshot, got %d", order.CreditsGranted)
	}

	// Catalog fixed before the webhook lands.
	if err := db.Exec(`UPDATE plans SET credits_on_purchase = 10 WHERE id = ?`, planID).Error; err != nil {
		t.Fatalf("fix plan: %v", err)
	}

	if err := svc.Activate(ctx, order.ID, orderdomain.ActivationRefs{}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	balance, err := walletSvc.Balance(ctx, 202)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected corrected grant of 10, got %d", balance)
	}

	stored, err := svc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.CreditsGranted != 10 {
		t.Fatalf("expected snapshot corrected to 10, got %d", stored.CreditsGranted)
	}
}

func TestActivateTerminalOrderIsNoop(t *testing.T) {
	svc, db, walletSvc := setupOrderService(t)
	ctx := context.Background()

	planID := insertTestPlan(t, db, "terminal", "10.00", 10)
	order, err := svc.CreatePending(ctx, 203, orderdomain.CatalogRef{PlanID: &planID}, "cs_terminal")
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if err := svc.Cancel(ctx, order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := svc.Activate(ctx, order.ID, orderdomain.ActivationRefs{}); err != nil {
		t.Fatalf("activate after cancel: %v", err)
	}

	balance, err := walletSvc.Balance(ctx, 203)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected no grant for canceled order, got %d", balance)
	}

	stored, err := svc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != orderdomain.StatusCanceled {
		t.Fatalf("expected CANCELED, got %s", stored.Status)
	}
}

func TestRenewDeduplicatesInvoice(t *testing.T) {
	svc, db, walletSvc := setupOrderService(t)
	ctx := context.Background()

	planID := insertTestPlan(t, db, "renew-dedupe", "29.00", 40)
	order, err := svc.CreatePending(ctx, 204, orderdomain.CatalogRef{PlanID: &planID}, "cs_renew")
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if err := svc.Activate(ctx, order.ID, orderdomain.ActivationRefs{SubscriptionID: "sub_dedupe"}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := svc.Renew(ctx, order.ID, "in_001"); err != nil {
		t.Fatalf("first renew: %v", err)
	}
	if err := svc.Renew(ctx, order.ID, "in_001"); err != nil {
		t.Fatalf("redelivered renew: %v", err)
	}

	balance, err := walletSvc.Balance(ctx, 204)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 80 {
		t.Fatalf("expected 40 purchase + 40 single renewal, got %d", balance)
	}
}

func TestRenewRecoversPastDue(t *testing.T) {
	svc, db, _ := setupOrderService(t)
	ctx := context.Background()

	planID := insertTestPlan(t, db, "past-due", "29.00", 40)
	order, err := svc.CreatePending(ctx, 205, orderdomain.CatalogRef{PlanID: &planID}, "cs_pastdue")
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if err := svc.Activate(ctx, order.ID, orderdomain.ActivationRefs{SubscriptionID: "sub_pastdue"}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := svc.MarkPastDue(ctx, order.ID); err != nil {
		t.Fatalf("mark past due: %v", err)
	}

	if err := svc.Renew(ctx, order.ID, "in_recover"); err != nil {
		t.Fatalf("renew: %v", err)
	}

	stored, err := svc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != orderdomain.StatusPaid {
		t.Fatalf("expected PAID after recovery, got %s", stored.Status)
	}
}

func TestMarkPastDueRequiresPaid(t *testing.T) {
	svc, db, _ := setupOrderService(t)
	ctx := context.Background()

	planID := insertTestPlan(t, db, "pending-fail", "29.00", 40)
	order, err := svc.CreatePending(ctx, 206, orderdomain.CatalogRef{PlanID: &planID}, "cs_pendingfail")
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}

	if err := svc.MarkPastDue(ctx, order.ID); !errors.Is(err, orderdomain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from PENDING, got %v", err)
	}
}

func TestCreatePendingSnapshotsPlan(t *testing.T) {
	svc, db, _ := setupOrderService(t)
	ctx := context.Background()

	planID := insertTestPlan(t, db, "snapshot", "29.00", 40)
	order, err := svc.CreatePending(ctx, 207, orderdomain.CatalogRef{PlanID: &planID}, "cs_snapshot")
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}

	if order.CreditsGranted != 40 {
		t.Fatalf("expected snapshot of 40 credits, got %d", order.CreditsGranted)
	}
	if !order.AmountUSD.Equal(decimal.RequireFromString("29.00")) {
		t.Fatalf("expected amount 29.00, got %s", order.AmountUSD)
	}
	if order.Status != orderdomain.StatusPending {
		t.Fatalf("expected PENDING, got %s", order.Status)
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

func setupOrderService(t *testing.T) (*Service, *gorm.DB, walletdomain.Service) {
	t.Helper()
	db := setupOrderTestDB(t)

	walletSvc := walletservice.NewService(walletservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testNode,
	})

	svc := &Service{
		db:            db,
		log:           zap.NewNop(),
		genID:         testNode,
		clock:         clock.Fixed{At: time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)},
		walletSvc:     walletSvc,
		guaranteeDays: 30,
	}
	return svc, db, walletSvc
}

func setupOrderTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS credit_wallets (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL UNIQUE,
			balance BIGINT NOT NULL DEFAULT 0,
			provider_customer_id TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id BIGINT PRIMARY KEY,
			wallet_id BIGINT NOT NULL,
			type TEXT NOT NULL,
			signed_amount BIGINT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plans (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			price_usd NUMERIC(10,2) NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'usd',
			credits_on_purchase BIGINT NOT NULL DEFAULT 0,
			renewal_interval TEXT NOT NULL DEFAULT 'ONE_OFF',
			exam_cost_credits BIGINT NOT NULL DEFAULT 1,
			description TEXT NOT NULL DEFAULT '',
			provider_product_id TEXT,
			provider_price_id TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credit_packs (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			credits BIGINT NOT NULL,
			price_usd NUMERIC(10,2) NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			provider_product_id TEXT,
			provider_price_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			plan_id BIGINT,
			credit_pack_id BIGINT,
			provider_product_id TEXT,
			provider_price_id TEXT,
			checkout_session_id TEXT UNIQUE,
			subscription_id TEXT UNIQUE,
			payment_intent_id TEXT,
			status TEXT NOT NULL DEFAULT 'PENDING',
			credits_granted BIGINT NOT NULL DEFAULT 0,
			amount_usd NUMERIC(10,2) NOT NULL DEFAULT 0,
			guarantee_starts_at TIMESTAMP,
			guarantee_ends_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS guarantee_windows (
			id BIGINT PRIMARY KEY,
			order_id BIGINT NOT NULL UNIQUE,
			starts_at TIMESTAMP NOT NULL,
			ends_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_renewals (
			id BIGINT PRIMARY KEY,
			order_id BIGINT NOT NULL,
			invoice_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (order_id, invoice_id)
		)`,
	}
	for _, statement := range statements {
		if err := db.Exec(statement).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return db
}

func insertTestPlan(t *testing.T, db *gorm.DB, slug string, price string, credits int64) snowflake.ID {
	t.Helper()
	id := testNode.Generate()
	if err := db.Exec(
		`INSERT INTO plans (id, name, slug, is_active, price_usd, currency, credits_on_purchase, renewal_interval, exam_cost_credits, description, created_at, updated_at)
		 VALUES (?, ?, ?, TRUE, ?, 'usd', ?, 'MONTHLY', 1, '', ?, ?)`,
		id, slug, slug, price, credits, time.Now().UTC(), time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("insert plan: %v", err)
	}
	return id
}
