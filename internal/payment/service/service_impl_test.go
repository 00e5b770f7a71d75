package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/barva88/trauck/internal/clock"
	appconfig "github.com/barva88/trauck/internal/config"
	orderdomain "github.com/barva88/trauck/internal/order/domain"
	orderservice "github.com/barva88/trauck/internal/order/service"
	"github.com/barva88/trauck/internal/payment/adapters"
	stripeadapter "github.com/barva88/trauck/internal/payment/adapters/stripe"
	paymentdomain "github.com/barva88/trauck/internal/payment/domain"
	paymentrepository "github.com/barva88/trauck/internal/payment/repository"
	walletdomain "github.com/barva88/trauck/internal/wallet/domain"
	walletservice "github.com/barva88/trauck/internal/wallet/service"
)

const webhookSecret = "whsec_test"

// A single node per test binary keeps generated IDs unique across
// tests sharing the in-memory database.
var testNode = mustNode(6)

func mustNode(n int64) *snowflake.Node {
	node, err := snowflake.NewNode(n)
	if err != nil {
		panic(err)
	}
	return node
}

func TestWebhookActivatesOrder(t *testing.T) {
	env := setupPaymentEnv(t)
	ctx := context.Background()

	order := env.pendingOrder(t, 501, "cs_activate", 10)

	body := checkoutPayload("evt_activate_1", "cs_activate", "pi_activate", "")
	if err := env.svc.IngestWebhook(ctx, "stripe", body, signedHeaders(body)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	stored, err := env.orderSvc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != orderdomain.StatusPaid {
		t.Fatalf("expected PAID, got %s", stored.Status)
	}
	balance, err := env.walletSvc.Balance(ctx, 501)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected 10 credits, got %d", balance)
	}

	record := env.findEvent(t, "evt_activate_1")
	if record.ProcessedAt == nil {
		t.Fatalf("expected event marked processed")
	}
}

func TestWebhookReplayIsRejectedWithoutSideEffects(t *testing.T) {
	env := setupPaymentEnv(t)
	ctx := context.Background()

	env.pendingOrder(t, 502, "cs_replay", 10)

	body := checkoutPayload("evt_replay_1", "cs_replay", "pi_replay", "")
	if err := env.svc.IngestWebhook(ctx, "stripe", body, signedHeaders(body)); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	err := env.svc.IngestWebhook(ctx, "stripe", body, signedHeaders(body))
	if !errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
		t.Fatalf("expected already processed, got %v", err)
	}

	balance, err := env.walletSvc.Balance(ctx, 502)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected a single grant of 10, got %d", balance)
	}
}

func TestWebhookInvalidSignatureStoresNothing(t *testing.T) {
	env := setupPaymentEnv(t)
	ctx := context.Background()

	body := checkoutPayload("evt_badsig_1", "cs_badsig", "pi_badsig", "")
	headers := http.Header{}
	headers.Set("Stripe-Signature", "t="+strconv.FormatInt(time.Now().Unix(), 10)+",v1=deadbeef")

	err := env.svc.IngestWebhook(ctx, "stripe", body, headers)
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	var count int64
	if err := env.db.Raw(
		`SELECT COUNT(*) FROM payment_events WHERE provider_event_id = ?`, "evt_badsig_1",
	).Scan(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no stored event, got %d", count)
	}
}

func TestWebhookUnknownSessionIsProcessedNoop(t *testing.T) {
	env := setupPaymentEnv(t)
	ctx := context.Background()

	body := checkoutPayload("evt_unknown_1", "cs_never_created", "pi_x", "")
	if err := env.svc.IngestWebhook(ctx, "stripe", body, signedHeaders(body)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	record := env.findEvent(t, "evt_unknown_1")
	if record.ProcessedAt == nil {
		t.Fatalf("expected unknown session event marked processed")
	}
}

func TestWebhookIgnoredEventTypeIsDropped(t *testing.T) {
	env := setupPaymentEnv(t)
	ctx := context.Background()

	body := []byte(`{"id":"evt_ignored_1","type":"customer.updated","created":1714564800,"data":{"object":{}}}`)
	if err := env.svc.IngestWebhook(ctx, "stripe", body, signedHeaders(body)); err != nil {
		t.Fatalf("expected ignored event to succeed, got %v", err)
	}

	var count int64
	if err := env.db.Raw(
		`SELECT COUNT(*) FROM payment_events WHERE provider_event_id = ?`, "evt_ignored_1",
	).Scan(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected ignored event not stored, got %d", count)
	}
}

func TestWebhookUnknownProvider(t *testing.T) {
	env := setupPaymentEnv(t)

	err := env.svc.IngestWebhook(context.Background(), "paypal", []byte(`{}`), http.Header{})
	if !errors.Is(err, paymentdomain.ErrProviderNotFound) {
		t.Fatalf("expected provider not found, got %v", err)
	}
}

func TestInvoicePaidRenewsSubscription(t *testing.T) {
	env := setupPaymentEnv(t)
	ctx := context.Background()

	order := env.pendingOrder(t, 503, "cs_renew", 40)

	activate := checkoutPayload("evt_renew_1", "cs_renew", "pi_renew", "sub_renew")
	if err := env.svc.IngestWebhook(ctx, "stripe", activate, signedHeaders(activate)); err != nil {
		t.Fatalf("activate: %v", err)
	}

	invoice := invoicePayload("evt_renew_2", "in_cycle_1", "sub_renew", "subscription_cycle")
	if err := env.svc.IngestWebhook(ctx, "stripe", invoice, signedHeaders(invoice)); err != nil {
		t.Fatalf("renew: %v", err)
	}

	balance, err := env.walletSvc.Balance(ctx, 503)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 80 {
		t.Fatalf("expected 40 + 40 renewal credits, got %d", balance)
	}

	stored, err := env.orderSvc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != orderdomain.StatusPaid {
		t.Fatalf("expected PAID after renewal, got %s", stored.Status)
	}
}

func TestInitialInvoiceDoesNotDoubleGrant(t *testing.T) {
	env := setupPaymentEnv(t)
	ctx := context.Background()

	env.pendingOrder(t, 504, "cs_initial", 40)

	activate := checkoutPayload("evt_initial_1", "cs_initial", "pi_initial", "sub_initial")
	if err := env.svc.IngestWebhook(ctx, "stripe", activate, signedHeaders(activate)); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// The provider also delivers the subscription's first invoice; it
	// must converge on the same activation, not grant again.
	invoice := invoicePayload("evt_initial_2", "in_create_1", "sub_initial", "subscription_create")
	if err := env.svc.IngestWebhook(ctx, "stripe", invoice, signedHeaders(invoice)); err != nil {
		t.Fatalf("initial invoice: %v", err)
	}

	balance, err := env.walletSvc.Balance(ctx, 504)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 40 {
		t.Fatalf("expected a single grant of 40, got %d", balance)
	}
}

func TestPaymentFailedMarksPastDue(t *testing.T) {
	env := setupPaymentEnv(t)
	ctx := context.Background()

	order := env.pendingOrder(t, 505, "cs_pastdue", 40)

	activate := checkoutPayload("evt_pastdue_1", "cs_pastdue", "pi_pastdue", "sub_pastdue")
	if err := env.svc.IngestWebhook(ctx, "stripe", activate, signedHeaders(activate)); err != nil {
		t.Fatalf("activate: %v", err)
	}

	failed := paymentFailedPayload("evt_pastdue_2", "in_failed_1", "sub_pastdue")
	if err := env.svc.IngestWebhook(ctx, "stripe", failed, signedHeaders(failed)); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	stored, err := env.orderSvc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != orderdomain.StatusPastDue {
		t.Fatalf("expected PAST_DUE, got %s", stored.Status)
	}
}

type paymentEnv struct {
	svc       paymentdomain.Service
	db        *gorm.DB
	orderSvc  orderdomain.Service
	walletSvc walletdomain.Service
}

func (e *paymentEnv) pendingOrder(t *testing.T, userID int64, sessionID string, credits int64) *orderdomain.Order {
	t.Helper()
	planID := insertPaymentTestPlan(t, e.db, sessionID, credits)
	order, err := e.orderSvc.CreatePending(context.Background(), userID, orderdomain.CatalogRef{PlanID: &planID}, sessionID)
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	return order
}

func (e *paymentEnv) findEvent(t *testing.T, providerEventID string) *paymentdomain.EventRecord {
	t.Helper()
	var record paymentdomain.EventRecord
	if err := e.db.Where("provider = ? AND provider_event_id = ?", "stripe", providerEventID).
		First(&record).Error; err != nil {
		t.Fatalf("find event %s: %v", providerEventID, err)
	}
	return &record
}

func checkoutPayload(eventID, sessionID, paymentIntentID, subscriptionID string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":"checkout.session.completed","created":%d,"data":{"object":{"id":%q,"payment_intent":%q,"subscription":%q,"payment_status":"paid"}}}`,
		eventID, time.Now().Unix(), sessionID, paymentIntentID, subscriptionID,
	))
}

func invoicePayload(eventID, invoiceID, subscriptionID, billingReason string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":"invoice.paid","created":%d,"data":{"object":{"id":%q,"subscription":%q,"billing_reason":%q}}}`,
		eventID, time.Now().Unix(), invoiceID, subscriptionID, billingReason,
	))
}

func paymentFailedPayload(eventID, invoiceID, subscriptionID string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":"invoice.payment_failed","created":%d,"data":{"object":{"id":%q,"subscription":%q}}}`,
		eventID, time.Now().Unix(), invoiceID, subscriptionID,
	))
}

func signedHeaders(payload []byte) http.Header {
	timestamp := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)

	headers := http.Header{}
	headers.Set("Stripe-Signature",
		"t="+strconv.FormatInt(timestamp, 10)+",v1="+hex.EncodeToString(mac.Sum(nil)))
	return headers
}

func setupPaymentEnv(t *testing.T) *paymentEnv {
	t.Helper()
	db := setupPaymentTestDB(t)
	cfg := appconfig.Config{WebhookSecret: webhookSecret, GuaranteeDays: 30}

	walletSvc := walletservice.NewService(walletservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testNode,
	})
	orderSvc := orderservice.NewService(orderservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     testNode,
		Clock:     clock.SystemClock{},
		Cfg:       cfg,
		WalletSvc: walletSvc,
	})

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    testNode,
		Cfg:      cfg,
		Repo:     paymentrepository.Provide(),
		Adapters: adapters.NewRegistry(stripeadapter.NewFactory()),
		OrderSvc: orderSvc,
	})

	return &paymentEnv{svc: svc, db: db, orderSvc: orderSvc, walletSvc: walletSvc}
}

func setupPaymentTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS payment_events (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT,
			received_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP,
			UNIQUE (provider, provider_event_id)
		)`,
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
			renewal_interval TEXT NOT NULL DEFAULT 'MONTHLY',
			exam_cost_credits BIGINT NOT NULL DEFAULT 1,
			description TEXT NOT NULL DEFAULT '',
			provider_product_id TEXT,
			provider_price_id TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
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

func insertPaymentTestPlan(t *testing.T, db *gorm.DB, slug string, credits int64) snowflake.ID {
	t.Helper()
	id := testNode.Generate()
	if err := db.Exec(
		`INSERT INTO plans (id, name, slug, is_active, price_usd, currency, credits_on_purchase, renewal_interval, exam_cost_credits, description, created_at, updated_at)
		 VALUES (?, ?, ?, TRUE, '29.00', 'usd', ?, 'MONTHLY', 1, '', ?, ?)`,
		id, slug, slug, credits, time.Now().UTC(), time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("insert plan: %v", err)
	}
	return id
}
