package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/barva88/trauck/internal/audit/domain"
	appconfig "github.com/barva88/trauck/internal/config"
	"github.com/barva88/trauck/internal/events"
	"github.com/barva88/trauck/internal/notification"
	"github.com/barva88/trauck/internal/observability/metrics"
	orderdomain "github.com/barva88/trauck/internal/order/domain"
	"github.com/barva88/trauck/internal/payment/adapters"
	paymentdomain "github.com/barva88/trauck/internal/payment/domain"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Cfg      appconfig.Config
	Repo     paymentdomain.Repository
	Adapters *adapters.Registry
	OrderSvc orderdomain.Service
	AuditSvc auditdomain.Service     `optional:"true"`
	Notifier *notification.Service   `optional:"true"`
	Outbox   *events.Outbox          `optional:"true"`
	Metrics  *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	cfg      appconfig.Config
	repo     paymentdomain.Repository
	adapters *adapters.Registry
	orderSvc orderdomain.Service
	auditSvc auditdomain.Service
	notifier *notification.Service
	outbox   *events.Outbox
	metrics  *metrics.BillingMetrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		cfg:      p.Cfg,
		repo:     p.Repo,
		adapters: p.Adapters,
		orderSvc: p.OrderSvc,
		auditSvc: p.AuditSvc,
		notifier: p.Notifier,
		outbox:   p.Outbox,
		metrics:  p.Metrics,
	}
}

// IngestWebhook is the reconciliation entry point. Verification happens
// before anything is stored; once an event row is claimed, redeliveries
// of the same provider event converge on the stored state instead of
// re-running side effects.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		Provider:  provider,
		Secret:    s.cfg.WebhookSecret,
		Tolerance: s.cfg.WebhookTolerance,
	})
	if err != nil {
		return err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.countEvent(provider, "unknown", "rejected")
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.countEvent(provider, "unknown", "ignored")
			return nil
		}
		return err
	}
	if err := validateEvent(event); err != nil {
		return err
	}

	now := time.Now().UTC()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.countEvent(provider, event.Type, "replayed")
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	if err := s.processEvent(ctx, stored, event); err != nil {
		s.countEvent(provider, event.Type, "failed")
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, now); err != nil {
		return err
	}

	s.countEvent(provider, event.Type, "processed")
	return nil
}

func validateEvent(event *paymentdomain.ProviderEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.Type = strings.TrimSpace(event.Type)
	if event.Type == "" {
		return paymentdomain.ErrInvalidEvent
	}
	if event.OccurredAt.IsZero() {
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

func (s *Service) processEvent(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.ProviderEvent) error {
	if stored == nil || event == nil {
		return paymentdomain.ErrInvalidEvent
	}

	switch event.Type {
	case paymentdomain.EventTypeCheckoutCompleted:
		return s.settleCheckout(ctx, stored, event)
	case paymentdomain.EventTypeInvoicePaid:
		return s.settleInvoice(ctx, stored, event)
	case paymentdomain.EventTypePaymentFailed:
		return s.handlePaymentFailure(ctx, stored, event)
	default:
		return paymentdomain.ErrInvalidEvent
	}
}

// settleCheckout activates the order behind a completed checkout
// session. Sessions that map to no order are dropped with a warning:
// they belong to another system sharing the provider account, and
// failing would make the provider retry forever.
func (s *Service) settleCheckout(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.ProviderEvent) error {
	order, err := s.orderSvc.FindByCheckoutSession(ctx, event.CheckoutSessionID)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			s.log.Warn("checkout session maps to no order",
				zap.String("provider", stored.Provider),
				zap.String("checkout_session_id", event.CheckoutSessionID),
			)
			return nil
		}
		return err
	}

	if err := s.orderSvc.Activate(ctx, order.ID, orderdomain.ActivationRefs{
		PaymentIntentID: event.PaymentIntentID,
		SubscriptionID:  event.SubscriptionID,
	}); err != nil {
		return err
	}

	s.publishPayment(ctx, stored, event, order)
	s.writeAuditLog(ctx, "payment.received", stored, order)
	return nil
}

// settleInvoice applies a paid subscription invoice. The initial
// invoice (billing_reason subscription_create) re-runs activation,
// which is idempotent with the checkout event; later invoices are
// renewals deduplicated per invoice id.
func (s *Service) settleInvoice(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.ProviderEvent) error {
	order, err := s.orderSvc.FindBySubscription(ctx, event.SubscriptionID)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			s.log.Warn("invoice maps to no order",
				zap.String("provider", stored.Provider),
				zap.String("subscription_id", event.SubscriptionID),
				zap.String("invoice_id", event.InvoiceID),
			)
			return nil
		}
		return err
	}

	if event.BillingReason == "subscription_create" {
		if err := s.orderSvc.Activate(ctx, order.ID, orderdomain.ActivationRefs{
			PaymentIntentID: event.PaymentIntentID,
			SubscriptionID:  event.SubscriptionID,
		}); err != nil {
			return err
		}
	} else {
		if err := s.orderSvc.Renew(ctx, order.ID, event.InvoiceID); err != nil {
			return err
		}
	}

	s.publishPayment(ctx, stored, event, order)
	s.writeAuditLog(ctx, "payment.renewed", stored, order)
	return nil
}

func (s *Service) handlePaymentFailure(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.ProviderEvent) error {
	order, err := s.orderSvc.FindBySubscription(ctx, event.SubscriptionID)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			s.log.Warn("payment failure maps to no order",
				zap.String("provider", stored.Provider),
				zap.String("subscription_id", event.SubscriptionID),
			)
			return nil
		}
		return err
	}

	if err := s.orderSvc.MarkPastDue(ctx, order.ID); err != nil {
		if !errors.Is(err, orderdomain.ErrInvalidTransition) {
			return err
		}
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, order.UserID, "Your subscription payment failed. Please update your payment method.")
	}
	s.writeAuditLog(ctx, "payment.failed", stored, order)
	return nil
}

func (s *Service) publishPayment(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.ProviderEvent, order *orderdomain.Order) {
	if s.outbox == nil {
		return
	}
	payload := events.PaymentPayload{
		Provider:        stored.Provider,
		ProviderEventID: stored.ProviderEventID,
		EventType:       event.Type,
		OrderID:         order.ID.String(),
		UserID:          order.UserID,
	}
	if err := s.outbox.Publish(ctx, events.Event{
		Type:      events.EventPaymentReceived,
		Payload:   payload.ToMap(),
		DedupeKey: "payment:" + stored.ProviderEventID,
	}); err != nil {
		s.log.Warn("outbox publish failed",
			zap.String("provider_event_id", stored.ProviderEventID),
			zap.Error(err),
		)
	}
}

func (s *Service) writeAuditLog(ctx context.Context, action string, stored *paymentdomain.EventRecord, order *orderdomain.Order) {
	if s.auditSvc == nil || stored == nil || order == nil {
		return
	}
	targetID := stored.ProviderEventID
	_ = s.auditSvc.AuditLog(ctx, &order.UserID, action, "payment_event", &targetID, map[string]any{
		"provider":          stored.Provider,
		"provider_event_id": stored.ProviderEventID,
		"event_type":        stored.EventType,
		"order_id":          order.ID.String(),
		"received_at":       stored.ReceivedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Service) countEvent(provider string, eventType string, outcome string) {
	s.metrics.IncWebhookEvent(provider, eventType, outcome)
}
