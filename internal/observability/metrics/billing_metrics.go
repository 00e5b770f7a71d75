package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics tracks the reconciliation and credit-spend hot paths.
type BillingMetrics struct {
	webhookEvents  *prometheus.CounterVec
	creditsGranted *prometheus.CounterVec
	creditsSpent   *prometheus.CounterVec
	refunds        *prometheus.CounterVec
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the process-wide billing metrics collectors.
func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

// BillingWithConfig builds the collectors with service labels.
func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

// ResetBillingMetricsForTest clears the singleton between test registries.
func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

func newBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "trauck"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	webhookEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_webhook_events_total",
			Help:        "Payment provider events by provider, type, and outcome.",
			ConstLabels: constLabels,
		},
		[]string{"provider", "event_type", "outcome"},
	)
	creditsGranted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_credits_granted_total",
			Help:        "Credits granted to wallets by transaction type.",
			ConstLabels: constLabels,
		},
		[]string{"type"},
	)
	creditsSpent := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_credits_spent_total",
			Help:        "Credits debited from wallets by service type.",
			ConstLabels: constLabels,
		},
		[]string{"service_type"},
	)
	refunds := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_refunds_total",
			Help:        "Refund requests by final status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)

	for _, collector := range []prometheus.Collector{webhookEvents, creditsGranted, creditsSpent, refunds} {
		if err := registerer.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				_ = already
				continue
			}
		}
	}

	return &BillingMetrics{
		webhookEvents:  webhookEvents,
		creditsGranted: creditsGranted,
		creditsSpent:   creditsSpent,
		refunds:        refunds,
	}
}

// IncWebhookEvent records one reconciled provider event.
func (m *BillingMetrics) IncWebhookEvent(provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, eventType, outcome).Inc()
}

// AddCreditsGranted records granted credits by transaction type.
func (m *BillingMetrics) AddCreditsGranted(txType string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsGranted.WithLabelValues(txType).Add(float64(amount))
}

// AddCreditsSpent records debited credits by service type.
func (m *BillingMetrics) AddCreditsSpent(serviceType string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsSpent.WithLabelValues(serviceType).Add(float64(amount))
}

// IncRefund records a refund decision by final status.
func (m *BillingMetrics) IncRefund(status string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(status).Inc()
}
