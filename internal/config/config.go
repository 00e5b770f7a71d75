package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries all runtime settings for the billing core.
type Config struct {
	Environment string
	HTTPAddr    string

	DatabaseDriver string
	DatabaseDSN    string

	ProviderAPIKey  string
	ProviderAPIBase string
	WebhookSecret   string
	WebhookTolerance time.Duration

	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string

	RefundProRata            bool
	RefundFreeUsageThreshold int64
	GuaranteeDays            int

	DefaultExamCostCredits int64

	WebhookRateLimit       int
	WebhookRateLimitWindow time.Duration

	TracingEnabled       bool
	TracingEndpoint      string
	TracingProtocol      string
	TracingSamplingRatio float64
	ServiceVersion       string
}

// Load reads configuration from the environment with local defaults.
func Load() Config {
	return Config{
		Environment: getString("TRAUCK_ENV", "development"),
		HTTPAddr:    getString("TRAUCK_HTTP_ADDR", ":8080"),

		DatabaseDriver: getString("TRAUCK_DB_DRIVER", "sqlite"),
		DatabaseDSN:    getString("TRAUCK_DB_DSN", "file:trauck.db?_fk=1"),

		ProviderAPIKey:   getString("TRAUCK_PROVIDER_API_KEY", ""),
		ProviderAPIBase:  getString("TRAUCK_PROVIDER_API_BASE", "https://api.stripe.com"),
		WebhookSecret:    getString("TRAUCK_WEBHOOK_SECRET", ""),
		WebhookTolerance: getDuration("TRAUCK_WEBHOOK_TOLERANCE", 5*time.Minute),

		CheckoutSuccessURL: getString("TRAUCK_CHECKOUT_SUCCESS_URL", "http://localhost:8080/billing/success"),
		CheckoutCancelURL:  getString("TRAUCK_CHECKOUT_CANCEL_URL", "http://localhost:8080/billing/cancel"),
		PortalReturnURL:    getString("TRAUCK_PORTAL_RETURN_URL", "http://localhost:8080/billing"),

		RefundProRata:            getBool("TRAUCK_REFUND_PRO_RATA", false),
		RefundFreeUsageThreshold: getInt64("TRAUCK_REFUND_FREE_USAGE_THRESHOLD", 0),
		GuaranteeDays:            int(getInt64("TRAUCK_GUARANTEE_DAYS", 30)),

		DefaultExamCostCredits: getInt64("TRAUCK_DEFAULT_EXAM_COST_CREDITS", 1),

		WebhookRateLimit:       int(getInt64("TRAUCK_WEBHOOK_RATE_LIMIT", 120)),
		WebhookRateLimitWindow: getDuration("TRAUCK_WEBHOOK_RATE_LIMIT_WINDOW", time.Minute),

		TracingEnabled:       getBool("TRAUCK_TRACING_ENABLED", false),
		TracingEndpoint:      getString("TRAUCK_TRACING_ENDPOINT", ""),
		TracingProtocol:      getString("TRAUCK_TRACING_PROTOCOL", "grpc"),
		TracingSamplingRatio: getFloat("TRAUCK_TRACING_SAMPLING_RATIO", 0.1),
		ServiceVersion:       getString("TRAUCK_SERVICE_VERSION", "dev"),
	}
}

// IsProduction reports whether the app runs with production settings.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
