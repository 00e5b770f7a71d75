package observability

import (
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	appconfig "github.com/barva88/trauck/internal/config"
	"github.com/barva88/trauck/internal/observability/metrics"
	"github.com/barva88/trauck/internal/observability/tracing"
)

var Module = fx.Module("observability",
	fx.Provide(func(cfg appconfig.Config) tracing.Config {
		return tracing.Config{
			Enabled:          cfg.TracingEnabled,
			ServiceName:      "trauck",
			ServiceVersion:   cfg.ServiceVersion,
			Environment:      cfg.Environment,
			ExporterEndpoint: cfg.TracingEndpoint,
			ExporterProtocol: cfg.TracingProtocol,
			SamplingRatio:    cfg.TracingSamplingRatio,
		}
	}),
	fx.Provide(tracing.NewProvider),
	fx.Provide(func(cfg appconfig.Config) metrics.Config {
		return metrics.Config{
			ServiceName: "trauck",
			Environment: cfg.Environment,
		}
	}),
	fx.Provide(func(cfg metrics.Config) (*metrics.HTTPMetrics, error) {
		return metrics.NewHTTPMetrics(cfg, otel.GetMeterProvider())
	}),
	fx.Provide(func(cfg metrics.Config) *metrics.BillingMetrics {
		return metrics.BillingWithConfig(cfg)
	}),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
