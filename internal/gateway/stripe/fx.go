package stripe

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	appconfig "github.com/barva88/trauck/internal/config"
	"github.com/barva88/trauck/internal/gateway"
)

var Module = fx.Module("gateway.stripe",
	fx.Provide(func(cfg appconfig.Config, log *zap.Logger) gateway.Gateway {
		opts := []Option{}
		if cfg.ProviderAPIBase != "" {
			opts = append(opts, WithAPIBase(cfg.ProviderAPIBase))
		}
		return New(cfg.ProviderAPIKey, log, opts...)
	}),
)
