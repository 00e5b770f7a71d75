package payment

import (
	"go.uber.org/fx"

	"github.com/barva88/trauck/internal/payment/adapters"
	"github.com/barva88/trauck/internal/payment/adapters/stripe"
	"github.com/barva88/trauck/internal/payment/repository"
	"github.com/barva88/trauck/internal/payment/service"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(stripe.NewFactory())
	}),
	fx.Provide(service.NewService),
)
