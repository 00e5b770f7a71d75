package order

import (
	"go.uber.org/fx"

	"github.com/barva88/trauck/internal/order/service"
)

var Module = fx.Module("order",
	fx.Provide(service.NewService),
)
