package refund

import (
	"go.uber.org/fx"

	"github.com/barva88/trauck/internal/refund/service"
)

var Module = fx.Module("refund",
	fx.Provide(service.NewService),
)
