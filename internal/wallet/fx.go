package wallet

import (
	"go.uber.org/fx"

	"github.com/barva88/trauck/internal/wallet/service"
)

var Module = fx.Module("wallet.service",
	fx.Provide(service.NewService),
)
