package metering

import (
	"go.uber.org/fx"

	"github.com/barva88/trauck/internal/metering/service"
)

var Module = fx.Module("metering",
	fx.Provide(service.NewService),
)
