package catalog

import (
	"go.uber.org/fx"

	"github.com/barva88/trauck/internal/catalog/service"
)

var Module = fx.Module("catalog.service",
	fx.Provide(service.NewService),
)
