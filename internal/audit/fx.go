package audit

import (
	"go.uber.org/fx"

	"github.com/barva88/trauck/internal/audit/repository"
	"github.com/barva88/trauck/internal/audit/service"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
