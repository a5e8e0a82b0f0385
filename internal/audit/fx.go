package audit

import (
	"github.com/commercekit/paygate/internal/audit/repository"
	"github.com/commercekit/paygate/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
