package credential

import (
	"github.com/commercekit/paygate/internal/credential/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credential.service",
	fx.Provide(service.NewService),
)
