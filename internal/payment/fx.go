package payment

import (
	"net/http"

	"github.com/commercekit/paygate/internal/clock"
	"github.com/commercekit/paygate/internal/config"
	"github.com/commercekit/paygate/internal/events"
	"github.com/commercekit/paygate/internal/observability/tracing"
	"github.com/commercekit/paygate/internal/payment/adapters"
	"github.com/commercekit/paygate/internal/payment/adapters/card"
	"github.com/commercekit/paygate/internal/payment/adapters/directdebit"
	"github.com/commercekit/paygate/internal/payment/adapters/wallet"
	"github.com/commercekit/paygate/internal/payment/repository"
	"github.com/commercekit/paygate/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(newRegistry),
	fx.Provide(events.NewOutbox),
	fx.Provide(service.NewService),
)

func newRegistry(cfg config.Config, clk clock.Clock) *adapters.Registry {
	walletHTTP := tracing.WrapHTTPClient(&http.Client{Timeout: cfg.WalletHTTPTimeout})
	return adapters.NewRegistry(
		card.NewFactory(clk, cfg.CardSignatureTolerance),
		wallet.NewFactory(walletHTTP, nil),
		directdebit.NewFactory(),
	)
}
