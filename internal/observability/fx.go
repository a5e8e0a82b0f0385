package observability

import (
	"github.com/commercekit/paygate/internal/config"
	"github.com/commercekit/paygate/internal/observability/logger"
	"github.com/commercekit/paygate/internal/observability/metrics"
	"github.com/commercekit/paygate/internal/observability/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	logger.Module,
	fx.Provide(tracing.NewProvider),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Provide(func(cfg config.Config) metrics.Config {
		return metrics.Config{
			ServiceName: cfg.ServiceName,
			Environment: cfg.Environment,
		}
	}),
	fx.Provide(func() metric.MeterProvider { return otel.GetMeterProvider() }),
	fx.Provide(metrics.NewHTTPMetrics),
	fx.Provide(func(cfg metrics.Config) *metrics.WebhookMetrics {
		return metrics.WebhookWithConfig(cfg)
	}),
)
