package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/commercekit/paygate/internal/config"
	"github.com/commercekit/paygate/internal/observability/logger"
	"github.com/commercekit/paygate/internal/observability/metrics"
	paymentdomain "github.com/commercekit/paygate/internal/payment/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server exposes the webhook ingestion endpoints.
type Server struct {
	cfg        config.Config
	log        *zap.Logger
	db         *gorm.DB
	engine     *gin.Engine
	paymentSvc paymentdomain.Service
}

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	DB         *gorm.DB
	Engine     *gin.Engine
	PaymentSvc paymentdomain.Service
}

// NewEngine builds the gin engine with the shared middleware chain.
func NewEngine(cfg config.Config, httpMetrics *metrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	engine.Use(metrics.GinMiddleware(httpMetrics))
	return engine
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:        p.Config,
		log:        p.Log.Named("server"),
		db:         p.DB,
		engine:     p.Engine,
		paymentSvc: p.PaymentSvc,
	}
}

// RegisterRoutes mounts the webhook endpoints plus health and metrics.
func (s *Server) RegisterRoutes() {
	s.engine.GET("/healthz", s.Healthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhooks := s.engine.Group("/webhooks")
	webhooks.POST("/:route", s.HandleWebhook)
}

// RunHTTP starts the HTTP listener tied to the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, engine *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
