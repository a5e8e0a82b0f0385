package logger

import (
	"strings"
	"time"

	obscontext "github.com/commercekit/paygate/internal/observability/context"
	"github.com/commercekit/paygate/internal/observability/tracing"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls the access-log middleware.
type MiddlewareConfig struct {
	// SkipPaths are matched exactly and logged at debug level only.
	SkipPaths []string
}

// GinMiddleware assigns a request id, propagates it through the request
// context, and emits one access-log line per request with masked headers.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		c.Set("request_id", requestID)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = tracing.ExtractContext(ctx, propagation.HeaderCarrier(c.Request.Header))
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Any("headers", MaskHeaders(c.Request.Header)),
		}

		log := FromContext(ctx)
		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			if _, ok := skip[c.Request.URL.Path]; ok {
				log.Debug("http request", fields...)
				return
			}
			log.Info("http request", fields...)
		}
	}
}
