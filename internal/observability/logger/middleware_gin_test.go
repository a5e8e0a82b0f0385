package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/commercekit/paygate/internal/observability/tracing"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

func TestGinMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got == "" {
		t.Fatalf("expected X-Request-Id header to be set")
	}
}

func TestGinMiddlewareJoinsRemoteTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracing.SetPropagator()

	var traceID string
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/ping", func(c *gin.Context) {
		traceID = trace.SpanContextFromContext(c.Request.Context()).TraceID().String()
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if traceID != "0af7651916cd43dd8448eb211c80319c" {
		t.Fatalf("expected handler context to carry the remote trace id, got %q", traceID)
	}
}
