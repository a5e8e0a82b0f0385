package server

import (
	"errors"
	"net/http"

	obscontext "github.com/commercekit/paygate/internal/observability/context"
	"github.com/commercekit/paygate/internal/observability/logger"
	paymentdomain "github.com/commercekit/paygate/internal/payment/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// webhookRoutes maps the public URL segment to the internal provider name.
var webhookRoutes = map[string]string{
	"card-webhook":        paymentdomain.ProviderCard,
	"wallet-webhook":      paymentdomain.ProviderWallet,
	"directdebit-webhook": paymentdomain.ProviderDirectDebit,
}

// HandleWebhook reads the raw body before any decoding so signatures are
// checked against the exact bytes the provider signed.
func (s *Server) HandleWebhook(c *gin.Context) {
	provider, ok := webhookRoutes[c.Param("route")]
	if !ok {
		// Generic body; route names must not leak which providers exist.
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request"})
		return
	}

	ctx := obscontext.WithProvider(c.Request.Context(), provider)
	c.Set("provider", provider)

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request"})
		return
	}

	ack, err := s.paymentSvc.IngestWebhook(ctx, provider, payload, c.Request.Header)
	if err != nil {
		s.abortWebhook(c, provider, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": ack.Message})
}

// abortWebhook maps pipeline errors onto the response policy: 400 tells the
// provider the delivery is bad and must not be retried, 500 asks for a retry.
func (s *Server) abortWebhook(c *gin.Context, provider string, err error) {
	log := logger.FromContext(c.Request.Context()).With(
		zap.String("provider", provider),
		zap.Error(err),
	)

	switch {
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		log.Warn("webhook rejected")
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid signature"})
	case errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidCurrency),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrInvalidProvider):
		log.Warn("webhook rejected")
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request"})
	default:
		log.Error("webhook processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
	}
}
