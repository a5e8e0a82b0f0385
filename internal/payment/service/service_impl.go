package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/commercekit/paygate/internal/audit/domain"
	auditservice "github.com/commercekit/paygate/internal/audit/service"
	"github.com/commercekit/paygate/internal/clock"
	"github.com/commercekit/paygate/internal/config"
	credentialdomain "github.com/commercekit/paygate/internal/credential/domain"
	"github.com/commercekit/paygate/internal/events"
	"github.com/commercekit/paygate/internal/observability/logger"
	"github.com/commercekit/paygate/internal/observability/metrics"
	orderdomain "github.com/commercekit/paygate/internal/order/domain"
	"github.com/commercekit/paygate/internal/payment/adapters"
	paymentdomain "github.com/commercekit/paygate/internal/payment/domain"
	"github.com/commercekit/paygate/internal/payment/reconciler"
	"github.com/commercekit/paygate/internal/payment/resolver"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config      config.Config
	DB          *gorm.DB
	GenID       *snowflake.Node
	Clock       clock.Clock
	Log         *zap.Logger
	Registry    *adapters.Registry
	Events      paymentdomain.Repository
	Orders      orderdomain.Repository
	Credentials credentialdomain.Service
	Outbox      *events.Outbox
	Audit       *auditservice.Service
	Metrics     *metrics.WebhookMetrics
}

type Service struct {
	cfg         config.Config
	db          *gorm.DB
	genID       *snowflake.Node
	clk         clock.Clock
	log         *zap.Logger
	registry    *adapters.Registry
	eventRepo   paymentdomain.Repository
	credentials credentialdomain.Service
	// credentialMode selects between live and test secrets; both can be
	// active rows at once.
	credentialMode string
	resolver       *resolver.Resolver
	reconciler     *reconciler.Reconciler
	audit          *auditservice.Service
	metrics        *metrics.WebhookMetrics
}

func NewService(p Params) paymentdomain.Service {
	mode := credentialdomain.ModeLive
	if !p.Config.IsProduction() {
		mode = credentialdomain.ModeTest
	}
	return &Service{
		cfg:            p.Config,
		db:             p.DB,
		genID:          p.GenID,
		clk:            p.Clock,
		log:            p.Log.Named("payment.service"),
		registry:       p.Registry,
		eventRepo:      p.Events,
		credentials:    p.Credentials,
		credentialMode: mode,
		resolver:       resolver.New(p.Orders, p.Config.SessionFallbackEnabled),
		reconciler:     reconciler.New(p.Orders, p.Outbox, p.Clock),
		audit:          p.Audit,
		metrics:        p.Metrics,
	}
}

// IngestWebhook runs one delivery through the full pipeline: verify against
// the raw bytes, normalize, dedupe, resolve the order and reconcile its
// state. A nil error acknowledges the delivery.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.Ack, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	start := s.clk.Now()
	s.metrics.IncReceived(provider)
	defer func() {
		s.metrics.ObserveProcessing(provider, s.clk.Now().Sub(start))
	}()

	log := logger.FromContext(ctx).With(zap.String("provider", provider))

	if !s.registry.ProviderExists(provider) {
		s.metrics.IncProcessed(provider, "rejected")
		return paymentdomain.Ack{}, fmt.Errorf("%w: %s", paymentdomain.ErrInvalidProvider, provider)
	}
	if len(payload) == 0 || !json.Valid(payload) {
		s.metrics.IncProcessed(provider, "rejected")
		return paymentdomain.Ack{}, fmt.Errorf("%w: body is not valid json", paymentdomain.ErrInvalidPayload)
	}

	credentials, err := s.credentials.GetCredentials(ctx, provider, s.credentialMode)
	if err != nil {
		if errors.Is(err, credentialdomain.ErrCredentialsNotFound) || errors.Is(err, credentialdomain.ErrCredentialsInvalid) {
			s.metrics.IncProcessed(provider, "rejected")
			return paymentdomain.Ack{}, fmt.Errorf("%w: no active credentials for %s", paymentdomain.ErrProviderNotFound, provider)
		}
		s.metrics.IncProcessed(provider, "failed")
		return paymentdomain.Ack{}, err
	}

	adapter, err := s.registry.NewAdapter(provider, paymentdomain.AdapterConfig{
		Provider:         provider,
		Credentials:      credentials,
		SkipVerification: s.cfg.SkipVerification,
	})
	if err != nil {
		s.metrics.IncProcessed(provider, "rejected")
		return paymentdomain.Ack{}, err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		if errors.Is(err, paymentdomain.ErrVerificationUnavailable) {
			s.metrics.IncProcessed(provider, "failed")
			log.Warn("signature verification unavailable", zap.Error(err))
			return paymentdomain.Ack{}, err
		}
		s.metrics.IncVerificationFailure(provider)
		s.metrics.IncProcessed(provider, "rejected")
		s.recordAudit(ctx, provider, auditdomain.ActionWebhookRejected, "", map[string]any{
			"reason": "invalid_signature",
		})
		log.Warn("signature verification failed", zap.Error(err))
		return paymentdomain.Ack{}, err
	}

	event, err := adapter.Normalize(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.metrics.IncProcessed(provider, "ignored")
			s.recordAudit(ctx, provider, auditdomain.ActionWebhookIgnored, "", map[string]any{
				"reason": err.Error(),
			})
			return paymentdomain.AckIgnored, nil
		}
		s.metrics.IncProcessed(provider, "rejected")
		return paymentdomain.Ack{}, err
	}
	if !event.HasIdentifiers() {
		s.metrics.IncProcessed(provider, "rejected")
		return paymentdomain.Ack{}, fmt.Errorf("%w: event carries no identifiers", paymentdomain.ErrInvalidEvent)
	}

	log = log.With(
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_kind", string(event.Kind)),
	)

	record, err := s.storeDelivery(ctx, event)
	if err != nil {
		s.metrics.IncProcessed(provider, "failed")
		return paymentdomain.Ack{}, err
	}
	if record == nil {
		// Already fully processed on a previous delivery.
		s.metrics.IncProcessed(provider, "duplicate")
		s.recordAudit(ctx, provider, auditdomain.ActionWebhookDuplicate, event.ProviderEventID, nil)
		return paymentdomain.AckAlreadyProcessed, nil
	}

	order, err := s.resolver.Resolve(ctx, s.db, event)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			// Acknowledged so the provider stops retrying; the stored
			// delivery stays unprocessed for manual replay.
			s.metrics.IncProcessed(provider, "unmatched")
			s.recordAudit(ctx, provider, auditdomain.ActionWebhookUnmatched, event.ProviderEventID, map[string]any{
				"transaction_id": event.TransactionID,
				"reference":      event.Reference,
			})
			log.Warn("no order matched event")
			return paymentdomain.AckOrderNotFound, nil
		}
		s.metrics.IncProcessed(provider, "failed")
		return paymentdomain.Ack{}, err
	}

	outcome, err := s.reconciler.Reconcile(ctx, s.db, order.ID, event)
	if err != nil {
		s.metrics.IncProcessed(provider, "failed")
		return paymentdomain.Ack{}, err
	}

	if err := s.eventRepo.MarkProcessed(ctx, s.db, record.ID, &order.ID, s.clk.Now().UTC()); err != nil {
		s.metrics.IncProcessed(provider, "failed")
		return paymentdomain.Ack{}, err
	}

	switch outcome {
	case reconciler.OutcomeAlreadyApplied:
		s.metrics.IncProcessed(provider, "duplicate")
		s.recordAudit(ctx, provider, auditdomain.ActionWebhookDuplicate, event.ProviderEventID, nil)
		return paymentdomain.AckAlreadyProcessed, nil
	case reconciler.OutcomeIgnored:
		s.metrics.IncProcessed(provider, "ignored")
		s.recordAudit(ctx, provider, auditdomain.ActionWebhookIgnored, event.ProviderEventID, nil)
		return paymentdomain.AckIgnored, nil
	default:
		s.metrics.IncProcessed(provider, "processed")
		s.recordAudit(ctx, provider, auditdomain.ActionWebhookProcessed, event.ProviderEventID, map[string]any{
			"order_id":       order.ID.String(),
			"event_kind":     string(event.Kind),
			"transaction_id": event.TransactionID,
		})
		log.Info("webhook processed", zap.Int64("order_id", int64(order.ID)))
		return paymentdomain.AckProcessed, nil
	}
}

// storeDelivery inserts the delivery record. Returns nil when the event was
// already processed to completion; returns the existing record when a prior
// attempt stored it but never finished, so processing resumes.
func (s *Service) storeDelivery(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.EventRecord, error) {
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventKind:       string(event.Kind),
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      s.clk.Now().UTC(),
	}
	inserted, err := s.eventRepo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if inserted {
		return record, nil
	}

	existing, err := s.eventRepo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: delivery vanished after conflict", paymentdomain.ErrEventAlreadyProcessed)
	}
	if existing.ProcessedAt != nil {
		return nil, nil
	}
	return existing, nil
}

func (s *Service) recordAudit(ctx context.Context, provider, action, targetID string, metadata map[string]any) {
	s.audit.Record(ctx, auditservice.Entry{
		Provider:   provider,
		Action:     action,
		TargetType: "webhook",
		TargetID:   targetID,
		Metadata:   metadata,
	})
}
