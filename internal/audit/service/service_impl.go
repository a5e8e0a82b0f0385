package service

import (
	"context"

	auditdomain "github.com/commercekit/paygate/internal/audit/domain"
	"github.com/bwmarrin/snowflake"
	obscontext "github.com/commercekit/paygate/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
	Log   *zap.Logger
	Repo  auditdomain.Repository
}

// Service records webhook outcomes. Recording is best effort: an audit write
// failure is logged but never fails the webhook itself.
type Service struct {
	db    *gorm.DB
	genID *snowflake.Node
	log   *zap.Logger
	repo  auditdomain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		genID: p.GenID,
		log:   p.Log.Named("audit.service"),
		repo:  p.Repo,
	}
}

type Entry struct {
	Provider   string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

func (s *Service) Record(ctx context.Context, entry Entry) {
	if s == nil || entry.Action == "" {
		return
	}

	metadata := datatypes.JSONMap{}
	for key, value := range entry.Metadata {
		metadata[key] = value
	}

	row := &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		Provider:   entry.Provider,
		ActorType:  string(auditdomain.ActorTypeProvider),
		Action:     entry.Action,
		TargetType: entry.TargetType,
		Metadata:   metadata,
	}
	if entry.TargetID != "" {
		row.TargetID = &entry.TargetID
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		row.RequestID = &requestID
	}

	if err := s.repo.Insert(ctx, s.db, row); err != nil {
		s.log.Warn("audit insert failed",
			zap.String("action", entry.Action),
			zap.String("provider", entry.Provider),
			zap.Error(err),
		)
	}
}

func (s *Service) List(ctx context.Context, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error) {
	return s.repo.List(ctx, s.db, filter)
}
