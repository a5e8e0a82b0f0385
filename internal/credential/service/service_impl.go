package service

import (
	"context"
	"errors"
	"strings"

	credentialdomain "github.com/commercekit/paygate/internal/credential/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) credentialdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("credential.service"),
	}
}

// GetCredentials loads the active credential row for a provider and mode.
// Live and test credentials can both be active; filtering by mode keeps a
// live delivery from being checked against the test secret. Results are
// intentionally not cached: a rotation must close the stale-secret window at
// the next delivery.
func (s *Service) GetCredentials(ctx context.Context, provider, mode string) (credentialdomain.Credentials, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	mode = strings.ToLower(strings.TrimSpace(mode))
	if provider == "" || mode == "" {
		return credentialdomain.Credentials{}, credentialdomain.ErrCredentialsInvalid
	}

	var row credentialdomain.WebhookCredential
	err := s.db.WithContext(ctx).
		Where("provider = ? AND mode = ? AND is_active = ?", provider, mode, true).
		Order("updated_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credentialdomain.Credentials{}, credentialdomain.ErrCredentialsNotFound
		}
		return credentialdomain.Credentials{}, err
	}

	keys := make(map[string]string, len(row.Keys))
	for name, value := range row.Keys {
		str, ok := value.(string)
		if !ok || strings.TrimSpace(str) == "" {
			continue
		}
		keys[name] = str
	}
	if len(keys) == 0 {
		return credentialdomain.Credentials{}, credentialdomain.ErrCredentialsInvalid
	}

	return credentialdomain.Credentials{
		Provider: row.Provider,
		Mode:     row.Mode,
		Keys:     keys,
	}, nil
}
