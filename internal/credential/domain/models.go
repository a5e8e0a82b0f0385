package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrCredentialsNotFound = errors.New("credentials_not_found")
	ErrCredentialsInvalid  = errors.New("credentials_invalid")
)

const (
	ModeTest = "test"
	ModeLive = "live"
)

// Credentials are the per-provider webhook secrets handed to an adapter.
// They are loaded fresh on every delivery so a rotated secret takes effect
// immediately.
type Credentials struct {
	Provider string
	Mode     string
	Keys     map[string]string
}

// Key returns a named secret, empty when absent.
func (c Credentials) Key(name string) string {
	if c.Keys == nil {
		return ""
	}
	return c.Keys[name]
}

// WebhookCredential is the stored credential row managed by the settings UI.
type WebhookCredential struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	Provider  string            `gorm:"type:text;not null"`
	Mode      string            `gorm:"type:text;not null;default:test"`
	Keys      datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	IsActive  bool              `gorm:"not null;default:true"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (WebhookCredential) TableName() string { return "webhook_credentials" }

// Service reads gateway credentials. The admin/settings surface that writes
// them is out of scope. Live and test rows can be active at the same time,
// so lookups always carry the mode.
type Service interface {
	GetCredentials(ctx context.Context, provider, mode string) (Credentials, error)
}
