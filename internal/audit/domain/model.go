package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ActorType represents who triggered an action.
type ActorType string

const (
	ActorTypeSystem   ActorType = "system"
	ActorTypeProvider ActorType = "provider"
)

// Audit actions recorded by the webhook pipeline.
const (
	ActionWebhookProcessed = "webhook.processed"
	ActionWebhookIgnored   = "webhook.ignored"
	ActionWebhookDuplicate = "webhook.duplicate"
	ActionWebhookUnmatched = "webhook.unmatched"
	ActionWebhookRejected  = "webhook.rejected"
)

// AuditLog captures an immutable record of a webhook outcome.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	Provider   string            `gorm:"type:text;not null;index"`
	ActorType  string            `gorm:"type:text;not null"`
	Action     string            `gorm:"type:text;not null;index"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   *string           `gorm:"type:text"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	RequestID  *string           `gorm:"type:text"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }
