package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/commercekit/paygate/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct{}

func Provide() paymentdomain.Repository {
	return &Repository{}
}

func (r *Repository) InsertEvent(ctx context.Context, db *gorm.DB, event *paymentdomain.EventRecord) (bool, error) {
	if event == nil {
		return false, errors.New("missing_event")
	}
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*paymentdomain.EventRecord, error) {
	provider = strings.TrimSpace(provider)
	providerEventID = strings.TrimSpace(providerEventID)
	if provider == "" || providerEventID == "" {
		return nil, nil
	}
	var record paymentdomain.EventRecord
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, orderID *snowflake.ID, processedAt time.Time) error {
	updates := map[string]any{"processed_at": processedAt}
	if orderID != nil {
		updates["order_id"] = *orderID
	}
	return db.WithContext(ctx).
		Model(&paymentdomain.EventRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}
