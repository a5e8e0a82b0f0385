package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/commercekit/paygate/internal/order/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct{}

func Provide() orderdomain.Repository {
	return &Repository{}
}

func (r *Repository) FindByTransactionID(ctx context.Context, db *gorm.DB, method, transactionID string) (*orderdomain.Order, error) {
	if transactionID == "" {
		return nil, orderdomain.ErrOrderNotFound
	}
	return r.findOne(ctx, db.
		Where("payment_method = ?", method).
		Where(datatypes.JSONQuery("provider_metadata").Equals(transactionID, orderdomain.MetaTransactionID)))
}

func (r *Repository) FindByProviderOrderID(ctx context.Context, db *gorm.DB, method, providerOrderID string) (*orderdomain.Order, error) {
	if providerOrderID == "" {
		return nil, orderdomain.ErrOrderNotFound
	}
	return r.findOne(ctx, db.
		Where("payment_method = ?", method).
		Where(datatypes.JSONQuery("provider_metadata").Equals(providerOrderID, orderdomain.MetaOrderID)))
}

func (r *Repository) FindBySubscriptionID(ctx context.Context, db *gorm.DB, method, subscriptionID string) (*orderdomain.Order, error) {
	if subscriptionID == "" {
		return nil, orderdomain.ErrOrderNotFound
	}
	return r.findOne(ctx, db.
		Where("payment_method = ?", method).
		Where(datatypes.JSONQuery("provider_metadata").Equals(subscriptionID, orderdomain.MetaSubscriptionID)))
}

func (r *Repository) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*orderdomain.Order, error) {
	if reference == "" {
		return nil, orderdomain.ErrOrderNotFound
	}
	return r.findOne(ctx, db.Where("checkout_reference = ?", reference))
}

func (r *Repository) FindPendingByMethod(ctx context.Context, db *gorm.DB, sessionID, method string) ([]*orderdomain.Order, error) {
	var orders []*orderdomain.Order
	err := db.WithContext(ctx).
		Where("session_id = ? AND payment_method = ? AND payment_status = ?",
			sessionID, method, orderdomain.PaymentStatusPending).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *Repository) LockForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	query := tx.WithContext(ctx)
	// Row locks only exist on postgres; the sqlite test dialect serializes
	// writes on its own.
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var order orderdomain.Order
	if err := query.First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderdomain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *Repository) Update(ctx context.Context, tx *gorm.DB, order *orderdomain.Order) error {
	if order == nil {
		return errors.New("missing_order")
	}
	order.UpdatedAt = time.Now().UTC()
	return tx.WithContext(ctx).
		Model(&orderdomain.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"payment_status":    order.PaymentStatus,
			"provider_metadata": order.ProviderMetadata,
			"paid_at":           order.PaidAt,
			"updated_at":        order.UpdatedAt,
		}).Error
}

func (r *Repository) IsPaid(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	var status orderdomain.PaymentStatus
	err := db.WithContext(ctx).
		Model(&orderdomain.Order{}).
		Select("payment_status").
		Where("id = ?", id).
		Scan(&status).Error
	if err != nil {
		return false, err
	}
	return status == orderdomain.PaymentStatusPaid, nil
}

func (r *Repository) Insert(ctx context.Context, db *gorm.DB, order *orderdomain.Order) error {
	if order == nil {
		return errors.New("missing_order")
	}
	if order.ProviderMetadata == nil {
		order.ProviderMetadata = datatypes.JSONMap{}
	}
	return db.WithContext(ctx).Create(order).Error
}

func (r *Repository) findOne(ctx context.Context, query *gorm.DB) (*orderdomain.Order, error) {
	var order orderdomain.Order
	if err := query.WithContext(ctx).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderdomain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}
