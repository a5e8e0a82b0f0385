package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrOrderNotFound = errors.New("order_not_found")

type Repository interface {
	// FindByTransactionID matches provider_metadata.transaction_id.
	FindByTransactionID(ctx context.Context, db *gorm.DB, method, transactionID string) (*Order, error)
	// FindByProviderOrderID matches provider_metadata.order_id.
	FindByProviderOrderID(ctx context.Context, db *gorm.DB, method, providerOrderID string) (*Order, error)
	// FindBySubscriptionID matches provider_metadata.subscription_id.
	FindBySubscriptionID(ctx context.Context, db *gorm.DB, method, subscriptionID string) (*Order, error)
	// FindByReference matches the checkout reference token.
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Order, error)
	// FindPendingByMethod lists pending orders for a session and method,
	// newest first.
	FindPendingByMethod(ctx context.Context, db *gorm.DB, sessionID, method string) ([]*Order, error)
	// LockForUpdate reloads an order under a row lock inside tx.
	LockForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Order, error)
	// Update persists status, metadata and paid_at in one statement.
	Update(ctx context.Context, tx *gorm.DB, order *Order) error
	// IsPaid reports whether the order already reached paid state.
	IsPaid(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	// Insert creates an order; used by seeds and tests.
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
}
