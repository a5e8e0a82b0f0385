package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PaymentStatus is the local order payment lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusOnHold            PaymentStatus = "on_hold"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusCanceled          PaymentStatus = "canceled"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Metadata keys recorded by the reconciler. provider_metadata only grows;
// keys are updated in place and never removed.
const (
	MetaTransactionID  = "transaction_id"
	MetaOrderID        = "order_id"
	MetaSubscriptionID = "subscription_id"
	MetaRefundAmount   = "refund_amount"
	MetaRefundTxnID    = "refund_transaction_id"
	MetaInvoiceStatus  = "invoice_status"
	MetaFailureReason  = "failure_reason"
)

// Order is the local order the reconciler mutates. Checkout creates it; this
// service only transitions payment state and appends provider metadata.
type Order struct {
	ID                snowflake.ID      `gorm:"primaryKey"`
	CheckoutReference string            `gorm:"type:text;not null;uniqueIndex"`
	SessionID         string            `gorm:"type:text;index"`
	PaymentMethod     string            `gorm:"type:text;not null"`
	PaymentStatus     PaymentStatus     `gorm:"type:text;not null;default:pending"`
	TotalAmount       int64             `gorm:"not null"`
	Currency          string            `gorm:"type:text;not null"`
	ProviderMetadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	PaidAt            *time.Time
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Order) TableName() string { return "orders" }

// MetadataString reads a provider metadata value as a string.
func (o *Order) MetadataString(key string) string {
	if o == nil || o.ProviderMetadata == nil {
		return ""
	}
	value, ok := o.ProviderMetadata[key]
	if !ok {
		return ""
	}
	str, _ := value.(string)
	return str
}

// SetMetadata records a provider metadata value. Existing keys are never
// overwritten with empty values.
func (o *Order) SetMetadata(key string, value any) {
	if o == nil || key == "" {
		return
	}
	if o.ProviderMetadata == nil {
		o.ProviderMetadata = datatypes.JSONMap{}
	}
	if str, ok := value.(string); ok && str == "" {
		return
	}
	o.ProviderMetadata[key] = value
}

// IsTerminal reports whether the order reached a state no event should move
// it out of. failed is deliberately non-terminal: providers can succeed on a
// retried capture after an initial decline.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusRefunded, PaymentStatusCanceled:
		return true
	default:
		return false
	}
}
