package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Supported payment providers, keyed by webhook route.
const (
	ProviderCard        = "card"
	ProviderWallet      = "wallet"
	ProviderDirectDebit = "direct_debit"
)

// EventKind is the provider-agnostic classification of a webhook event.
type EventKind string

const (
	EventKindPaymentSucceeded     EventKind = "payment_succeeded"
	EventKindPaymentFailed        EventKind = "payment_failed"
	EventKindPaymentCanceled      EventKind = "payment_canceled"
	EventKindRefunded             EventKind = "refunded"
	EventKindOrderApproved        EventKind = "order_approved"
	EventKindOrderCompleted       EventKind = "order_completed"
	EventKindSubscriptionCreated  EventKind = "subscription_created"
	EventKindSubscriptionUpdated  EventKind = "subscription_updated"
	EventKindSubscriptionCanceled EventKind = "subscription_canceled"
	EventKindInvoicePaid          EventKind = "invoice_paid"
	EventKindInvoiceFailed        EventKind = "invoice_failed"
)

// IsMonetary reports whether the kind must carry an amount and currency.
func (k EventKind) IsMonetary() bool {
	switch k {
	case EventKindPaymentSucceeded, EventKindRefunded, EventKindInvoicePaid:
		return true
	default:
		return false
	}
}

// PaymentEvent is the normalized envelope every adapter produces.
type PaymentEvent struct {
	Provider        string
	Kind            EventKind
	ProviderEventID string
	// TransactionID is the provider's charge/capture/payment id; may be
	// absent for some kinds.
	TransactionID string
	// ProviderOrderID is the provider's order/intent id; may be absent.
	ProviderOrderID string
	SubscriptionID  string
	// Reference is the checkout pass-through token echoed back by the
	// provider.
	Reference string
	// SessionID is the checkout session hint, when the provider echoes one.
	SessionID string
	// Amount is in currency minor units.
	Amount     int64
	Currency   string
	OccurredAt time.Time
	RawPayload []byte
}

// HasIdentifiers reports whether the event can be correlated to an order at
// all. Events without any identifier are rejected before resolution.
func (e *PaymentEvent) HasIdentifiers() bool {
	if e == nil {
		return false
	}
	return e.TransactionID != "" || e.ProviderOrderID != "" || e.Reference != "" || e.SubscriptionID != ""
}

// EventRecord is the stored delivery, deduplicated on
// (provider, provider_event_id) so redeliveries become idempotent replays.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null"`
	ProviderEventID string         `gorm:"type:text;not null"`
	EventKind       string         `gorm:"type:text;not null"`
	OrderID         *snowflake.ID  `gorm:"column:order_id"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time
}

func (EventRecord) TableName() string { return "payment_events" }
