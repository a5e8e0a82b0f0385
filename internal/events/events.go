package events

// Order lifecycle event types emitted after reconciliation.
const (
	EventOrderPaid                 = "order.paid"
	EventOrderOnHold               = "order.on_hold"
	EventOrderFailed               = "order.failed"
	EventOrderCanceled             = "order.canceled"
	EventOrderRefunded             = "order.refunded"
	EventOrderPartiallyRefunded    = "order.partially_refunded"
	EventSubscriptionStateChanged  = "subscription.state_changed"
	EventSubscriptionInvoiceFailed = "subscription.invoice_failed"
)

// OrderPayload captures the minimal data downstream consumers need to react
// to an order state change.
type OrderPayload struct {
	OrderID         string `json:"order_id"`
	Provider        string `json:"provider"`
	ProviderEventID string `json:"provider_event_id"`
	TransactionID   string `json:"transaction_id,omitempty"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount,omitempty"`
	Currency        string `json:"currency,omitempty"`
}

// ToMap converts the payload into an outbox-friendly map.
func (p OrderPayload) ToMap() map[string]any {
	payload := map[string]any{
		"order_id":          p.OrderID,
		"provider":          p.Provider,
		"provider_event_id": p.ProviderEventID,
		"status":            p.Status,
	}
	if p.TransactionID != "" {
		payload["transaction_id"] = p.TransactionID
	}
	if p.Amount != 0 {
		payload["amount"] = p.Amount
	}
	if p.Currency != "" {
		payload["currency"] = p.Currency
	}
	return payload
}
