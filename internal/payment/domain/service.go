package domain

import (
	"context"
	"errors"
	"net/http"
)

// Ack is the acknowledgement body returned to the provider for every
// delivery that must not be retried.
type Ack struct {
	Message string
}

var (
	AckProcessed        = Ack{Message: "Payment processed successfully"}
	AckIgnored          = Ack{Message: "Event ignored"}
	AckAlreadyProcessed = Ack{Message: "Event already processed"}
	AckOrderNotFound    = Ack{Message: "Order not found"}
)

// Service ingests one webhook delivery end to end: verify, normalize,
// resolve, reconcile. A nil error means the provider receives a 200 and must
// not retry; returned errors map to 400 (reject) or 500 (retry) at the
// dispatcher boundary.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (Ack, error)
}

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	// ErrVerificationUnavailable marks a transient failure of the wallet
	// provider's remote verification path; the delivery should be retried.
	ErrVerificationUnavailable = errors.New("verification_unavailable")
)
