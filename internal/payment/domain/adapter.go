package domain

import (
	"context"
	"net/http"

	credentialdomain "github.com/commercekit/paygate/internal/credential/domain"
)

// AdapterConfig carries the per-request material an adapter needs. Adapters
// are constructed per delivery from freshly loaded credentials.
type AdapterConfig struct {
	Provider    string
	Credentials credentialdomain.Credentials
	// SkipVerification bypasses signature checks. Config validation keeps
	// this unreachable in production deployments.
	SkipVerification bool
}

// PaymentAdapter verifies and normalizes one provider's webhook deliveries.
// Verify must run against the raw request bytes, before any JSON decoding
// that could re-serialize the payload.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Normalize(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

// AdapterFactory builds adapters for a single provider.
type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}
