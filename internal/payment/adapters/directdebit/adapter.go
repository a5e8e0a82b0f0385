package directdebit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/commercekit/paygate/internal/payment/domain"
)

// SignatureHeader carries a hex HMAC-SHA256 digest of the raw request body.
const SignatureHeader = "Webhook-Signature"

const keyWebhookSecret = "webhook_secret"

type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Provider() string { return paymentdomain.ProviderDirectDebit }

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := cfg.Credentials.Key(keyWebhookSecret)
	if secret == "" && !cfg.SkipVerification {
		return nil, fmt.Errorf("%w: direct debit webhook_secret missing", paymentdomain.ErrInvalidProvider)
	}
	return &Adapter{secret: secret, skip: cfg.SkipVerification}, nil
}

type Adapter struct {
	secret string
	skip   bool
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.skip {
		return nil
	}

	signature := strings.TrimSpace(headers.Get(SignatureHeader))
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", paymentdomain.ErrInvalidSignature, SignatureHeader)
	}

	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return fmt.Errorf("%w: digest mismatch", paymentdomain.ErrInvalidSignature)
	}
	return nil
}

type envelope struct {
	ID           string `json:"id"`
	ResourceType string `json:"resource_type"`
	Action       string `json:"action"`
	CreatedAt    string `json:"created_at"`
	Links        struct {
		Payment      string `json:"payment"`
		Refund       string `json:"refund"`
		Subscription string `json:"subscription"`
	} `json:"links"`
	Details struct {
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Reference string `json:"reference"`
	} `json:"details"`
}

// Normalize maps a resource_type/action pair into a PaymentEvent. Amounts
// arrive in minor units already.
func (a *Adapter) Normalize(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.ResourceType) == "" || strings.TrimSpace(env.Action) == "" {
		return nil, fmt.Errorf("%w: missing event id, resource_type or action", paymentdomain.ErrInvalidPayload)
	}

	event := &paymentdomain.PaymentEvent{
		Provider:        paymentdomain.ProviderDirectDebit,
		ProviderEventID: env.ID,
		Reference:       env.Details.Reference,
		Amount:          env.Details.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(env.Details.Currency)),
		RawPayload:      payload,
	}
	if env.CreatedAt != "" {
		if occurred, err := time.Parse(time.RFC3339, env.CreatedAt); err == nil {
			event.OccurredAt = occurred.UTC()
		}
	}

	switch env.ResourceType + "/" + env.Action {
	case "payments/confirmed", "payments/paid_out":
		event.Kind = paymentdomain.EventKindPaymentSucceeded
		event.TransactionID = env.Links.Payment
	case "payments/failed":
		event.Kind = paymentdomain.EventKindPaymentFailed
		event.TransactionID = env.Links.Payment
	case "payments/cancelled":
		event.Kind = paymentdomain.EventKindPaymentCanceled
		event.TransactionID = env.Links.Payment
	case "refunds/created":
		event.Kind = paymentdomain.EventKindRefunded
		event.TransactionID = firstNonEmpty(env.Links.Payment, env.Links.Refund)
	case "subscriptions/created":
		event.Kind = paymentdomain.EventKindSubscriptionCreated
		event.SubscriptionID = env.Links.Subscription
	case "subscriptions/amended":
		event.Kind = paymentdomain.EventKindSubscriptionUpdated
		event.SubscriptionID = env.Links.Subscription
	case "subscriptions/cancelled", "subscriptions/finished":
		event.Kind = paymentdomain.EventKindSubscriptionCanceled
		event.SubscriptionID = env.Links.Subscription
	default:
		return nil, fmt.Errorf("%w: %s/%s", paymentdomain.ErrEventIgnored, env.ResourceType, env.Action)
	}

	return event, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
