package card

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/commercekit/paygate/internal/clock"
	paymentdomain "github.com/commercekit/paygate/internal/payment/domain"
)

// SignatureHeader carries the card processor's timestamped signature:
// t=<unix>,v1=<hex>[,v1=<hex>...]. The signed string is "<t>.<raw body>".
const SignatureHeader = "Card-Signature"

const keyWebhookSecret = "webhook_secret"

const defaultTolerance = 5 * time.Minute

type Factory struct {
	clk       clock.Clock
	tolerance time.Duration
}

func NewFactory(clk clock.Clock, tolerance time.Duration) *Factory {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &Factory{clk: clk, tolerance: tolerance}
}

func (f *Factory) Provider() string { return paymentdomain.ProviderCard }

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := cfg.Credentials.Key(keyWebhookSecret)
	if secret == "" && !cfg.SkipVerification {
		return nil, fmt.Errorf("%w: card webhook_secret missing", paymentdomain.ErrInvalidProvider)
	}
	return &Adapter{
		secret:    secret,
		skip:      cfg.SkipVerification,
		clk:       f.clk,
		tolerance: f.tolerance,
	}, nil
}

type Adapter struct {
	secret    string
	skip      bool
	clk       clock.Clock
	tolerance time.Duration
}

// Verify checks the HMAC-SHA256 signature over "<timestamp>.<body>" and
// rejects timestamps outside the replay tolerance window.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.skip {
		return nil
	}

	header := strings.TrimSpace(headers.Get(SignatureHeader))
	if header == "" {
		return fmt.Errorf("%w: missing %s header", paymentdomain.ErrInvalidSignature, SignatureHeader)
	}

	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	now := a.clk.Now()
	age := now.Sub(time.Unix(timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > a.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", paymentdomain.ErrInvalidSignature)
	}

	expected := computeSignature(a.secret, timestamp, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", paymentdomain.ErrInvalidSignature)
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: malformed timestamp", paymentdomain.ErrInvalidSignature)
			}
			timestamp = parsed
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed signature header", paymentdomain.ErrInvalidSignature)
	}
	return timestamp, signatures, nil
}

func computeSignature(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object eventObject `json:"object"`
	} `json:"data"`
}

type eventObject struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	AmountRefunded int64             `json:"amount_refunded"`
	AmountPaid     int64             `json:"amount_paid"`
	Currency       string            `json:"currency"`
	LatestCharge   string            `json:"latest_charge"`
	PaymentIntent  string            `json:"payment_intent"`
	Subscription   string            `json:"subscription"`
	Metadata       map[string]string `json:"metadata"`
}

// Normalize maps the card processor's envelope into a PaymentEvent. Amounts
// arrive in minor units already.
func (a *Adapter) Normalize(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.Type) == "" {
		return nil, fmt.Errorf("%w: missing event id or type", paymentdomain.ErrInvalidPayload)
	}

	object := env.Data.Object
	event := &paymentdomain.PaymentEvent{
		Provider:        paymentdomain.ProviderCard,
		ProviderEventID: env.ID,
		Currency:        strings.ToUpper(strings.TrimSpace(object.Currency)),
		Reference:       object.Metadata["order_reference"],
		SessionID:       object.Metadata["session_id"],
		RawPayload:      payload,
	}
	if env.Created > 0 {
		event.OccurredAt = time.Unix(env.Created, 0).UTC()
	}

	switch env.Type {
	case "payment_intent.succeeded":
		event.Kind = paymentdomain.EventKindPaymentSucceeded
		event.TransactionID = firstNonEmpty(object.LatestCharge, object.ID)
		event.ProviderOrderID = object.ID
		event.Amount = firstPositive(object.AmountReceived, object.Amount)
	case "payment_intent.payment_failed":
		event.Kind = paymentdomain.EventKindPaymentFailed
		event.TransactionID = firstNonEmpty(object.LatestCharge, object.ID)
		event.ProviderOrderID = object.ID
		event.Amount = object.Amount
	case "payment_intent.canceled":
		event.Kind = paymentdomain.EventKindPaymentCanceled
		event.TransactionID = firstNonEmpty(object.LatestCharge, object.ID)
		event.ProviderOrderID = object.ID
	case "charge.refunded":
		event.Kind = paymentdomain.EventKindRefunded
		event.TransactionID = object.ID
		event.ProviderOrderID = object.PaymentIntent
		event.Amount = object.AmountRefunded
	case "invoice.paid":
		event.Kind = paymentdomain.EventKindInvoicePaid
		event.TransactionID = object.ID
		event.SubscriptionID = object.Subscription
		event.Amount = object.AmountPaid
	case "invoice.payment_failed":
		event.Kind = paymentdomain.EventKindInvoiceFailed
		event.TransactionID = object.ID
		event.SubscriptionID = object.Subscription
	case "customer.subscription.created":
		event.Kind = paymentdomain.EventKindSubscriptionCreated
		event.SubscriptionID = object.ID
	case "customer.subscription.updated":
		event.Kind = paymentdomain.EventKindSubscriptionUpdated
		event.SubscriptionID = object.ID
	case "customer.subscription.deleted":
		event.Kind = paymentdomain.EventKindSubscriptionCanceled
		event.SubscriptionID = object.ID
	default:
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrEventIgnored, env.Type)
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

func firstPositive(values ...int64) int64 {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}
