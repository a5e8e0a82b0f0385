package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	paymentdomain "github.com/commercekit/paygate/internal/payment/domain"
	"github.com/shopspring/decimal"
)

// Wallet webhook deliveries carry a transmission envelope in headers; all
// five must be present before any network verification is attempted.
const (
	HeaderTransmissionID   = "Wallet-Transmission-Id"
	HeaderTransmissionTime = "Wallet-Transmission-Time"
	HeaderTransmissionSig  = "Wallet-Transmission-Sig"
	HeaderCertURL          = "Wallet-Cert-Url"
	HeaderAuthAlgo         = "Wallet-Auth-Algo"
)

const (
	keyClientID     = "client_id"
	keyClientSecret = "client_secret"
	keyWebhookID    = "webhook_id"
	keyAPIBaseURL   = "api_base_url"
	keyCertHost     = "cert_host"
)

var requiredHeaders = []string{
	HeaderTransmissionID,
	HeaderTransmissionTime,
	HeaderTransmissionSig,
	HeaderCertURL,
	HeaderAuthAlgo,
}

type Factory struct {
	tokens     *TokenClient
	httpClient *http.Client
}

func NewFactory(httpClient *http.Client, tokens *TokenClient) *Factory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if tokens == nil {
		tokens = NewTokenClient(httpClient, nil)
	}
	return &Factory{tokens: tokens, httpClient: httpClient}
}

func (f *Factory) Provider() string { return paymentdomain.ProviderWallet }

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	adapter := &Adapter{
		clientID:     cfg.Credentials.Key(keyClientID),
		clientSecret: cfg.Credentials.Key(keyClientSecret),
		webhookID:    cfg.Credentials.Key(keyWebhookID),
		apiBaseURL:   strings.TrimRight(cfg.Credentials.Key(keyAPIBaseURL), "/"),
		certHost:     cfg.Credentials.Key(keyCertHost),
		skip:         cfg.SkipVerification,
		tokens:       f.tokens,
		httpClient:   f.httpClient,
	}
	if !adapter.skip {
		if adapter.clientID == "" || adapter.clientSecret == "" || adapter.webhookID == "" || adapter.apiBaseURL == "" {
			return nil, fmt.Errorf("%w: wallet credentials incomplete", paymentdomain.ErrInvalidProvider)
		}
	}
	return adapter, nil
}

type Adapter struct {
	clientID     string
	clientSecret string
	webhookID    string
	apiBaseURL   string
	certHost     string
	skip         bool
	tokens       *TokenClient
	httpClient   *http.Client
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionTime string          `json:"transmission_time"`
	TransmissionSig  string          `json:"transmission_sig"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// Verify delegates signature verification to the wallet provider's
// verify-webhook-signature endpoint using a cached OAuth token. Transport
// failures surface as transient so the provider redelivers.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.skip {
		return nil
	}

	for _, name := range requiredHeaders {
		if strings.TrimSpace(headers.Get(name)) == "" {
			return fmt.Errorf("%w: missing %s header", paymentdomain.ErrInvalidSignature, name)
		}
	}

	certURL := headers.Get(HeaderCertURL)
	if err := a.checkCertURL(certURL); err != nil {
		return err
	}

	token, err := a.tokens.Token(ctx, a.apiBaseURL, a.clientID, a.clientSecret)
	if err != nil {
		return err
	}

	body := verifyRequest{
		AuthAlgo:         headers.Get(HeaderAuthAlgo),
		CertURL:          certURL,
		TransmissionID:   headers.Get(HeaderTransmissionID),
		TransmissionTime: headers.Get(HeaderTransmissionTime),
		TransmissionSig:  headers.Get(HeaderTransmissionSig),
		WebhookID:        a.webhookID,
		WebhookEvent:     json.RawMessage(payload),
	}

	status, err := a.postVerify(ctx, token, body)
	if err != nil {
		// One retry with a fresh token covers expiry races and transient
		// transport faults.
		a.tokens.Invalidate(a.clientID)
		token, tokenErr := a.tokens.Token(ctx, a.apiBaseURL, a.clientID, a.clientSecret)
		if tokenErr != nil {
			return tokenErr
		}
		status, err = a.postVerify(ctx, token, body)
		if err != nil {
			return err
		}
	}

	if status != "SUCCESS" {
		return fmt.Errorf("%w: verification status %s", paymentdomain.ErrInvalidSignature, status)
	}
	return nil
}

func (a *Adapter) postVerify(ctx context.Context, token string, body verifyRequest) (string, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", paymentdomain.ErrVerificationUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.apiBaseURL+"/v1/notifications/verify-webhook-signature",
		bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("%w: %v", paymentdomain.ErrVerificationUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: verify request: %v", paymentdomain.ErrVerificationUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: verify endpoint status %d", paymentdomain.ErrVerificationUnavailable, resp.StatusCode)
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: verify decode: %v", paymentdomain.ErrVerificationUnavailable, err)
	}
	return result.VerificationStatus, nil
}

// checkCertURL rejects certificate URLs pointing outside the wallet
// provider's domain before anything is fetched or forwarded.
func (a *Adapter) checkCertURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme != "https" || parsed.Hostname() == "" {
		return fmt.Errorf("%w: cert url must be https", paymentdomain.ErrInvalidSignature)
	}

	allowed := a.certHost
	if allowed == "" {
		base, err := url.Parse(a.apiBaseURL)
		if err != nil || base.Hostname() == "" {
			return fmt.Errorf("%w: cert url host not allowed", paymentdomain.ErrInvalidSignature)
		}
		allowed = strings.TrimPrefix(base.Hostname(), "api.")
	}

	host := parsed.Hostname()
	if host == allowed || strings.HasSuffix(host, "."+allowed) {
		return nil
	}
	return fmt.Errorf("%w: cert url host not allowed", paymentdomain.ErrInvalidSignature)
}

type envelope struct {
	ID         string   `json:"id"`
	EventType  string   `json:"event_type"`
	CreateTime string   `json:"create_time"`
	Resource   resource `json:"resource"`
}

type resource struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CustomID          string `json:"custom_id"`
	Amount            money  `json:"amount"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	BillingAgreementID string `json:"billing_agreement_id"`
}

type money struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

// Currencies the wallet provider quotes without a fractional part.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true,
	"XPF": true,
}

// Normalize maps the wallet provider's event envelope into a PaymentEvent.
// Amounts arrive as decimal strings and are converted to minor units.
func (a *Adapter) Normalize(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.EventType) == "" {
		return nil, fmt.Errorf("%w: missing event id or type", paymentdomain.ErrInvalidPayload)
	}

	event := &paymentdomain.PaymentEvent{
		Provider:        paymentdomain.ProviderWallet,
		ProviderEventID: env.ID,
		Reference:       env.Resource.CustomID,
		RawPayload:      payload,
	}
	if env.CreateTime != "" {
		if occurred, err := time.Parse(time.RFC3339, env.CreateTime); err == nil {
			event.OccurredAt = occurred.UTC()
		}
	}

	switch env.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		event.Kind = paymentdomain.EventKindPaymentSucceeded
		event.TransactionID = env.Resource.ID
		event.ProviderOrderID = env.Resource.SupplementaryData.RelatedIDs.OrderID
	case "PAYMENT.CAPTURE.DENIED":
		event.Kind = paymentdomain.EventKindPaymentFailed
		event.TransactionID = env.Resource.ID
		event.ProviderOrderID = env.Resource.SupplementaryData.RelatedIDs.OrderID
	case "PAYMENT.CAPTURE.REFUNDED":
		event.Kind = paymentdomain.EventKindRefunded
		event.TransactionID = env.Resource.ID
		event.ProviderOrderID = env.Resource.SupplementaryData.RelatedIDs.OrderID
	case "CHECKOUT.ORDER.APPROVED":
		event.Kind = paymentdomain.EventKindOrderApproved
		event.ProviderOrderID = env.Resource.ID
	case "CHECKOUT.ORDER.COMPLETED":
		event.Kind = paymentdomain.EventKindOrderCompleted
		event.ProviderOrderID = env.Resource.ID
	case "BILLING.SUBSCRIPTION.CREATED":
		event.Kind = paymentdomain.EventKindSubscriptionCreated
		event.SubscriptionID = env.Resource.ID
	case "BILLING.SUBSCRIPTION.UPDATED":
		event.Kind = paymentdomain.EventKindSubscriptionUpdated
		event.SubscriptionID = env.Resource.ID
	case "BILLING.SUBSCRIPTION.CANCELLED":
		event.Kind = paymentdomain.EventKindSubscriptionCanceled
		event.SubscriptionID = env.Resource.ID
	default:
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrEventIgnored, env.EventType)
	}

	if env.Resource.Amount.Value != "" {
		amount, currency, err := minorUnits(env.Resource.Amount)
		if err != nil {
			return nil, err
		}
		event.Amount = amount
		event.Currency = currency
	}

	return event, nil
}

func minorUnits(m money) (int64, string, error) {
	currency := strings.ToUpper(strings.TrimSpace(m.CurrencyCode))
	if currency == "" {
		return 0, "", fmt.Errorf("%w: missing currency code", paymentdomain.ErrInvalidCurrency)
	}

	value, err := decimal.NewFromString(m.Value)
	if err != nil {
		return 0, "", fmt.Errorf("%w: amount %q", paymentdomain.ErrInvalidAmount, m.Value)
	}
	if value.IsNegative() {
		return 0, "", fmt.Errorf("%w: negative amount", paymentdomain.ErrInvalidAmount)
	}

	exponent := int32(2)
	if zeroDecimalCurrencies[currency] {
		exponent = 0
	}
	scaled := value.Shift(exponent)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, "", fmt.Errorf("%w: amount %q exceeds currency precision", paymentdomain.ErrInvalidAmount, m.Value)
	}
	return scaled.IntPart(), currency, nil
}
