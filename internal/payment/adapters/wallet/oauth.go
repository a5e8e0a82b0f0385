package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/commercekit/paygate/internal/cache"
	paymentdomain "github.com/commercekit/paygate/internal/payment/domain"
)

const tokenSafetyMargin = 60 * time.Second

// TokenClient fetches and caches the wallet provider's client-credentials
// token. The cache is the only cross-request state in the pipeline.
type TokenClient struct {
	httpClient *http.Client
	tokens     cache.Cache[string, string]
}

func NewTokenClient(httpClient *http.Client, tokens cache.Cache[string, string]) *TokenClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if tokens == nil {
		tokens = cache.NewTTLCache[string, string]()
	}
	return &TokenClient{httpClient: httpClient, tokens: tokens}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token returns a bearer token for the wallet API, from cache when possible.
func (c *TokenClient) Token(ctx context.Context, baseURL, clientID, clientSecret string) (string, error) {
	if cached, ok := c.tokens.Get(clientID); ok {
		return cached, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/v1/oauth2/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", paymentdomain.ErrVerificationUnavailable, err)
	}
	req.SetBasicAuth(clientID, clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", paymentdomain.ErrVerificationUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint status %d", paymentdomain.ErrVerificationUnavailable, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("%w: token decode: %v", paymentdomain.ErrVerificationUnavailable, err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", fmt.Errorf("%w: empty access token", paymentdomain.ErrVerificationUnavailable)
	}

	ttl := time.Duration(token.ExpiresIn)*time.Second - tokenSafetyMargin
	if ttl > 0 {
		c.tokens.Set(clientID, token.AccessToken, ttl)
	}
	return token.AccessToken, nil
}

// Invalidate drops a cached token, forcing a refresh on next use.
func (c *TokenClient) Invalidate(clientID string) {
	c.tokens.Delete(clientID)
}
