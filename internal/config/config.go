package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every startup knob for the gateway. It is loaded once and
// injected through fx; nothing in the request path re-reads the environment.
type Config struct {
	Environment    string
	ServiceName    string
	ServiceVersion string

	HTTPAddr        string
	ShutdownTimeout time.Duration

	DatabaseDSN string

	LogLevel string

	// SkipVerification disables webhook signature checks. Only honored
	// outside production; Validate rejects the unsafe combination.
	SkipVerification bool

	// SessionFallbackEnabled allows the last-resort "sole pending order in
	// session" lookup. Off by default; checkout reference tokens are the
	// supported correlation path.
	SessionFallbackEnabled bool

	// CardSignatureTolerance bounds the age of the card provider's signed
	// timestamp. Deliveries outside the window are rejected as replays.
	CardSignatureTolerance time.Duration

	// WalletHTTPTimeout bounds the wallet provider's token and remote
	// verification calls.
	WalletHTTPTimeout time.Duration

	TracingEnabled   bool
	TracingEndpoint  string
	TracingProtocol  string
	TracingSampling  float64
	MetricsNamespace string
}

const (
	defaultHTTPAddr        = ":8080"
	defaultShutdownTimeout = 15 * time.Second
	defaultCardTolerance   = 5 * time.Minute
	defaultWalletTimeout   = 10 * time.Second
)

// Load reads configuration from the environment. A local .env file is applied
// first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:            envString("PAYGATE_ENV", "development"),
		ServiceName:            envString("PAYGATE_SERVICE_NAME", "paygate"),
		ServiceVersion:         envString("PAYGATE_SERVICE_VERSION", "dev"),
		HTTPAddr:               envString("PAYGATE_HTTP_ADDR", defaultHTTPAddr),
		ShutdownTimeout:        envDuration("PAYGATE_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		DatabaseDSN:            envString("PAYGATE_DATABASE_DSN", ""),
		LogLevel:               envString("PAYGATE_LOG_LEVEL", "info"),
		SkipVerification:       envBool("PAYGATE_SKIP_VERIFICATION", false),
		SessionFallbackEnabled: envBool("PAYGATE_SESSION_FALLBACK", false),
		CardSignatureTolerance: envDuration("PAYGATE_CARD_SIGNATURE_TOLERANCE", defaultCardTolerance),
		WalletHTTPTimeout:      envDuration("PAYGATE_WALLET_HTTP_TIMEOUT", defaultWalletTimeout),
		TracingEnabled:         envBool("PAYGATE_TRACING_ENABLED", false),
		TracingEndpoint:        envString("PAYGATE_TRACING_ENDPOINT", ""),
		TracingProtocol:        envString("PAYGATE_TRACING_PROTOCOL", "grpc"),
		TracingSampling:        envFloat("PAYGATE_TRACING_SAMPLING", 0.1),
		MetricsNamespace:       envString("PAYGATE_METRICS_NAMESPACE", "paygate"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that must never reach a live deployment.
func (c Config) Validate() error {
	if c.IsProduction() && c.SkipVerification {
		return fmt.Errorf("config: PAYGATE_SKIP_VERIFICATION cannot be enabled in production")
	}
	if c.CardSignatureTolerance <= 0 {
		return fmt.Errorf("config: card signature tolerance must be positive")
	}
	if c.WalletHTTPTimeout <= 0 {
		return fmt.Errorf("config: wallet http timeout must be positive")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func envString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
