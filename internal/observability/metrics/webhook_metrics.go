package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics tracks webhook ingestion outcomes per provider.
type WebhookMetrics struct {
	webhooksReceived     *prometheus.CounterVec
	webhooksProcessed    *prometheus.CounterVec
	verificationFailures *prometheus.CounterVec
	processingDuration   *prometheus.HistogramVec
}

var (
	webhookMetricsOnce sync.Once
	webhookMetrics     *WebhookMetrics
)

func Webhook() *WebhookMetrics {
	return WebhookWithConfig(Config{})
}

func WebhookWithConfig(cfg Config) *WebhookMetrics {
	webhookMetricsOnce.Do(func() {
		webhookMetrics = newWebhookMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return webhookMetrics
}

func ResetWebhookMetricsForTest() {
	webhookMetricsOnce = sync.Once{}
	webhookMetrics = nil
}

func newWebhookMetrics(registerer prometheus.Registerer, cfg Config) *WebhookMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "paygate"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	webhooksReceived := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "paygate_webhooks_received_total",
			Help:        "Total webhook deliveries received per provider.",
			ConstLabels: constLabels,
		},
		[]string{"provider"},
	)

	webhooksProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "paygate_webhooks_processed_total",
			Help:        "Webhook deliveries by terminal outcome.",
			ConstLabels: constLabels,
		},
		// processed | duplicate | ignored | unmatched | rejected | failed
		[]string{"provider", "result"},
	)

	verificationFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "paygate_webhook_verification_failures_total",
			Help:        "Signature verification failures per provider.",
			ConstLabels: constLabels,
		},
		[]string{"provider"},
	)

	processingDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "paygate_webhook_processing_seconds",
			Help:        "End-to-end webhook processing latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		},
		[]string{"provider"},
	)

	registerer.MustRegister(
		webhooksReceived,
		webhooksProcessed,
		verificationFailures,
		processingDuration,
	)

	return &WebhookMetrics{
		webhooksReceived:     webhooksReceived,
		webhooksProcessed:    webhooksProcessed,
		verificationFailures: verificationFailures,
		processingDuration:   processingDuration,
	}
}

func (m *WebhookMetrics) IncReceived(provider string) {
	if m == nil {
		return
	}
	m.webhooksReceived.WithLabelValues(provider).Inc()
}

func (m *WebhookMetrics) IncProcessed(provider, result string) {
	if m == nil {
		return
	}
	m.webhooksProcessed.WithLabelValues(provider, result).Inc()
}

func (m *WebhookMetrics) IncVerificationFailure(provider string) {
	if m == nil {
		return
	}
	m.verificationFailures.WithLabelValues(provider).Inc()
}

func (m *WebhookMetrics) ObserveProcessing(provider string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.processingDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}
