package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/commercekit/paygate/internal/audit/domain"
	auditrepo "github.com/commercekit/paygate/internal/audit/repository"
	auditservice "github.com/commercekit/paygate/internal/audit/service"
	"github.com/commercekit/paygate/internal/clock"
	"github.com/commercekit/paygate/internal/config"
	credentialdomain "github.com/commercekit/paygate/internal/credential/domain"
	credentialservice "github.com/commercekit/paygate/internal/credential/service"
	"github.com/commercekit/paygate/internal/events"
	"github.com/commercekit/paygate/internal/observability/metrics"
	orderdomain "github.com/commercekit/paygate/internal/order/domain"
	orderrepo "github.com/commercekit/paygate/internal/order/repository"
	"github.com/commercekit/paygate/internal/payment/adapters"
	"github.com/commercekit/paygate/internal/payment/adapters/card"
	"github.com/commercekit/paygate/internal/payment/adapters/directdebit"
	paymentdomain "github.com/commercekit/paygate/internal/payment/domain"
	paymentrepo "github.com/commercekit/paygate/internal/payment/repository"
	paymentservice "github.com/commercekit/paygate/internal/payment/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	cardSecret = "whsec_test"
	ddSecret   = "dd_secret"
)

var testNow = time.Unix(1700000000, 0)

type fixture struct {
	db     *gorm.DB
	engine *gin.Engine
	node   *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&orderdomain.Order{},
		&credentialdomain.WebhookCredential{},
		&paymentdomain.EventRecord{},
		&auditdomain.AuditLog{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// AutoMigrate does not create the dedupe index from 0001_init.up.sql that
	// the event upsert's ON CONFLICT clause targets.
	err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_events_provider_event
		ON payment_events (provider, provider_event_id)`).Error
	if err != nil {
		t.Fatalf("create payment_events index: %v", err)
	}
	err = db.Exec(`CREATE TABLE order_events (
		id INTEGER PRIMARY KEY,
		order_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		dedupe_key TEXT,
		published BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (order_id, dedupe_key)
	)`).Error
	if err != nil {
		t.Fatalf("create order_events: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	cfg := config.Config{
		Environment:            "test",
		ServiceName:            "paygate",
		ServiceVersion:         "test",
		CardSignatureTolerance: 5 * time.Minute,
		WalletHTTPTimeout:      time.Second,
	}
	log := zap.NewNop()
	clk := clock.Fixed{At: testNow}

	registry := adapters.NewRegistry(
		card.NewFactory(clk, cfg.CardSignatureTolerance),
		directdebit.NewFactory(),
	)

	svc := paymentservice.NewService(paymentservice.Params{
		Config:   cfg,
		DB:       db,
		GenID:    node,
		Clock:    clk,
		Log:      log,
		Registry: registry,
		Events:   paymentrepo.Provide(),
		Orders:   orderrepo.Provide(),
		Credentials: credentialservice.NewService(credentialservice.Params{
			DB:  db,
			Log: log,
		}),
		Outbox: events.NewOutbox(db, node),
		Audit: auditservice.NewService(auditservice.Params{
			DB:    db,
			GenID: node,
			Log:   log,
			Repo:  auditrepo.Provide(),
		}),
		Metrics: metrics.Webhook(),
	})

	engine := gin.New()
	srv := NewServer(Params{
		Config:     cfg,
		Log:        log,
		DB:         db,
		Engine:     engine,
		PaymentSvc: svc,
	})
	srv.RegisterRoutes()

	return &fixture{db: db, engine: engine, node: node}
}

func (f *fixture) seedCredential(t *testing.T, provider string, keys map[string]any) {
	t.Helper()
	row := &credentialdomain.WebhookCredential{
		ID:       f.node.Generate(),
		Provider: provider,
		Mode:     credentialdomain.ModeTest,
		Keys:     datatypes.JSONMap(keys),
		IsActive: true,
	}
	if err := f.db.Create(row).Error; err != nil {
		t.Fatalf("seed credential: %v", err)
	}
}

func (f *fixture) seedOrder(t *testing.T, order *orderdomain.Order) {
	t.Helper()
	if err := orderrepo.Provide().Insert(context.Background(), f.db, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func (f *fixture) post(t *testing.T, path string, body []byte, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for name, values := range headers {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	recorder := httptest.NewRecorder()
	f.engine.ServeHTTP(recorder, req)
	return recorder
}

func cardHeaders(payload []byte) http.Header {
	mac := hmac.New(sha256.New, []byte(cardSecret))
	mac.Write([]byte(strconv.FormatInt(testNow.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	headers := http.Header{}
	headers.Set(card.SignatureHeader, fmt.Sprintf("t=%d,v1=%s", testNow.Unix(), hex.EncodeToString(mac.Sum(nil))))
	return headers
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", recorder.Body.String(), err)
	}
	return body
}

func TestCardWebhookMarksOrderPaid(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, paymentdomain.ProviderCard, map[string]any{"webhook_secret": cardSecret})
	f.seedOrder(t, &orderdomain.Order{
		ID:                f.node.Generate(),
		CheckoutReference: "ref-abc",
		PaymentMethod:     paymentdomain.ProviderCard,
		PaymentStatus:     orderdomain.PaymentStatusPending,
		TotalAmount:       4999,
		Currency:          "EUR",
	})

	payload := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_123",
			"amount": 4999,
			"amount_received": 4999,
			"currency": "eur",
			"latest_charge": "ch_123",
			"metadata": {"order_reference": "ref-abc"}
		}}
	}`)

	recorder := f.post(t, "/webhooks/card-webhook", payload, cardHeaders(payload))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if got := decodeBody(t, recorder)["message"]; got != "Payment processed successfully" {
		t.Fatalf("unexpected message %q", got)
	}

	var order orderdomain.Order
	if err := f.db.First(&order, "checkout_reference = ?", "ref-abc").Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if order.PaymentStatus != orderdomain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", order.PaymentStatus)
	}
	if order.MetadataString(orderdomain.MetaTransactionID) != "ch_123" {
		t.Fatalf("expected transaction metadata, got %q", order.MetadataString(orderdomain.MetaTransactionID))
	}
}

func TestCardWebhookReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, paymentdomain.ProviderCard, map[string]any{"webhook_secret": cardSecret})
	f.seedOrder(t, &orderdomain.Order{
		ID:                f.node.Generate(),
		CheckoutReference: "ref-replay",
		PaymentMethod:     paymentdomain.ProviderCard,
		PaymentStatus:     orderdomain.PaymentStatusPending,
		TotalAmount:       4999,
		Currency:          "EUR",
	})

	payload := []byte(`{
		"id": "evt_2",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_2",
			"amount_received": 4999,
			"currency": "eur",
			"latest_charge": "ch_2",
			"metadata": {"order_reference": "ref-replay"}
		}}
	}`)
	headers := cardHeaders(payload)

	first := f.post(t, "/webhooks/card-webhook", payload, headers)
	if first.Code != http.StatusOK {
		t.Fatalf("first delivery: expected 200, got %d", first.Code)
	}
	second := f.post(t, "/webhooks/card-webhook", payload, headers)
	if second.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d", second.Code)
	}
	if got := decodeBody(t, second)["message"]; got != "Event already processed" {
		t.Fatalf("expected duplicate ack, got %q", got)
	}

	var count int64
	if err := f.db.Model(&paymentdomain.EventRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one stored delivery, got %d", count)
	}
}

func TestCardWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, paymentdomain.ProviderCard, map[string]any{"webhook_secret": cardSecret})

	payload := []byte(`{"id":"evt_3","type":"payment_intent.succeeded","data":{"object":{"id":"pi_3"}}}`)
	headers := http.Header{}
	headers.Set(card.SignatureHeader, fmt.Sprintf("t=%d,v1=deadbeef", testNow.Unix()))

	recorder := f.post(t, "/webhooks/card-webhook", payload, headers)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if got := decodeBody(t, recorder)["message"]; got != "Invalid signature" {
		t.Fatalf("unexpected error body %q", got)
	}
}

func TestCardWebhookIgnoresUnknownEventType(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, paymentdomain.ProviderCard, map[string]any{"webhook_secret": cardSecret})

	payload := []byte(`{"id":"evt_4","type":"product.created","data":{"object":{}}}`)
	recorder := f.post(t, "/webhooks/card-webhook", payload, cardHeaders(payload))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if got := decodeBody(t, recorder)["message"]; got != "Event ignored" {
		t.Fatalf("expected ignored ack, got %q", got)
	}
}

func TestCardWebhookAcksUnmatchedOrder(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, paymentdomain.ProviderCard, map[string]any{"webhook_secret": cardSecret})

	payload := []byte(`{
		"id": "evt_5",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_5",
			"amount_received": 1000,
			"currency": "eur",
			"latest_charge": "ch_5"
		}}
	}`)
	recorder := f.post(t, "/webhooks/card-webhook", payload, cardHeaders(payload))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if got := decodeBody(t, recorder)["message"]; got != "Order not found" {
		t.Fatalf("expected not-found ack, got %q", got)
	}
}

func TestUnknownWebhookRouteIsRejected(t *testing.T) {
	f := newFixture(t)

	recorder := f.post(t, "/webhooks/crypto-webhook", []byte(`{}`), http.Header{})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if got := decodeBody(t, recorder)["message"]; got != "Invalid request" {
		t.Fatalf("expected generic body, got %q", got)
	}
}

func TestMalformedBodyIsRejected(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, paymentdomain.ProviderCard, map[string]any{"webhook_secret": cardSecret})

	payload := []byte(`{"id": "evt_6",`)
	recorder := f.post(t, "/webhooks/card-webhook", payload, cardHeaders(payload))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if got := decodeBody(t, recorder)["message"]; got != "Invalid request" {
		t.Fatalf("unexpected error body %q", got)
	}
}

func TestDirectDebitWebhookEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, paymentdomain.ProviderDirectDebit, map[string]any{"webhook_secret": ddSecret})
	f.seedOrder(t, &orderdomain.Order{
		ID:                f.node.Generate(),
		CheckoutReference: "ref-dd",
		PaymentMethod:     paymentdomain.ProviderDirectDebit,
		PaymentStatus:     orderdomain.PaymentStatusPending,
		TotalAmount:       2500,
		Currency:          "GBP",
	})

	payload := []byte(`{
		"id": "EV1",
		"resource_type": "payments",
		"action": "confirmed",
		"links": {"payment": "PM1"},
		"details": {"amount": 2500, "currency": "GBP", "reference": "ref-dd"}
	}`)
	mac := hmac.New(sha256.New, []byte(ddSecret))
	mac.Write(payload)
	headers := http.Header{}
	headers.Set(directdebit.SignatureHeader, hex.EncodeToString(mac.Sum(nil)))

	recorder := f.post(t, "/webhooks/directdebit-webhook", payload, headers)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var order orderdomain.Order
	if err := f.db.First(&order, "checkout_reference = ?", "ref-dd").Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if order.PaymentStatus != orderdomain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", order.PaymentStatus)
	}
}
