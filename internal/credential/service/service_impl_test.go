package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	credentialdomain "github.com/commercekit/paygate/internal/credential/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*gorm.DB, *snowflake.Node, credentialdomain.Service) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&credentialdomain.WebhookCredential{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	svc := NewService(Params{DB: db, Log: zap.NewNop()})
	return db, node, svc
}

func seedCredential(t *testing.T, db *gorm.DB, node *snowflake.Node, provider, mode, secret string, updatedAt time.Time) {
	t.Helper()
	row := &credentialdomain.WebhookCredential{
		ID:        node.Generate(),
		Provider:  provider,
		Mode:      mode,
		Keys:      datatypes.JSONMap{"webhook_secret": secret},
		IsActive:  true,
		UpdatedAt: updatedAt,
	}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("seed credential: %v", err)
	}
}

func TestGetCredentialsSelectsRequestedMode(t *testing.T) {
	db, node, svc := newTestService(t)
	now := time.Now().UTC()

	// The test row is fresher than the live one; the mode filter must win
	// over recency.
	seedCredential(t, db, node, "card", credentialdomain.ModeLive, "whsec_live", now.Add(-time.Hour))
	seedCredential(t, db, node, "card", credentialdomain.ModeTest, "whsec_test", now)

	live, err := svc.GetCredentials(context.Background(), "card", credentialdomain.ModeLive)
	if err != nil {
		t.Fatalf("get live credentials: %v", err)
	}
	if live.Mode != credentialdomain.ModeLive || live.Key("webhook_secret") != "whsec_live" {
		t.Fatalf("expected live secret, got mode=%s secret=%s", live.Mode, live.Key("webhook_secret"))
	}

	test, err := svc.GetCredentials(context.Background(), "card", credentialdomain.ModeTest)
	if err != nil {
		t.Fatalf("get test credentials: %v", err)
	}
	if test.Key("webhook_secret") != "whsec_test" {
		t.Fatalf("expected test secret, got %s", test.Key("webhook_secret"))
	}
}

func TestGetCredentialsMissingModeIsNotFound(t *testing.T) {
	db, node, svc := newTestService(t)
	seedCredential(t, db, node, "card", credentialdomain.ModeTest, "whsec_test", time.Now().UTC())

	_, err := svc.GetCredentials(context.Background(), "card", credentialdomain.ModeLive)
	if !errors.Is(err, credentialdomain.ErrCredentialsNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetCredentialsRejectsBlankMode(t *testing.T) {
	_, _, svc := newTestService(t)

	_, err := svc.GetCredentials(context.Background(), "card", "")
	if !errors.Is(err, credentialdomain.ErrCredentialsInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
}
