package relay

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/commercekit/paygate/internal/events"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type capturePublisher struct {
	rows []Row
}

func (p *capturePublisher) Publish(ctx context.Context, row Row) error {
	p.rows = append(p.rows, row)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
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
	return db
}

func TestRunOnceDrainsAndMarksPublished(t *testing.T) {
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	outbox := events.NewOutbox(db, node)

	ctx := context.Background()
	for i, eventType := range []string{events.EventOrderPaid, events.EventOrderRefunded} {
		err := outbox.Publish(ctx, events.Event{
			OrderID:   snowflake.ID(i + 1),
			Type:      eventType,
			Payload:   map[string]any{"status": eventType},
			DedupeKey: eventType,
		})
		if err != nil {
			t.Fatalf("publish %s: %v", eventType, err)
		}
	}

	publisher := &capturePublisher{}
	worker := NewWorker(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Publisher: publisher,
	})

	delivered, err := worker.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if delivered != 2 {
		t.Fatalf("expected 2 delivered, got %d", delivered)
	}
	if len(publisher.rows) != 2 {
		t.Fatalf("expected 2 published rows, got %d", len(publisher.rows))
	}

	delivered, err = worker.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("expected drained outbox, got %d", delivered)
	}

	var remaining int64
	if err := db.Raw("SELECT COUNT(*) FROM order_events WHERE published = false").Scan(&remaining).Error; err != nil {
		t.Fatalf("count unpublished: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected all rows published, got %d unpublished", remaining)
	}
}

func TestOutboxDedupeKeySkipsDuplicates(t *testing.T) {
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	outbox := events.NewOutbox(db, node)

	ctx := context.Background()
	event := events.Event{
		OrderID:   snowflake.ID(1),
		Type:      events.EventOrderPaid,
		Payload:   map[string]any{"status": "paid"},
		DedupeKey: "card:evt_1",
	}
	if err := outbox.Publish(ctx, event); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := outbox.Publish(ctx, event); err != nil {
		t.Fatalf("duplicate publish: %v", err)
	}

	var count int64
	if err := db.Raw("SELECT COUNT(*) FROM order_events").Scan(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected dedupe to keep one row, got %d", count)
	}
}
