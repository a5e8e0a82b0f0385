package relay

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Row is one stored order event waiting for delivery.
type Row struct {
	ID        snowflake.ID
	OrderID   snowflake.ID
	EventType string
	Payload   datatypes.JSONMap
	CreatedAt time.Time
}

// Publisher delivers drained outbox rows to whatever downstream consumes
// order events. The default publisher only logs; a broker publisher can be
// swapped in without touching the drain loop.
type Publisher interface {
	Publish(ctx context.Context, row Row) error
}

// LogPublisher emits each event as a structured log line. Useful for
// development and as the default until a broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("events.relay")}
}

func (p *LogPublisher) Publish(ctx context.Context, row Row) error {
	p.log.Info("order event",
		zap.Int64("order_id", int64(row.OrderID)),
		zap.String("event_type", row.EventType),
		zap.Any("payload", map[string]any(row.Payload)),
	)
	return nil
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Publisher Publisher
	Config    Config `optional:"true"`
}

// Worker drains unpublished order events in batches. Rows are locked with
// SKIP LOCKED so multiple instances never deliver the same event twice.
type Worker struct {
	db        *gorm.DB
	log       *zap.Logger
	publisher Publisher
	cfg       Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:        p.DB,
		log:       p.Log.Named("events.relay"),
		publisher: p.Publisher,
		cfg:       p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("outbox drain failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce drains at most one batch and reports how many rows it delivered.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	if w.db == nil || w.publisher == nil {
		return 0, errors.New("relay_unavailable")
	}

	delivered := 0
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := w.lockUnpublished(ctx, tx, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := w.publisher.Publish(ctx, row); err != nil {
				return err
			}
			if err := w.markPublished(ctx, tx, row.ID); err != nil {
				return err
			}
			delivered++
		}
		return nil
	})
	if err != nil {
		return delivered, err
	}
	return delivered, nil
}

func (w *Worker) lockUnpublished(ctx context.Context, tx *gorm.DB, limit int) ([]Row, error) {
	query := `SELECT id, order_id, event_type, payload, created_at
		 FROM order_events
		 WHERE published = false
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`
	if tx.Dialector.Name() == "postgres" {
		query = `SELECT id, order_id, event_type, payload, created_at
		 FROM order_events
		 WHERE published = false
		 ORDER BY created_at ASC, id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`
	}

	var rows []Row
	if err := tx.WithContext(ctx).Raw(query, limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (w *Worker) markPublished(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE order_events SET published = true WHERE id = ?`, id,
	).Error
}
