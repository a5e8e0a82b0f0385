package db

import (
	"errors"

	"github.com/commercekit/paygate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// New opens the gorm connection used by every repository.
func New(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	if cfg.DatabaseDSN == "" {
		return nil, errors.New("db: PAYGATE_DATABASE_DSN is required")
	}

	conn, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	log.Info("database connection established")
	return conn, nil
}

var Module = fx.Module("db",
	fx.Provide(New),
)
