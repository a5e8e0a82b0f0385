package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/commercekit/paygate/internal/audit"
	"github.com/commercekit/paygate/internal/clock"
	"github.com/commercekit/paygate/internal/config"
	"github.com/commercekit/paygate/internal/credential"
	"github.com/commercekit/paygate/internal/events/relay"
	"github.com/commercekit/paygate/internal/migration"
	"github.com/commercekit/paygate/internal/observability"
	"github.com/commercekit/paygate/internal/order"
	"github.com/commercekit/paygate/internal/payment"
	"github.com/commercekit/paygate/internal/seed"
	"github.com/commercekit/paygate/internal/server"
	"github.com/commercekit/paygate/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,

		fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.RunMigrations(sqlDB); err != nil {
				return err
			}
			if !cfg.IsProduction() {
				return seed.EnsureDevFixtures(conn)
			}
			return nil
		}),

		order.Module,
		credential.Module,
		audit.Module,
		payment.Module,
		relay.Module,
		server.Module,
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
