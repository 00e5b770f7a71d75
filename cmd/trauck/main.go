package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/barva88/trauck/internal/audit"
	"github.com/barva88/trauck/internal/catalog"
	"github.com/barva88/trauck/internal/clock"
	appconfig "github.com/barva88/trauck/internal/config"
	"github.com/barva88/trauck/internal/events"
	gatewaystripe "github.com/barva88/trauck/internal/gateway/stripe"
	"github.com/barva88/trauck/internal/metering"
	"github.com/barva88/trauck/internal/migration"
	"github.com/barva88/trauck/internal/notification"
	"github.com/barva88/trauck/internal/observability"
	"github.com/barva88/trauck/internal/observability/logger"
	"github.com/barva88/trauck/internal/order"
	orderexpiry "github.com/barva88/trauck/internal/order/expiry"
	"github.com/barva88/trauck/internal/payment"
	"github.com/barva88/trauck/internal/refund"
	"github.com/barva88/trauck/internal/seed"
	"github.com/barva88/trauck/internal/server"
	"github.com/barva88/trauck/internal/wallet"
	"github.com/barva88/trauck/pkg/db"
)

func main() {
	app := fx.New(
		appconfig.Module,
		logger.Module,
		observability.Module,
		clock.Module,
		db.Module,
		fx.Provide(func() (*snowflake.Node, error) {
			return snowflake.NewNode(1)
		}),
		fx.Invoke(runMigrations),
		fx.Invoke(seedCatalog),
		events.Module,
		audit.Module,
		notification.Module,
		wallet.Module,
		catalog.Module,
		order.Module,
		orderexpiry.Module,
		metering.Module,
		gatewaystripe.Module,
		refund.Module,
		payment.Module,
		server.Module,
	)

	app.Run()
}

func runMigrations(conn *gorm.DB, log *zap.Logger) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := migration.RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("database migrations applied")
	return nil
}

func seedCatalog(conn *gorm.DB, cfg appconfig.Config, log *zap.Logger) error {
	if err := seed.EnsureCatalog(conn, cfg.DefaultExamCostCredits); err != nil {
		return err
	}
	log.Info("catalog seeded")
	return nil
}
