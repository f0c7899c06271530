package main

import (
	"rewards-platform/pkg/config"
	"rewards-platform/pkg/db"
	"rewards-platform/pkg/gen"
	"rewards-platform/pkg/httpapi"
	"rewards-platform/pkg/logger"
	"rewards-platform/pkg/redis"
	"rewards-platform/pkg/sequence"
	"rewards-platform/pkg/task"
	"rewards-platform/services/account"
	"rewards-platform/services/award"
	"rewards-platform/services/budget"
	"rewards-platform/services/catalog"
	"rewards-platform/services/inventory"
	"rewards-platform/services/redemption"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	fx.New(
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		redis.Module,
		sequence.Module,
		task.Client,
		task.Server,

		account.Module,
		catalog.Module,
		inventory.Module,
		budget.Module,
		award.Module,
		redemption.Module,

		httpapi.Module,

		fx.Invoke(autoMigrate),
		fx.NopLogger,
	).Run()
}

func autoMigrate(cfg *config.Config, gdb *gorm.DB) {
	if !cfg.Database.AutoMigrate {
		return
	}

	if err := gdb.AutoMigrate(
		&account.PointsAccount{},
		&account.PointsTransaction{},
		&award.EventPool{},
		&award.EventParticipant{},
		&budget.AdminBudget{},
		&catalog.ProductPricing{},
		&inventory.InventoryItem{},
		&redemption.Redemption{},
	); err != nil {
		zap.L().Fatal("auto migration failed", zap.Error(err))
	}
}
