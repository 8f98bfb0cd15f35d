package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"hpcjobs-controlplane/pkg/config"
	"hpcjobs-controlplane/pkg/db"
	"hpcjobs-controlplane/pkg/logger"
	"hpcjobs-controlplane/pkg/objectstore"
	"hpcjobs-controlplane/pkg/redis"
	"hpcjobs-controlplane/pkg/task"
	"hpcjobs-controlplane/services/job"
	"hpcjobs-controlplane/services/quota"
	"hpcjobs-controlplane/services/system"
	"hpcjobs-controlplane/services/transfer"
	"hpcjobs-controlplane/services/worker"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		objectstore.Client,
		fx.Provide(
			provideSnowflakeNode,
		),
		fx.Invoke(migrate, registerDBTelemetry),
		job.Module,
		system.Module,
		quota.Module,
		transfer.Module,
		worker.Module,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&job.Job{}, &job.JobEvent{}, &system.System{})
}

func registerDBTelemetry(gdb *gorm.DB, cfg *config.Config) error {
	if err := db.Otel(gdb); err != nil {
		return err
	}
	return db.Metric(gdb, cfg.Database.DBNAME)
}
