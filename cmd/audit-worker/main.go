package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/arogya-health/clinic-platform/pkg/audit"
	"github.com/arogya-health/clinic-platform/pkg/common/config"
	"github.com/arogya-health/clinic-platform/pkg/common/database"
	"github.com/arogya-health/clinic-platform/pkg/common/kafka"
	"github.com/arogya-health/clinic-platform/pkg/common/logger"
)

func main() {
	logger.Init("audit-worker")
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := audit.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate audit tables")
	}
	recorder := audit.NewRecorder(repo)

	consumer := kafka.NewConsumer(cfg.VisitEventTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Log.Info("Shutting down audit worker...")
		cancel()
	}()

	logger.Log.WithField("topic", cfg.VisitEventTopic).Info("Audit worker consuming")
	if err := consumer.Consume(ctx, recorder.Handle); err != nil && err != context.Canceled {
		logger.Log.WithError(err).Error("Audit worker stopped with error")
	}

	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("Failed to close postgres connection")
	}
	logger.Log.Info("Audit worker stopped")
}
