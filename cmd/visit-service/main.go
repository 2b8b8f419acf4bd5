package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arogya-health/clinic-platform/pkg/attachments"
	"github.com/arogya-health/clinic-platform/pkg/common/config"
	"github.com/arogya-health/clinic-platform/pkg/common/database"
	"github.com/arogya-health/clinic-platform/pkg/common/kafka"
	"github.com/arogya-health/clinic-platform/pkg/common/logger"
	"github.com/arogya-health/clinic-platform/pkg/observability/metrics"
	"github.com/arogya-health/clinic-platform/pkg/visits"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init("visit-service")
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	visitRepo := visits.NewRepository(db)
	if err := visitRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate visit tables")
	}
	attachmentRepo := attachments.NewRepository(db)
	if err := attachmentRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate attachment tables")
	}

	policy, err := attachments.LoadPolicy(cfg.AttachmentPolicy)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load attachment policy")
	}
	sanitizer := attachments.NewSanitizer(cfg.UploadRoot, policy)

	producer := kafka.NewProducer(cfg.VisitEventTopic)
	defer producer.Close()

	cache := visits.NewRedisStatsCache(database.GetRedis(), cfg.StatisticsCacheTTL)

	service := visits.NewService(visitRepo, attachmentRepo, sanitizer, producer, cache, visits.Limits{
		MaxFileBytes:  cfg.UploadMaxFileBytes,
		MaxFilesPerOp: cfg.UploadMaxFilesPerOp,
	})
	handler := visits.NewHandler(service, cfg.UploadMaxFileBytes)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Visit service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start visit service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down visit service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Visit service forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("Failed to close postgres connection")
	}
	logger.Log.Info("Visit service stopped")
}
