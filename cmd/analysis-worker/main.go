package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/meetscore/platform/pkg/analysis"
	"github.com/meetscore/platform/pkg/attendee"
	"github.com/meetscore/platform/pkg/common/config"
	"github.com/meetscore/platform/pkg/common/database"
	"github.com/meetscore/platform/pkg/common/kafka"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/gateway/httpclient"
	"github.com/meetscore/platform/pkg/gateway/routes"
	"github.com/meetscore/platform/pkg/meetings"
	"github.com/meetscore/platform/pkg/observability/metrics"
	"github.com/meetscore/platform/pkg/transcripts"
)

const workerPort = "8091"

func main() {
	logger.Init("analysis-worker")
	cfg := config.Load()

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()

	reportRepo := analysis.NewRepository(db)
	if err := reportRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate reports table")
	}

	redisClient := database.GetRedis(cfg)
	defer database.CloseRedis()

	provider := attendee.NewClient(cfg.AttendeeBaseURL, cfg.AttendeeAPIKey, httpclient.New(cfg.AttendeeRequestTimeout))
	meetingService := meetings.NewService(meetings.NewValidator(), meetings.NewRepository(db), provider, cfg.WebhookURL())
	transcriptService := transcripts.NewService(transcripts.NewRepository(db), meetingService, provider)
	analysisService := analysis.NewService(
		reportRepo,
		meetingService,
		transcriptService,
		analysis.NewAnalyzerFromConfig(cfg),
		analysis.NewRedisCache(redisClient, cfg.ScorecardCacheTTL),
		analysis.Options{AutoTrigger: cfg.ScorecardAutoTrigger},
	)

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.MeetingEventsTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	handler := analysis.EventHandler(analysisService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.WithField("topic", cfg.MeetingEventsTopic).Info("Consuming meeting events")
		if err := consumer.Consume(ctx, func(ctx context.Context, event models.Event) error {
			callCtx, callCancel := context.WithTimeout(ctx, cfg.AnalysisTimeout)
			defer callCancel()
			return handler(callCtx, event)
		}); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Fatal("consumer error")
		}
	}()

	router := mux.NewRouter()
	routes.NewHealthHandler(map[string]routes.Check{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}).Register(router)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, workerPort),
		Handler: router,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": workerPort,
		}).Info("Analysis Worker started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Analysis Worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Analysis Worker stopped")
}
