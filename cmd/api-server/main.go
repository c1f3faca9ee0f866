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
	"github.com/meetscore/platform/pkg/gateway/httpclient"
	"github.com/meetscore/platform/pkg/gateway/middleware"
	"github.com/meetscore/platform/pkg/gateway/routes"
	"github.com/meetscore/platform/pkg/meetings"
	"github.com/meetscore/platform/pkg/polling"
	"github.com/meetscore/platform/pkg/transcripts"
	"github.com/meetscore/platform/pkg/webhooks"
)

type migrator interface {
	AutoMigrate() error
}

func main() {
	logger.Init("api-server")
	cfg := config.Load()

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()

	meetingRepo := meetings.NewRepository(db)
	chunkRepo := transcripts.NewRepository(db)
	reportRepo := analysis.NewRepository(db)
	eventRepo := webhooks.NewRepository(db)
	for name, repo := range map[string]migrator{
		"meetings":          meetingRepo,
		"transcript_chunks": chunkRepo,
		"reports":           reportRepo,
		"webhook_events":    eventRepo,
	} {
		if err := repo.AutoMigrate(); err != nil {
			logger.WithField("table", name).WithError(err).Fatal("failed to migrate table")
		}
	}

	redisClient := database.GetRedis(cfg)
	defer database.CloseRedis()

	if cfg.AttendeeAPIKey == "" {
		logger.Log.Warn("ATTENDEE_API_KEY not set, provider calls will be rejected")
	}
	provider := attendee.NewClient(cfg.AttendeeBaseURL, cfg.AttendeeAPIKey, httpclient.New(cfg.AttendeeRequestTimeout))

	webhookURL := cfg.WebhookURL()
	if webhookURL == "" {
		logger.Log.Warn("WEBHOOK_BASE_URL not set, new bots will be created without webhooks")
	}

	meetingService := meetings.NewService(meetings.NewValidator(), meetingRepo, provider, webhookURL)
	transcriptService := transcripts.NewService(chunkRepo, meetingService, provider)
	analysisService := analysis.NewService(
		reportRepo,
		meetingService,
		transcriptService,
		analysis.NewAnalyzerFromConfig(cfg),
		analysis.NewRedisCache(redisClient, cfg.ScorecardCacheTTL),
		analysis.Options{AutoTrigger: cfg.ScorecardAutoTrigger},
	)

	var completion meetings.CompletionHandler
	if cfg.KafkaEnabled {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.MeetingEventsTopic)
		defer producer.Close()
		completion = analysis.NewEventPublisher(producer)
		logger.WithField("topic", cfg.MeetingEventsTopic).Info("Completed meetings are analysed by the worker")
	} else {
		background := analysis.NewBackground(analysisService, cfg.AnalysisTimeout)
		defer background.Close()
		completion = background
	}
	meetingService.SetCompletionHandler(completion)

	webhookService := webhooks.NewService(eventRepo, meetingService, transcriptService, completion)

	meetingService.AddCleaner(transcriptService)
	meetingService.AddCleaner(analysisService)
	meetingService.AddCleaner(webhookService)

	job := polling.NewJob(meetingService, webhookService, cfg.PollingInterval, cfg.PollingStaleAfter)

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	routes.NewHealthHandler(map[string]routes.Check{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}).Register(router)

	auth := middleware.APIToken(cfg.APIToken)

	metricsRouter := router.NewRoute().Subrouter()
	metricsRouter.Use(auth)
	routes.NewMetricsHandler(db).Register(metricsRouter)

	botsRouter := router.PathPrefix("/api/v1/bots").Subrouter()
	botsRouter.Use(auth)
	meetings.NewHTTPHandler(meetingService, cfg.MaxRequestBody).Register(botsRouter)

	meetingRouter := router.PathPrefix("/meeting").Subrouter()
	meetingRouter.Use(auth)
	transcripts.NewHTTPHandler(transcriptService).Register(meetingRouter)
	analysis.NewHTTPHandler(analysisService).Register(meetingRouter)

	pollingRouter := router.PathPrefix("/polling").Subrouter()
	pollingRouter.Use(auth)
	polling.NewHTTPHandler(job).Register(pollingRouter)

	webhookRouter := router.PathPrefix("/webhook").Subrouter()
	verifier := webhooks.NewVerifier(cfg.WebhookSecret)
	if !verifier.Enabled() {
		logger.Log.Warn("WEBHOOK_SECRET not set, webhook signatures are not verified")
	}
	webhooks.NewHTTPHandler(webhookService, verifier, webhookURL, cfg.MaxRequestBody).Register(webhookRouter)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("API Server started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	go job.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down API Server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("API Server stopped")
}
