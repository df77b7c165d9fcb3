package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/apotek-pos/apotek-pos/internal/app"
	"github.com/apotek-pos/apotek-pos/internal/insights"
	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/platform/cache"
	"github.com/apotek-pos/apotek-pos/internal/platform/db"
	"github.com/apotek-pos/apotek-pos/internal/shared"
	"github.com/apotek-pos/apotek-pos/jobs"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := cache.Close(redisClient); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	availabilityCache := ledger.NewAvailabilityCache(redisClient, cfg.AvailabilityCacheTTL)
	ledgerService := ledger.NewService(ledger.NewRepository(pool), shared.NewAuditLogger(pool), availabilityCache, ledger.ServiceConfig{
		NearExpiryThreshold: cfg.NearExpiryThreshold(),
	})

	expiryJob := jobs.NewExpiryScanJob(ledgerService, logger, cfg.NearExpiryThreshold())
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, cfg.IdempotencyRetention)

	insightsCache := insights.NewAnalysisCache(redisClient, cfg.InsightsCacheTTL)
	insightsService := insights.NewService(insights.NewPgRepository(pool), insightsCache, insights.MinerConfig{
		MinSupport:    cfg.InsightsMinSupport,
		MinConfidence: cfg.InsightsMinConfidence,
	})
	warmupJob := jobs.NewInsightsWarmupJob(insightsService, logger)

	expiryTask, err := jobs.NewExpiryScanTask(jobs.ExpiryScanPayload{})
	if err != nil {
		logger.Error("build expiry task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{Retention: cfg.IdempotencyRetention})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewInsightsWarmupTask(jobs.InsightsWarmupPayload{WindowDays: cfg.InsightsWindowDays})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpiryScan, Handler: expiryJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
			{Type: jobs.TaskInsightsWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 6 * * *", Task: expiryTask},
			{Spec: "30 3 * * *", Task: cleanupTask},
			{Spec: "0 5 * * *", Task: warmupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
