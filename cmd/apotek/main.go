package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/apotek-pos/apotek-pos/internal/app"
	"github.com/apotek-pos/apotek-pos/internal/audit"
	"github.com/apotek-pos/apotek-pos/internal/catalog"
	"github.com/apotek-pos/apotek-pos/internal/insights"
	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/observability"
	"github.com/apotek-pos/apotek-pos/internal/platform/cache"
	"github.com/apotek-pos/apotek-pos/internal/platform/db"
	"github.com/apotek-pos/apotek-pos/internal/procurement"
	"github.com/apotek-pos/apotek-pos/internal/returns"
	"github.com/apotek-pos/apotek-pos/internal/sales"
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

	auditLogger := shared.NewAuditLogger(pool)
	sequences := shared.NewSequenceService(pool)
	idempotency := shared.NewIdempotencyStore(pool)
	metrics := observability.NewMetrics()

	availabilityCache := ledger.NewAvailabilityCache(redisClient, cfg.AvailabilityCacheTTL)
	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, availabilityCache, ledger.ServiceConfig{
		NearExpiryThreshold: cfg.NearExpiryThreshold(),
	})

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, auditLogger)

	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(procurementRepo, catalogService, sequences, ledgerService, auditLogger, idempotency)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, catalogService, sequences, ledgerService, auditLogger)

	returnsRepo := returns.NewRepository(pool)
	returnsService := returns.NewService(returnsRepo, salesService, sequences, ledgerService, auditLogger)

	auditService := audit.NewService(audit.NewPgRepository(pool))

	insightsCache := insights.NewAnalysisCache(redisClient, cfg.InsightsCacheTTL)
	insightsService := insights.NewService(insights.NewPgRepository(pool), insightsCache, insights.MinerConfig{
		MinSupport:    cfg.InsightsMinSupport,
		MinConfidence: cfg.InsightsMinConfidence,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Pool:               pool,
		CatalogHandler:     catalog.NewHandler(logger, catalogService),
		LedgerHandler:      ledger.NewHandler(logger, ledgerService, metrics),
		ProcurementHandler: procurement.NewHandler(logger, procurementService, metrics),
		SalesHandler:       sales.NewHandler(logger, salesService, metrics),
		ReturnsHandler:     returns.NewHandler(logger, returnsService, metrics),
		AuditHandler:       audit.NewHandler(logger, auditService),
		InsightsHandler:    insights.NewHandler(insightsService),
		JobsHandler:        jobs.NewHandler(inspector, jobsClient, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
