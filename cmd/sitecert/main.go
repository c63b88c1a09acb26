package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sitecert-cpm/sitecert/internal/app"
	"github.com/sitecert-cpm/sitecert/internal/billing"
	"github.com/sitecert-cpm/sitecert/internal/boq"
	"github.com/sitecert-cpm/sitecert/internal/measure"
	"github.com/sitecert-cpm/sitecert/internal/observability"
	"github.com/sitecert-cpm/sitecert/internal/platform/cache"
	"github.com/sitecert-cpm/sitecert/internal/platform/db"
	"github.com/sitecert-cpm/sitecert/internal/shared"
	"github.com/sitecert-cpm/sitecert/internal/subcontract"
	"github.com/sitecert-cpm/sitecert/internal/variation"
	"github.com/sitecert-cpm/sitecert/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

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
		logger.Warn("redis unavailable, summary cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	metrics := observability.NewMetrics()

	boqRepo := boq.NewRepository(pool)
	boqService := boq.NewService(boqRepo)
	boqHandler := boq.NewHandler(logger, boqService)

	variationRepo := variation.NewRepository(pool, boqRepo)
	variationService := variation.NewService(variationRepo, boqRepo, approvalRecorder, auditLogger, idempotencyStore)
	variationHandler := variation.NewHandler(logger, variationService)

	measureRepo := measure.NewRepository(pool)
	measureService := measure.NewService(measureRepo, boqRepo, auditLogger)
	measureHandler := measure.NewHandler(logger, measureService)

	summaryCache := billing.NewSummaryCache(redisClient, cfg.SummaryTTL)
	billingRepo := billing.NewRepository(pool, boqRepo)
	billingService := billing.NewService(billingRepo, boqRepo, measureService, auditLogger, idempotencyStore, summaryCache, cfg.BillingPolicy())
	billingHandler := billing.NewHandler(logger, billingService, metrics)

	subcontractRepo := subcontract.NewRepository(pool)
	subcontractService := subcontract.NewService(subcontractRepo, boqRepo, measureService, approvalRecorder, auditLogger)
	subcontractHandler := subcontract.NewHandler(logger, subcontractService, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		BOQHandler:         boqHandler,
		VariationHandler:   variationHandler,
		BillingHandler:     billingHandler,
		SubcontractHandler: subcontractHandler,
		MeasureHandler:     measureHandler,
		JobHandler:         jobHandler,
		Pool:               pool,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
