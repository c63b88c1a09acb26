package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sitecert-cpm/sitecert/internal/app"
	"github.com/sitecert-cpm/sitecert/internal/billing"
	"github.com/sitecert-cpm/sitecert/internal/boq"
	"github.com/sitecert-cpm/sitecert/internal/measure"
	"github.com/sitecert-cpm/sitecert/internal/platform/cache"
	"github.com/sitecert-cpm/sitecert/internal/platform/db"
	"github.com/sitecert-cpm/sitecert/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
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

	boqRepo := boq.NewRepository(pool)
	measureRepo := measure.NewRepository(pool)
	measureService := measure.NewService(measureRepo, boqRepo, nil)

	summaryCache := billing.NewSummaryCache(redisClient, cfg.SummaryTTL)
	billingRepo := billing.NewRepository(pool, boqRepo)
	billingService := billing.NewService(billingRepo, boqRepo, measureService, nil, nil, summaryCache, cfg.BillingPolicy())

	integrity := jobs.NewLedgerIntegrityChecker(boqRepo, logger)
	warmer := jobs.NewSummaryWarmer(pool, billingService, logger)

	integrityTask, err := jobs.NewLedgerIntegrityTask(jobs.LedgerIntegrityPayload{})
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerIntegrity, Handler: integrity.Handler()},
			{Type: jobs.TaskSummaryWarmup, Handler: warmer.Handler()},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 1 * * *", Task: jobs.NewSummaryWarmupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
