package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/opsledger/internal/app"
	"github.com/odyssey-erp/opsledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/opsledger/internal/jobs"
	"github.com/odyssey-erp/opsledger/internal/masterdata"
	"github.com/odyssey-erp/opsledger/internal/platform/cache"
	"github.com/odyssey-erp/opsledger/internal/platform/db"
	"github.com/odyssey-erp/opsledger/internal/reporting"
	"github.com/odyssey-erp/opsledger/jobs"
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
		logger.Warn("redis unavailable, report cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := jobmetrics.NewMetrics(nil)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), nil, nil, logger)
	reportingService := reporting.NewService(reporting.NewRepository(pool), reporting.NewCache(redisClient, cfg.ReportCacheTTL), logger)
	directory := masterdata.NewService(masterdata.NewRepository(pool))

	lowStockJob := jobs.NewLowStockScanJob(inventoryService, nil, logger, metrics)
	warmupJob := jobs.NewReportWarmupJob(reportingService, directory, logger, metrics)

	lowStockTask, err := jobs.NewLowStockScanTask(0)
	if err != nil {
		logger.Error("build low stock task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewReportWarmupTask(cfg.ReportWarmupMonths)
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLowStockScan, Handler: lowStockJob.Handle},
			{Type: jobs.TaskReportWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.LowStockScanCron, Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.ReportWarmupCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
