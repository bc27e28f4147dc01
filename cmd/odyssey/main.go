package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/opsledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/opsledger/internal/allowances"
	"github.com/odyssey-erp/opsledger/internal/app"
	"github.com/odyssey-erp/opsledger/internal/inventory"
	"github.com/odyssey-erp/opsledger/internal/masterdata"
	"github.com/odyssey-erp/opsledger/internal/observability"
	"github.com/odyssey-erp/opsledger/internal/payroll"
	"github.com/odyssey-erp/opsledger/internal/platform/cache"
	"github.com/odyssey-erp/opsledger/internal/platform/db"
	"github.com/odyssey-erp/opsledger/internal/reporting"
	"github.com/odyssey-erp/opsledger/internal/sales"
	"github.com/odyssey-erp/opsledger/internal/shared"
	"github.com/odyssey-erp/opsledger/internal/transfers"
	"github.com/odyssey-erp/opsledger/jobs"
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

	if len(os.Args) > 1 {
		if err := runCommand(ctx, cfg, logger, os.Args[1:]); err != nil {
			logger.Error("command failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	switch args[0] {
	case "migrate":
		return db.Migrate(cfg.PGDSN, logger)
	case "jobs":
		if len(args) < 2 {
			return errors.New("usage: odyssey jobs trigger <task> | odyssey jobs stats")
		}
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() { _ = jobsCLI.Close() }()
		switch args[1] {
		case "trigger":
			if len(args) < 3 {
				return errors.New("usage: odyssey jobs trigger <task>")
			}
			info, err := jobsCLI.Trigger(ctx, args[2])
			if err != nil {
				return err
			}
			logger.Info("job enqueued", slog.String("task", info.Type), slog.String("id", info.ID))
			return nil
		case "stats":
			stats, err := jobsCLI.InspectQueue(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			return nil
		}
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			return err
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer dbpool.Close()

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

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	metrics := observability.NewMetrics()

	directory := masterdata.NewService(masterdata.NewRepository(dbpool))
	reportCache := reporting.NewCache(redisClient, cfg.ReportCacheTTL)

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger, jobClient, logger)
	salesService := sales.NewService(sales.NewRepository(dbpool), logger,
		sales.WithDirectory(directory),
		sales.WithAudit(auditLogger),
		sales.WithInvalidator(reportCache),
	)
	transfersService := transfers.NewService(transfers.NewRepository(dbpool), directory, auditLogger, logger)
	payrollService := payroll.NewService(payroll.NewRepository(dbpool), directory, auditLogger, logger)
	allowancesService := allowances.NewService(allowances.NewRepository(dbpool), directory, logger)
	reportingService := reporting.NewService(reporting.NewRepository(dbpool), reportCache, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		InventoryHandler:  inventory.NewHandler(logger, inventoryService, metrics),
		SalesHandler:      sales.NewHandler(logger, salesService, metrics),
		TransfersHandler:  transfers.NewHandler(logger, transfersService, metrics),
		PayrollHandler:    payroll.NewHandler(logger, payrollService, metrics),
		AllowancesHandler: allowances.NewHandler(logger, allowancesService, metrics),
		ReportingHandler:  reporting.NewHandler(logger, reportingService),
		MasterDataHandler: masterdata.NewHandler(logger, directory),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
