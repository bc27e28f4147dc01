package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/opsledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/opsledger/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LowStockSource lists balances under their minimum level.
type LowStockSource interface {
	LowStock(ctx context.Context, branchID int64) ([]inventory.Balance, error)
}

// LowStockScanJob reports stock balances that need replenishing.
type LowStockScanJob struct {
	Inventory LowStockSource
	Notifier  inventory.EventHandler
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewLowStockScanJob wires dependencies for the scan handler. notifier may be nil.
func NewLowStockScanJob(source LowStockSource, notifier inventory.EventHandler, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{
		Inventory: source,
		Notifier:  notifier,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes low stock scan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskLowStockScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("branch_id", payload.BranchID))
	balances, err := j.Inventory.LowStock(ctx, payload.BranchID)
	if err != nil {
		resultErr = err
		logger.Error("load low stock balances", slog.Any("error", err))
		return resultErr
	}
	events := inventory.LowStockEvents(balances, j.now())
	j.metrics().SetLowStock(payload.BranchID, len(events))
	for _, evt := range events {
		logger.Warn("stock below minimum",
			slog.Int64("product_id", evt.ProductID),
			slog.Int64("stock_branch_id", evt.BranchID),
			slog.String("quantity", evt.Quantity.String()),
			slog.String("min_level", evt.MinLevel.String()),
		)
		if j.Notifier == nil {
			continue
		}
		if err := j.Notifier.HandleLowStock(ctx, evt); err != nil {
			resultErr = err
			logger.Error("notify low stock", slog.Int64("product_id", evt.ProductID), slog.Any("error", err))
			return resultErr
		}
	}
	logger.Info("completed low stock scan", slog.Int("below_minimum", len(events)))
	return resultErr
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStockScan))
	}
	return slog.Default().With(slog.String("job", TaskLowStockScan))
}

func (j *LowStockScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LowStockScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
