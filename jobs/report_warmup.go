package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/opsledger/internal/jobs"
	"github.com/odyssey-erp/opsledger/internal/masterdata"
	"github.com/odyssey-erp/opsledger/internal/reporting"
)

// Reports loads report summaries through the cache.
type Reports interface {
	Dashboard(ctx context.Context, filter reporting.Filter) (reporting.Dashboard, error)
}

// BranchLister enumerates branches to warm per-branch reports.
type BranchLister interface {
	ListBranches(ctx context.Context) ([]masterdata.Branch, error)
}

// ReportWarmupJob pre-populates the report cache for recent months.
type ReportWarmupJob struct {
	Reports  Reports
	Branches BranchLister
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewReportWarmupJob wires dependencies for the warmup handler.
func NewReportWarmupJob(reports Reports, branches BranchLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportWarmupJob {
	return &ReportWarmupJob{
		Reports:  reports,
		Branches: branches,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes report warmup tasks.
func (j *ReportWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reports == nil {
		return errors.New("report warmup: handler not configured")
	}
	var payload ReportWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Months <= 0 {
		payload.Months = 1
	}

	tracker := j.metrics().Track(TaskReportWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("months", payload.Months))
	branchIDs := []int64{0}
	if j.Branches != nil {
		branches, err := j.Branches.ListBranches(ctx)
		if err != nil {
			resultErr = err
			logger.Error("load branches", slog.Any("error", err))
			return resultErr
		}
		for _, b := range branches {
			if b.IsActive {
				branchIDs = append(branchIDs, b.ID)
			}
		}
	}

	now := j.now()
	to := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, -payload.Months, 0)
	warmed := 0
	for _, branchID := range branchIDs {
		scopeCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		_, err := j.Reports.Dashboard(scopeCtx, reporting.Filter{BranchID: branchID, From: from, To: to})
		cancel()
		if err != nil {
			resultErr = err
			logger.Error("warm branch reports", slog.Int64("branch_id", branchID), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}
	logger.Info("completed report warmup", slog.Int("scopes", warmed), slog.Duration("duration", time.Since(now)))
	return resultErr
}

func (j *ReportWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReportWarmup))
	}
	return slog.Default().With(slog.String("job", TaskReportWarmup))
}

func (j *ReportWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReportWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
