package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan scans stock balances that fell under their minimum level.
	TaskLowStockScan = "inventory:low_stock_scan"
	// TaskReportWarmup pre-populates the report cache for the current month.
	TaskReportWarmup = "reporting:warmup"
)

// LowStockScanPayload limits a scan to one branch; zero scans every branch.
type LowStockScanPayload struct {
	BranchID int64 `json:"branch_id"`
}

// ReportWarmupPayload selects how many trailing months to warm.
type ReportWarmupPayload struct {
	Months int `json:"months"`
}

// NewLowStockScanTask constructs an Asynq task.
func NewLowStockScanTask(branchID int64) (*asynq.Task, error) {
	data, err := json.Marshal(LowStockScanPayload{BranchID: branchID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}

// NewReportWarmupTask constructs an Asynq task.
func NewReportWarmupTask(months int) (*asynq.Task, error) {
	data, err := json.Marshal(ReportWarmupPayload{Months: months})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportWarmup, data), nil
}
