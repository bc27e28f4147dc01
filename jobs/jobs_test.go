package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/opsledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/opsledger/internal/jobs"
	"github.com/odyssey-erp/opsledger/internal/masterdata"
	"github.com/odyssey-erp/opsledger/internal/reporting"
)

type stubLowStock struct {
	balances []inventory.Balance
	branch   int64
	err      error
}

func (s *stubLowStock) LowStock(_ context.Context, branchID int64) ([]inventory.Balance, error) {
	s.branch = branchID
	return s.balances, s.err
}

type recordingNotifier struct {
	events []inventory.LowStockEvent
}

func (r *recordingNotifier) HandleLowStock(_ context.Context, evt inventory.LowStockEvent) error {
	r.events = append(r.events, evt)
	return nil
}

func testMetrics() *jobmetrics.Metrics { return jobmetrics.NewMetrics(prometheus.NewRegistry()) }

func TestLowStockScanNotifiesBalancesUnderMinimum(t *testing.T) {
	source := &stubLowStock{balances: []inventory.Balance{
		{ProductID: 1, BranchID: 2, Quantity: decimal.NewFromInt(3), MinLevel: decimal.NewNullDecimal(decimal.NewFromInt(5))},
		{ProductID: 2, BranchID: 2, Quantity: decimal.NewFromInt(9), MinLevel: decimal.NewNullDecimal(decimal.NewFromInt(5))},
	}}
	notifier := &recordingNotifier{}
	job := NewLowStockScanJob(source, notifier, nil, testMetrics())

	task, err := NewLowStockScanTask(2)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, int64(2), source.branch)
	require.Len(t, notifier.events, 1)
	require.Equal(t, int64(1), notifier.events[0].ProductID)
	require.True(t, notifier.events[0].MinLevel.Equal(decimal.NewFromInt(5)))
}

func TestLowStockScanFailures(t *testing.T) {
	job := NewLowStockScanJob(&stubLowStock{err: errors.New("db down")}, nil, nil, testMetrics())
	err := job.Handle(context.Background(), asynq.NewTask(TaskLowStockScan, nil))
	require.EqualError(t, err, "db down")

	err = job.Handle(context.Background(), asynq.NewTask(TaskLowStockScan, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var nilJob *LowStockScanJob
	require.Error(t, nilJob.Handle(context.Background(), asynq.NewTask(TaskLowStockScan, nil)))
}

type stubReports struct {
	mu      sync.Mutex
	filters []reporting.Filter
	err     error
}

func (s *stubReports) Dashboard(_ context.Context, filter reporting.Filter) (reporting.Dashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, filter)
	return reporting.Dashboard{}, s.err
}

type stubBranches []masterdata.Branch

func (s stubBranches) ListBranches(context.Context) ([]masterdata.Branch, error) { return s, nil }

func TestReportWarmupCoversActiveBranches(t *testing.T) {
	reports := &stubReports{}
	branches := stubBranches{{ID: 1, IsActive: true}, {ID: 2, IsActive: false}, {ID: 3, IsActive: true}}
	job := NewReportWarmupJob(reports, branches, nil, testMetrics())
	job.clock = func() time.Time { return time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC) }

	task, err := NewReportWarmupTask(3)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, reports.filters, 3)
	ids := []int64{reports.filters[0].BranchID, reports.filters[1].BranchID, reports.filters[2].BranchID}
	require.Equal(t, []int64{0, 1, 3}, ids)
	require.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), reports.filters[0].From)
	require.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), reports.filters[0].To)
}

func TestReportWarmupStopsOnError(t *testing.T) {
	reports := &stubReports{err: errors.New("redis down")}
	job := NewReportWarmupJob(reports, stubBranches{{ID: 1, IsActive: true}}, nil, testMetrics())

	err := job.Handle(context.Background(), asynq.NewTask(TaskReportWarmup, nil))
	require.EqualError(t, err, "redis down")
	require.Len(t, reports.filters, 1)
}

func TestTaskPayloads(t *testing.T) {
	task, err := NewLowStockScanTask(7)
	require.NoError(t, err)
	require.Equal(t, TaskLowStockScan, task.Type())
	var payload LowStockScanPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(7), payload.BranchID)
}
