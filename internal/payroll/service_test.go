package payroll

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

type memoryState struct {
	runs      map[int64]Run
	items     map[int64][]Item
	profiles  map[int64]Profile
	employees map[int64]int64 // employee -> branch
	nextID    int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		runs:      map[int64]Run{},
		items:     map[int64][]Item{},
		profiles:  map[int64]Profile{},
		employees: s.employees,
		nextID:    s.nextID,
	}
	for k, v := range s.runs {
		out.runs[k] = v
	}
	for k, v := range s.items {
		out.items[k] = append([]Item(nil), v...)
	}
	for k, v := range s.profiles {
		out.profiles[k] = v
	}
	return out
}

type memoryRepo struct {
	mu    sync.Mutex
	state memoryState
}

type memoryTx struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		runs:      map[int64]Run{},
		items:     map[int64][]Item{},
		profiles:  map[int64]Profile{},
		employees: map[int64]int64{},
	}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.state.clone()
	if err := fn(ctx, &memoryTx{state: &state}); err != nil {
		return err
	}
	active := map[int64]int{}
	for _, p := range state.profiles {
		if p.IsActive {
			active[p.EmployeeID]++
			if active[p.EmployeeID] > 1 {
				return shared.Conflictf("uq_salary_profiles_active")
			}
		}
	}
	r.state = state
	return nil
}

func (r *memoryRepo) GetRun(ctx context.Context, id int64) (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.state.runs[id]
	if !ok {
		return Run{}, shared.NotFoundf("payroll run %d", id)
	}
	run.Items = r.state.items[id]
	return run, nil
}

func (r *memoryRepo) ActiveProfile(ctx context.Context, employeeID int64) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.state.profiles {
		if p.EmployeeID == employeeID && p.IsActive {
			return p, nil
		}
	}
	return Profile{}, shared.NotFoundf("active salary profile for employee %d", employeeID)
}

func (t *memoryTx) InsertRun(ctx context.Context, run Run) (int64, error) {
	t.state.nextID++
	run.ID = t.state.nextID
	t.state.runs[run.ID] = run
	return run.ID, nil
}

func (t *memoryTx) LockRun(ctx context.Context, id int64) (Run, error) {
	run, ok := t.state.runs[id]
	if !ok {
		return Run{}, shared.NotFoundf("payroll run %d", id)
	}
	return run, nil
}

func (t *memoryTx) SetRunStatus(ctx context.Context, id int64, status RunStatus, actorID int64, at time.Time) error {
	run := t.state.runs[id]
	run.Status = status
	switch status {
	case RunApproved:
		run.ApprovedBy, run.ApprovedAt = actorID, &at
	case RunPaid:
		run.PaidBy, run.PaidAt = actorID, &at
	}
	t.state.runs[id] = run
	return nil
}

func (t *memoryTx) SaveRunTotals(ctx context.Context, run Run) error {
	cur := t.state.runs[run.ID]
	cur.TotalGross, cur.TotalNet = run.TotalGross, run.TotalNet
	t.state.runs[run.ID] = cur
	return nil
}

func (t *memoryTx) DeleteItems(ctx context.Context, runID int64) error {
	delete(t.state.items, runID)
	return nil
}

func (t *memoryTx) InsertItem(ctx context.Context, it Item) (int64, error) {
	t.state.nextID++
	it.ID = t.state.nextID
	t.state.items[it.RunID] = append(t.state.items[it.RunID], it)
	return it.ID, nil
}

func (t *memoryTx) ListItems(ctx context.Context, runID int64) ([]Item, error) {
	return append([]Item(nil), t.state.items[runID]...), nil
}

func (t *memoryTx) ActiveProfiles(ctx context.Context, branchID int64) ([]Profile, error) {
	var out []Profile
	for _, p := range t.state.profiles {
		branch, ok := t.state.employees[p.EmployeeID]
		if !ok || !p.IsActive || (branchID != 0 && branch != branchID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (t *memoryTx) LockEmployeeProfiles(ctx context.Context, employeeID int64) ([]Profile, error) {
	var out []Profile
	for _, p := range t.state.profiles {
		if p.EmployeeID == employeeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memoryTx) DeactivateProfiles(ctx context.Context, employeeID int64) error {
	for id, p := range t.state.profiles {
		if p.EmployeeID == employeeID {
			p.IsActive = false
			t.state.profiles[id] = p
		}
	}
	return nil
}

func (t *memoryTx) DeactivateProfile(ctx context.Context, profileID int64) (Profile, error) {
	p, ok := t.state.profiles[profileID]
	if !ok {
		return Profile{}, shared.NotFoundf("salary profile %d", profileID)
	}
	p.IsActive = false
	t.state.profiles[profileID] = p
	return p, nil
}

func (t *memoryTx) InsertProfile(ctx context.Context, p Profile) (int64, error) {
	t.state.nextID++
	p.ID = t.state.nextID
	t.state.profiles[p.ID] = p
	return p.ID, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func standardProfile(employeeID int64) ProfileInput {
	return ProfileInput{
		EmployeeID:          employeeID,
		EffectiveFrom:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Currency:            "bdt",
		MonthlyBasic:        dec("10000"),
		HouseRentPercent:    dec("0.4"),
		MedicalAllowance:    dec("500"),
		ConveyanceAllowance: dec("300"),
		PFEmployeePercent:   dec("0.1"),
		TaxMonthly:          dec("200"),
	}
}

func newRun(t *testing.T, svc *Service, branchID int64) Run {
	t.Helper()
	run, err := svc.CreateRun(context.Background(), CreateRunInput{
		BranchID:    branchID,
		PeriodYear:  2026,
		PeriodMonth: 3,
		FromDate:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ToDate:      time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, RunDraft, run.Status)
	return run
}

var approver = shared.Actor{ID: 77, Role: shared.RoleAdmin}

func TestProfileCompute(t *testing.T) {
	p := standardProfile(1).profile(time.Now())
	pay := p.Compute()
	require.True(t, pay.Gross.Equal(dec("14800")))
	require.True(t, pay.Deductions.Equal(dec("1200")))
	require.True(t, pay.Net.Equal(dec("13600")))

	p.MonthlyGross = decimal.NewNullDecimal(dec("20000"))
	require.True(t, p.Compute().Gross.Equal(dec("20000")))
	require.True(t, p.Compute().Net.Equal(dec("18800")))
}

func TestGenerateTotalsMatchRoundedItems(t *testing.T) {
	repo := newMemoryRepo()
	repo.state.employees[1] = 10
	repo.state.employees[2] = 10
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	for _, id := range []int64{1, 2} {
		_, err := svc.CreateProfile(ctx, ProfileInput{
			EmployeeID:        id,
			EffectiveFrom:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Currency:          "IDR",
			MonthlyBasic:      dec("1000.0001"),
			HouseRentPercent:  dec("0.333333"),
			PFEmployeePercent: dec("0.123457"),
		})
		require.NoError(t, err)
	}
	run := newRun(t, svc, 0)

	generated, err := svc.Generate(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, generated.Items, 2)

	gross, net := decimal.Zero, decimal.Zero
	for _, it := range generated.Items {
		require.True(t, it.GrossPay.Equal(dec("1333.3331")), it.GrossPay.String())
		require.True(t, it.NetPay.Equal(dec("1209.8761")), it.NetPay.String())
		require.True(t, it.TotalDeductions.Equal(it.TotalDeductions.Round(moneyScale)))
		gross, net = gross.Add(it.GrossPay), net.Add(it.NetPay)
	}
	require.True(t, generated.TotalGross.Equal(gross))
	require.True(t, generated.TotalNet.Equal(net))
	require.True(t, generated.TotalGross.Equal(dec("2666.6662")))

	stored, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.True(t, stored.TotalGross.Equal(generated.TotalGross))
	require.True(t, stored.TotalNet.Equal(generated.TotalNet))
}

func TestGenerateIsIdempotentWhileDraft(t *testing.T) {
	repo := newMemoryRepo()
	repo.state.employees[1] = 10
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	_, err := svc.CreateProfile(ctx, standardProfile(1))
	require.NoError(t, err)
	run := newRun(t, svc, 0)

	first, err := svc.Generate(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	require.True(t, first.Items[0].GrossPay.Equal(dec("14800")))
	require.True(t, first.Items[0].TotalDeductions.Equal(dec("1200")))
	require.True(t, first.Items[0].NetPay.Equal(dec("13600")))
	require.True(t, first.TotalGross.Equal(dec("14800")))
	require.True(t, first.TotalNet.Equal(dec("13600")))

	second, err := svc.Generate(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	require.True(t, second.TotalNet.Equal(first.TotalNet))

	stored, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	require.True(t, stored.TotalGross.Equal(dec("14800")))
}

func TestGenerateAfterApproveConflicts(t *testing.T) {
	repo := newMemoryRepo()
	repo.state.employees[1] = 10
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	_, err := svc.CreateProfile(ctx, standardProfile(1))
	require.NoError(t, err)
	run := newRun(t, svc, 0)
	_, err = svc.Generate(ctx, run.ID)
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, run.ID, approver)
	require.NoError(t, err)
	require.Equal(t, RunApproved, approved.Status)
	require.Equal(t, approver.ID, approved.ApprovedBy)

	_, err = svc.Generate(ctx, run.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	paid, err := svc.Pay(ctx, run.ID, approver)
	require.NoError(t, err)
	require.Equal(t, RunPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	_, err = svc.Pay(ctx, run.ID, approver)
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.Approve(ctx, run.ID, approver)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestLockThenApprove(t *testing.T) {
	repo := newMemoryRepo()
	repo.state.employees[1] = 10
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	run := newRun(t, svc, 0)

	_, err := svc.Lock(ctx, run.ID, approver)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateProfile(ctx, standardProfile(1))
	require.NoError(t, err)
	_, err = svc.Generate(ctx, run.ID)
	require.NoError(t, err)
	locked, err := svc.Lock(ctx, run.ID, approver)
	require.NoError(t, err)
	require.Equal(t, RunLocked, locked.Status)

	_, err = svc.Generate(ctx, run.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.Pay(ctx, run.ID, approver)
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.Approve(ctx, run.ID, approver)
	require.NoError(t, err)
}

func TestGenerateRestrictsToBranch(t *testing.T) {
	repo := newMemoryRepo()
	repo.state.employees[1] = 10
	repo.state.employees[2] = 20
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	for _, emp := range []int64{1, 2} {
		_, err := svc.CreateProfile(ctx, standardProfile(emp))
		require.NoError(t, err)
	}

	run, err := svc.Generate(ctx, newRun(t, svc, 20).ID)
	require.NoError(t, err)
	require.Len(t, run.Items, 1)
	require.Equal(t, int64(2), run.Items[0].EmployeeID)

	all, err := svc.Generate(ctx, newRun(t, svc, 0).ID)
	require.NoError(t, err)
	require.Len(t, all.Items, 2)
	require.True(t, all.TotalNet.Equal(dec("27200")))
}

func TestCreateProfileReplacesActive(t *testing.T) {
	repo := newMemoryRepo()
	repo.state.employees[1] = 10
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	first, err := svc.CreateProfile(ctx, standardProfile(1))
	require.NoError(t, err)
	require.Equal(t, "BDT", first.Currency)

	raise := standardProfile(1)
	raise.MonthlyBasic = dec("12000")
	second, err := svc.CreateProfile(ctx, raise)
	require.NoError(t, err)

	active, err := svc.ActiveProfile(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, second.ID, active.ID)
	require.False(t, repo.state.profiles[first.ID].IsActive)

	_, err = svc.DeactivateProfile(ctx, second.ID)
	require.NoError(t, err)
	_, err = svc.ActiveProfile(ctx, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestProfileValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	cases := map[string]func(*ProfileInput){
		"unknown currency":   func(p *ProfileInput) { p.Currency = "ZZZ" },
		"negative basic":     func(p *ProfileInput) { p.MonthlyBasic = dec("-1") },
		"percent over one":   func(p *ProfileInput) { p.HouseRentPercent = dec("40") },
		"missing employee":   func(p *ProfileInput) { p.EmployeeID = 0 },
		"missing start date": func(p *ProfileInput) { p.EffectiveFrom = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := standardProfile(1)
			mutate(&in)
			_, err := svc.CreateProfile(context.Background(), in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestCreateRunValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	_, err := svc.CreateRun(context.Background(), CreateRunInput{
		PeriodYear:  2026,
		PeriodMonth: 13,
		FromDate:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ToDate:      time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateRun(context.Background(), CreateRunInput{
		PeriodYear:  2026,
		PeriodMonth: 3,
		FromDate:    time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		ToDate:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}
