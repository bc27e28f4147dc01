package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

// RepositoryPort abstracts persistence for Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRun(ctx context.Context, id int64) (Run, error)
	ActiveProfile(ctx context.Context, employeeID int64) (Profile, error)
}

// Directory resolves reference data ids.
type Directory interface {
	BranchExists(ctx context.Context, id int64) (bool, error)
	EmployeeExists(ctx context.Context, id int64) (bool, error)
}

// AuditPort records committed transitions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs payroll.
type Service struct {
	repo      RepositoryPort
	directory Directory
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs Service. directory and audit may be nil.
func NewService(repo RepositoryPort, directory Directory, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, directory: directory, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ============================================================================
// SALARY PROFILES
// ============================================================================

// CreateProfile stores a salary profile. An active profile replaces the
// employee's current active one in the same transaction.
func (s *Service) CreateProfile(ctx context.Context, in ProfileInput) (Profile, error) {
	if err := in.Validate(); err != nil {
		return Profile{}, err
	}
	if s.directory != nil {
		ok, err := s.directory.EmployeeExists(ctx, in.EmployeeID)
		if err != nil {
			return Profile{}, err
		}
		if !ok {
			return Profile{}, shared.NotFoundf("employee %d", in.EmployeeID)
		}
	}
	profile := in.profile(s.now())
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockEmployeeProfiles(ctx, in.EmployeeID); err != nil {
			return err
		}
		if profile.IsActive {
			if err := tx.DeactivateProfiles(ctx, in.EmployeeID); err != nil {
				return err
			}
		}
		id, err := tx.InsertProfile(ctx, profile)
		if err != nil {
			return err
		}
		profile.ID = id
		return nil
	})
	if err != nil {
		return Profile{}, fmt.Errorf("create salary profile: %w", err)
	}
	return profile, nil
}

// DeactivateProfile clears the active flag of one profile.
func (s *Service) DeactivateProfile(ctx context.Context, profileID int64) (Profile, error) {
	if profileID <= 0 {
		return Profile{}, shared.Validationf("profile id required")
	}
	var profile Profile
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		profile, err = tx.DeactivateProfile(ctx, profileID)
		return err
	})
	return profile, err
}

// ActiveProfile returns the employee's active salary profile.
func (s *Service) ActiveProfile(ctx context.Context, employeeID int64) (Profile, error) {
	if employeeID <= 0 {
		return Profile{}, shared.Validationf("employee id required")
	}
	return s.repo.ActiveProfile(ctx, employeeID)
}

// ============================================================================
// RUNS
// ============================================================================

// CreateRun opens a draft run with zero totals.
func (s *Service) CreateRun(ctx context.Context, in CreateRunInput) (Run, error) {
	if err := in.Validate(); err != nil {
		return Run{}, err
	}
	if in.BranchID != 0 && s.directory != nil {
		ok, err := s.directory.BranchExists(ctx, in.BranchID)
		if err != nil {
			return Run{}, err
		}
		if !ok {
			return Run{}, shared.NotFoundf("branch %d", in.BranchID)
		}
	}
	now := s.now()
	run := Run{
		BranchID:    in.BranchID,
		PeriodYear:  in.PeriodYear,
		PeriodMonth: in.PeriodMonth,
		FromDate:    in.FromDate,
		ToDate:      in.ToDate,
		Status:      RunDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertRun(ctx, run)
		if err != nil {
			return err
		}
		run.ID = id
		return nil
	})
	if err != nil {
		return Run{}, fmt.Errorf("create payroll run: %w", err)
	}
	return run, nil
}

// Generate replaces the run's items with one item per employee holding exactly
// one active profile. Repeating it on a draft run yields the same items.
func (s *Service) Generate(ctx context.Context, runID int64) (Run, error) {
	run, err := s.transition(ctx, runID, func(ctx context.Context, tx TxRepository, run *Run) error {
		if run.Status != RunDraft {
			return shared.Conflictf("payroll run %d is %s", run.ID, run.Status)
		}
		profiles, err := tx.ActiveProfiles(ctx, run.BranchID)
		if err != nil {
			return err
		}
		if err := tx.DeleteItems(ctx, run.ID); err != nil {
			return err
		}
		run.TotalGross, run.TotalNet = decimal.Zero, decimal.Zero
		run.Items = make([]Item, 0, len(profiles))
		for _, p := range s.eligible(profiles) {
			item := NewItem(run.ID, p)
			if item.ID, err = tx.InsertItem(ctx, item); err != nil {
				return err
			}
			run.TotalGross = run.TotalGross.Add(item.GrossPay)
			run.TotalNet = run.TotalNet.Add(item.NetPay)
			run.Items = append(run.Items, item)
		}
		return tx.SaveRunTotals(ctx, *run)
	})
	if err != nil {
		return Run{}, err
	}
	s.logger.Info("payroll run generated", slog.Int64("run_id", run.ID), slog.Int("items", len(run.Items)), slog.String("total_net", run.TotalNet.String()))
	return run, nil
}

// eligible keeps employees with exactly one active profile.
func (s *Service) eligible(profiles []Profile) []Profile {
	count := make(map[int64]int, len(profiles))
	for _, p := range profiles {
		count[p.EmployeeID]++
	}
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		if count[p.EmployeeID] != 1 {
			s.logger.Warn("employee skipped: multiple active salary profiles", slog.Int64("employee_id", p.EmployeeID))
			continue
		}
		out = append(out, p)
	}
	return out
}

// Lock freezes a generated draft run ahead of approval.
func (s *Service) Lock(ctx context.Context, runID int64, actor shared.Actor) (Run, error) {
	return s.setStatus(ctx, runID, actor, RunLocked, "payroll_run:lock", func(run Run, items []Item) error {
		if run.Status != RunDraft {
			return shared.Conflictf("payroll run %d is %s", run.ID, run.Status)
		}
		if len(items) == 0 {
			return shared.Validationf("payroll run %d has no items", run.ID)
		}
		return nil
	})
}

// Approve accepts a draft or locked run. Generate is rejected afterwards.
func (s *Service) Approve(ctx context.Context, runID int64, actor shared.Actor) (Run, error) {
	return s.setStatus(ctx, runID, actor, RunApproved, "payroll_run:approve", func(run Run, _ []Item) error {
		if run.Status != RunDraft && run.Status != RunLocked {
			return shared.Conflictf("payroll run %d is %s", run.ID, run.Status)
		}
		return nil
	})
}

// Pay marks an approved run as paid. Disbursement happens elsewhere.
func (s *Service) Pay(ctx context.Context, runID int64, actor shared.Actor) (Run, error) {
	return s.setStatus(ctx, runID, actor, RunPaid, "payroll_run:pay", func(run Run, _ []Item) error {
		if run.Status != RunApproved {
			return shared.Conflictf("payroll run %d is %s", run.ID, run.Status)
		}
		return nil
	})
}

// GetRun returns a run with its items.
func (s *Service) GetRun(ctx context.Context, runID int64) (Run, error) {
	if runID <= 0 {
		return Run{}, shared.Validationf("run id required")
	}
	return s.repo.GetRun(ctx, runID)
}

func (s *Service) setStatus(ctx context.Context, runID int64, actor shared.Actor, to RunStatus, action string, check func(Run, []Item) error) (Run, error) {
	run, err := s.transition(ctx, runID, func(ctx context.Context, tx TxRepository, run *Run) error {
		items, err := tx.ListItems(ctx, run.ID)
		if err != nil {
			return err
		}
		if err := check(*run, items); err != nil {
			return err
		}
		if err := tx.SetRunStatus(ctx, run.ID, to, actor.ID, run.UpdatedAt); err != nil {
			return err
		}
		run.Status, run.Items = to, items
		at := run.UpdatedAt
		switch to {
		case RunApproved:
			run.ApprovedBy, run.ApprovedAt = actor.ID, &at
		case RunPaid:
			run.PaidBy, run.PaidAt = actor.ID, &at
		}
		return nil
	})
	if err != nil {
		return Run{}, err
	}
	s.record(ctx, actor.ID, action, run)
	return run, nil
}

func (s *Service) transition(ctx context.Context, runID int64, fn func(context.Context, TxRepository, *Run) error) (Run, error) {
	if runID <= 0 {
		return Run{}, shared.Validationf("run id required")
	}
	var result Run
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		run, err := tx.LockRun(ctx, runID)
		if err != nil {
			return err
		}
		run.UpdatedAt = s.now()
		if err := fn(ctx, tx, &run); err != nil {
			return err
		}
		result = run
		return nil
	})
	return result, err
}

func (s *Service) record(ctx context.Context, actorID int64, action string, run Run) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "payroll_run",
		EntityID: fmt.Sprintf("%d", run.ID),
		Meta: map[string]any{
			"status":      string(run.Status),
			"total_gross": run.TotalGross.String(),
			"total_net":   run.TotalNet.String(),
		},
	}); err != nil {
		s.logger.Warn("audit payroll run", slog.Any("error", err))
	}
}
