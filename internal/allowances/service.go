package allowances

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

// RepositoryPort abstracts persistence for Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAllowance(ctx context.Context, id int64) (Allowance, error)
	ListByEmployee(ctx context.Context, employeeID int64) ([]Allowance, error)
}

// Directory resolves reference data ids.
type Directory interface {
	BranchExists(ctx context.Context, id int64) (bool, error)
	EmployeeExists(ctx context.Context, id int64) (bool, error)
}

// Service implements the allowance ledger.
type Service struct {
	repo      RepositoryPort
	directory Directory
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs Service. directory may be nil.
func NewService(repo RepositoryPort, directory Directory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, directory: directory, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// CreateAllowance opens an empty voucher.
func (s *Service) CreateAllowance(ctx context.Context, in CreateInput) (Allowance, error) {
	if err := shared.Validate(in); err != nil {
		return Allowance{}, err
	}
	if s.directory != nil {
		if ok, err := s.directory.EmployeeExists(ctx, in.EmployeeID); err != nil {
			return Allowance{}, err
		} else if !ok {
			return Allowance{}, shared.NotFoundf("employee %d", in.EmployeeID)
		}
		if ok, err := s.directory.BranchExists(ctx, in.BranchID); err != nil {
			return Allowance{}, err
		} else if !ok {
			return Allowance{}, shared.NotFoundf("branch %d", in.BranchID)
		}
	}
	a := Allowance{
		EmployeeID:    in.EmployeeID,
		BranchID:      in.BranchID,
		AllowanceDate: in.AllowanceDate,
		Note:          in.Note,
		CreatedAt:     s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertAllowance(ctx, a)
		if err != nil {
			return err
		}
		a.ID = id
		return nil
	})
	if err != nil {
		return Allowance{}, fmt.Errorf("create allowance: %w", err)
	}
	return a, nil
}

// AddItems appends lines and recomputes the voucher total in the same transaction.
func (s *Service) AddItems(ctx context.Context, allowanceID int64, items []ItemInput) (Allowance, error) {
	if len(items) == 0 {
		return Allowance{}, shared.Validationf("at least one item is required")
	}
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return Allowance{}, fmt.Errorf("item %d: %w", i+1, err)
		}
	}
	var result Allowance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.LockAllowance(ctx, allowanceID)
		if err != nil {
			return err
		}
		for _, in := range items {
			if _, err := tx.InsertItem(ctx, Item{
				AllowanceID: a.ID,
				Description: in.Description,
				UnitValue:   in.UnitValue,
				Quantity:    in.Quantity,
				TotalValue:  in.UnitValue.Mul(in.Quantity),
			}); err != nil {
				return err
			}
		}
		all, err := tx.ListItems(ctx, a.ID)
		if err != nil {
			return err
		}
		a.Items, a.Total = all, Sum(all)
		if err := tx.SaveTotal(ctx, a.ID, a.Total); err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return Allowance{}, err
	}
	return result, nil
}

// GetAllowance returns a voucher with items.
func (s *Service) GetAllowance(ctx context.Context, id int64) (Allowance, error) {
	if id <= 0 {
		return Allowance{}, shared.Validationf("allowance id required")
	}
	return s.repo.GetAllowance(ctx, id)
}

// ListByEmployee returns an employee's vouchers.
func (s *Service) ListByEmployee(ctx context.Context, employeeID int64) ([]Allowance, error) {
	if employeeID <= 0 {
		return nil, shared.Validationf("employee id required")
	}
	return s.repo.ListByEmployee(ctx, employeeID)
}
