package masterdata

import (
	"context"
	"sync"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

// Store is the read surface of the master data repository.
type Store interface {
	BranchExists(ctx context.Context, id int64) (bool, error)
	ProductExists(ctx context.Context, id int64) (bool, error)
	EmployeeExists(ctx context.Context, id int64) (bool, error)
	GetBranch(ctx context.Context, id int64) (Branch, error)
	ListBranches(ctx context.Context) ([]Branch, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListActiveEmployees(ctx context.Context, branchID int64) ([]Employee, error)
}

// Service answers reference data lookups for the ledgers. Positive existence
// answers are remembered for the life of the process; negative ones are not.
type Service struct {
	store Store

	mu   sync.RWMutex
	seen map[string]map[int64]struct{}
}

// NewService creates a master data service.
func NewService(store Store) *Service {
	return &Service{store: store, seen: map[string]map[int64]struct{}{}}
}

// BranchExists reports whether an active branch has id.
func (s *Service) BranchExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, "branch", id, s.store.BranchExists)
}

// ProductExists reports whether a product has id.
func (s *Service) ProductExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, "product", id, s.store.ProductExists)
}

// EmployeeExists reports whether an active employee has id.
func (s *Service) EmployeeExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, "employee", id, s.store.EmployeeExists)
}

// GetBranch returns one branch.
func (s *Service) GetBranch(ctx context.Context, id int64) (Branch, error) {
	if id <= 0 {
		return Branch{}, shared.Validationf("invalid branch id")
	}
	return s.store.GetBranch(ctx, id)
}

// ListBranches returns every branch.
func (s *Service) ListBranches(ctx context.Context) ([]Branch, error) {
	return s.store.ListBranches(ctx)
}

// GetProduct returns one product.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, shared.Validationf("invalid product id")
	}
	return s.store.GetProduct(ctx, id)
}

// ListActiveEmployees returns active employees; branchID 0 means all branches.
func (s *Service) ListActiveEmployees(ctx context.Context, branchID int64) ([]Employee, error) {
	if branchID < 0 {
		return nil, shared.Validationf("invalid branch id")
	}
	return s.store.ListActiveEmployees(ctx, branchID)
}

func (s *Service) exists(ctx context.Context, kind string, id int64, lookup func(context.Context, int64) (bool, error)) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	s.mu.RLock()
	_, ok := s.seen[kind][id]
	s.mu.RUnlock()
	if ok {
		return true, nil
	}
	found, err := lookup(ctx, id)
	if err != nil || !found {
		return false, err
	}
	s.mu.Lock()
	if s.seen[kind] == nil {
		s.seen[kind] = map[int64]struct{}{}
	}
	s.seen[kind][id] = struct{}{}
	s.mu.Unlock()
	return true, nil
}
