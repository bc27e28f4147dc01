package masterdata

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/opsledger/internal/platform/db"
	"github.com/odyssey-erp/opsledger/internal/shared"
)

// Repository reads reference data owned by the master data service.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a master data repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BranchExists reports whether an active branch has id.
func (r *Repository) BranchExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM branches WHERE id=$1 AND is_active)`, id)
}

// ProductExists reports whether a product has id.
func (r *Repository) ProductExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, id)
}

// EmployeeExists reports whether an active employee has id.
func (r *Repository) EmployeeExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM employees WHERE id=$1 AND is_active)`, id)
}

func (r *Repository) exists(ctx context.Context, query string, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	var ok bool
	if err := r.pool.QueryRow(ctx, query, id).Scan(&ok); err != nil {
		return false, db.Classify(err)
	}
	return ok, nil
}

// GetBranch loads one branch.
func (r *Repository) GetBranch(ctx context.Context, id int64) (Branch, error) {
	var b Branch
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, is_active FROM branches WHERE id=$1`, id).
		Scan(&b.ID, &b.Code, &b.Name, &b.IsActive)
	if db.IsNoRows(err) {
		return Branch{}, shared.NotFoundf("branch %d", id)
	}
	if err != nil {
		return Branch{}, db.Classify(err)
	}
	return b, nil
}

// ListBranches returns every branch ordered by code.
func (r *Repository) ListBranches(ctx context.Context) ([]Branch, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, is_active FROM branches ORDER BY code`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	branches := []Branch{}
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.Code, &b.Name, &b.IsActive); err != nil {
			return nil, db.Classify(err)
		}
		branches = append(branches, b)
	}
	return branches, db.Classify(rows.Err())
}

// GetProduct loads one product.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, unit_price FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.UnitPrice)
	if db.IsNoRows(err) {
		return Product{}, shared.NotFoundf("product %d", id)
	}
	if err != nil {
		return Product{}, db.Classify(err)
	}
	return p, nil
}

// ListActiveEmployees returns active employees, optionally of one branch.
func (r *Repository) ListActiveEmployees(ctx context.Context, branchID int64) ([]Employee, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, COALESCE(branch_id,0), full_name, is_active FROM employees
WHERE is_active AND ($1::bigint = 0 OR branch_id = $1) ORDER BY full_name, id`, branchID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	employees := []Employee{}
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.BranchID, &e.FullName, &e.IsActive); err != nil {
			return nil, db.Classify(err)
		}
		employees = append(employees, e)
	}
	return employees, db.Classify(rows.Err())
}
