package allowances

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/opsledger/internal/platform/db"
	"github.com/odyssey-erp/opsledger/internal/shared"
)

// Repository persists allowances.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional allowance operations.
type TxRepository interface {
	InsertAllowance(ctx context.Context, a Allowance) (int64, error)
	LockAllowance(ctx context.Context, id int64) (Allowance, error)
	InsertItem(ctx context.Context, it Item) (int64, error)
	ListItems(ctx context.Context, allowanceID int64) ([]Item, error)
	SaveTotal(ctx context.Context, id int64, total decimal.Decimal) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a ledger transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("allowances repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.LedgerTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const allowanceColumns = `id, employee_id, branch_id, allowance_date, note, total, created_at`

func scanAllowance(row pgx.Row) (Allowance, error) {
	var a Allowance
	err := row.Scan(&a.ID, &a.EmployeeID, &a.BranchID, &a.AllowanceDate, &a.Note, &a.Total, &a.CreatedAt)
	return a, err
}

func (r *txRepo) InsertAllowance(ctx context.Context, a Allowance) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO employee_allowances (employee_id, branch_id, allowance_date, note, total, created_at)
VALUES ($1,$2,$3,$4,0,$5) RETURNING id`, a.EmployeeID, a.BranchID, a.AllowanceDate, a.Note, a.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) LockAllowance(ctx context.Context, id int64) (Allowance, error) {
	a, err := scanAllowance(r.tx.QueryRow(ctx, `SELECT `+allowanceColumns+` FROM employee_allowances WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Allowance{}, shared.NotFoundf("allowance %d", id)
		}
		return Allowance{}, err
	}
	return a, nil
}

func (r *txRepo) InsertItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO employee_allowance_items (allowance_id, description, unit_value, quantity, total_value)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, it.AllowanceID, it.Description, it.UnitValue, it.Quantity, it.TotalValue).Scan(&id)
	return id, err
}

func (r *txRepo) ListItems(ctx context.Context, allowanceID int64) ([]Item, error) {
	return listItems(ctx, r.tx, allowanceID)
}

func (r *txRepo) SaveTotal(ctx context.Context, id int64, total decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE employee_allowances SET total=$2 WHERE id=$1`, id, total)
	return err
}

func listItems(ctx context.Context, q db.DBTX, allowanceID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, allowance_id, description, unit_value, quantity, total_value
FROM employee_allowance_items WHERE allowance_id=$1 ORDER BY id`, allowanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.AllowanceID, &it.Description, &it.UnitValue, &it.Quantity, &it.TotalValue); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetAllowance loads an allowance with its items.
func (r *Repository) GetAllowance(ctx context.Context, id int64) (Allowance, error) {
	a, err := scanAllowance(r.pool.QueryRow(ctx, `SELECT `+allowanceColumns+` FROM employee_allowances WHERE id=$1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Allowance{}, shared.NotFoundf("allowance %d", id)
		}
		return Allowance{}, db.Classify(err)
	}
	if a.Items, err = listItems(ctx, r.pool, id); err != nil {
		return Allowance{}, db.Classify(err)
	}
	return a, nil
}

// ListByEmployee returns an employee's allowances, newest first.
func (r *Repository) ListByEmployee(ctx context.Context, employeeID int64) ([]Allowance, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+allowanceColumns+` FROM employee_allowances WHERE employee_id=$1 ORDER BY allowance_date DESC, id DESC`, employeeID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := []Allowance{}
	for rows.Next() {
		a, err := scanAllowance(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return out, nil
}
