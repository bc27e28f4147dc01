package payroll

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/opsledger/internal/platform/db"
	"github.com/odyssey-erp/opsledger/internal/shared"
)

// Repository persists payroll data.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional payroll operations.
type TxRepository interface {
	InsertRun(ctx context.Context, run Run) (int64, error)
	LockRun(ctx context.Context, id int64) (Run, error)
	SetRunStatus(ctx context.Context, id int64, status RunStatus, actorID int64, at time.Time) error
	SaveRunTotals(ctx context.Context, run Run) error
	DeleteItems(ctx context.Context, runID int64) error
	InsertItem(ctx context.Context, item Item) (int64, error)
	ListItems(ctx context.Context, runID int64) ([]Item, error)
	ActiveProfiles(ctx context.Context, branchID int64) ([]Profile, error)

	LockEmployeeProfiles(ctx context.Context, employeeID int64) ([]Profile, error)
	DeactivateProfiles(ctx context.Context, employeeID int64) error
	DeactivateProfile(ctx context.Context, profileID int64) (Profile, error)
	InsertProfile(ctx context.Context, p Profile) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a ledger transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("payroll repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.LedgerTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const runColumns = `id, branch_id, period_year, period_month, from_date, to_date, status, total_gross, total_net,
approved_by, approved_at, paid_by, paid_at, created_at, updated_at`

func scanRun(row pgx.Row) (Run, error) {
	var (
		run                      Run
		branch, approved, paidBy *int64
		status                   string
	)
	err := row.Scan(&run.ID, &branch, &run.PeriodYear, &run.PeriodMonth, &run.FromDate, &run.ToDate, &status, &run.TotalGross, &run.TotalNet,
		&approved, &run.ApprovedAt, &paidBy, &run.PaidAt, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return Run{}, err
	}
	run.Status = RunStatus(status)
	run.BranchID, run.ApprovedBy, run.PaidBy = deref(branch), deref(approved), deref(paidBy)
	return run, nil
}

func (r *txRepo) InsertRun(ctx context.Context, run Run) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO payroll_runs (branch_id, period_year, period_month, from_date, to_date, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7) RETURNING id`,
		nullInt(run.BranchID), run.PeriodYear, run.PeriodMonth, run.FromDate, run.ToDate, string(run.Status), run.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) LockRun(ctx context.Context, id int64) (Run, error) {
	run, err := scanRun(r.tx.QueryRow(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Run{}, shared.NotFoundf("payroll run %d", id)
		}
		return Run{}, err
	}
	return run, nil
}

func (r *txRepo) SetRunStatus(ctx context.Context, id int64, status RunStatus, actorID int64, at time.Time) error {
	var err error
	switch status {
	case RunApproved:
		_, err = r.tx.Exec(ctx, `UPDATE payroll_runs SET status=$2, approved_by=$3, approved_at=$4, updated_at=$4 WHERE id=$1`, id, string(status), nullInt(actorID), at)
	case RunPaid:
		_, err = r.tx.Exec(ctx, `UPDATE payroll_runs SET status=$2, paid_by=$3, paid_at=$4, updated_at=$4 WHERE id=$1`, id, string(status), nullInt(actorID), at)
	default:
		_, err = r.tx.Exec(ctx, `UPDATE payroll_runs SET status=$2, updated_at=$3 WHERE id=$1`, id, string(status), at)
	}
	return err
}

func (r *txRepo) SaveRunTotals(ctx context.Context, run Run) error {
	_, err := r.tx.Exec(ctx, `UPDATE payroll_runs SET total_gross=$2, total_net=$3, updated_at=$4 WHERE id=$1`,
		run.ID, run.TotalGross, run.TotalNet, run.UpdatedAt)
	return err
}

func (r *txRepo) DeleteItems(ctx context.Context, runID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM payroll_run_items WHERE run_id=$1`, runID)
	return err
}

func (r *txRepo) InsertItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO payroll_run_items (run_id, employee_id, profile_id, gross_pay, total_earnings, total_deductions, net_pay)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		it.RunID, it.EmployeeID, it.ProfileID, it.GrossPay, it.TotalEarnings, it.TotalDeductions, it.NetPay).Scan(&id)
	return id, err
}

func (r *txRepo) ListItems(ctx context.Context, runID int64) ([]Item, error) {
	return listItems(ctx, r.tx, runID)
}

const profileColumns = `p.id, p.employee_id, p.effective_from, p.currency, p.monthly_gross, p.monthly_basic, p.house_rent_percent,
p.medical_allowance, p.conveyance_allowance, p.pf_employee_percent, p.pf_employer_percent, p.tax_monthly, p.is_active, p.created_at`

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.EmployeeID, &p.EffectiveFrom, &p.Currency, &p.MonthlyGross, &p.MonthlyBasic, &p.HouseRentPercent,
		&p.MedicalAllowance, &p.ConveyanceAllowance, &p.PFEmployeePercent, &p.PFEmployerPercent, &p.TaxMonthly, &p.IsActive, &p.CreatedAt)
	return p, err
}

func collectProfiles(rows pgx.Rows) ([]Profile, error) {
	defer rows.Close()
	out := []Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ActiveProfiles returns the active profiles of active employees, optionally of one branch.
func (r *txRepo) ActiveProfiles(ctx context.Context, branchID int64) ([]Profile, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+profileColumns+`
FROM salary_profiles p JOIN employees e ON e.id = p.employee_id
WHERE p.is_active AND e.is_active AND ($1::bigint IS NULL OR e.branch_id=$1)
ORDER BY p.employee_id, p.id`, nullInt(branchID))
	if err != nil {
		return nil, err
	}
	return collectProfiles(rows)
}

// LockEmployeeProfiles locks every profile row of an employee.
func (r *txRepo) LockEmployeeProfiles(ctx context.Context, employeeID int64) ([]Profile, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+profileColumns+` FROM salary_profiles p WHERE p.employee_id=$1 ORDER BY p.id FOR UPDATE`, employeeID)
	if err != nil {
		return nil, err
	}
	return collectProfiles(rows)
}

func (r *txRepo) DeactivateProfiles(ctx context.Context, employeeID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE salary_profiles SET is_active=FALSE WHERE employee_id=$1 AND is_active`, employeeID)
	return err
}

func (r *txRepo) DeactivateProfile(ctx context.Context, profileID int64) (Profile, error) {
	p, err := scanProfile(r.tx.QueryRow(ctx, `UPDATE salary_profiles p SET is_active=FALSE WHERE p.id=$1 RETURNING `+profileColumns, profileID))
	if err != nil {
		if db.IsNoRows(err) {
			return Profile{}, shared.NotFoundf("salary profile %d", profileID)
		}
		return Profile{}, err
	}
	return p, nil
}

func (r *txRepo) InsertProfile(ctx context.Context, p Profile) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO salary_profiles (employee_id, effective_from, currency, monthly_gross, monthly_basic, house_rent_percent,
medical_allowance, conveyance_allowance, pf_employee_percent, pf_employer_percent, tax_monthly, is_active, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		p.EmployeeID, p.EffectiveFrom, p.Currency, p.MonthlyGross, p.MonthlyBasic, p.HouseRentPercent,
		p.MedicalAllowance, p.ConveyanceAllowance, p.PFEmployeePercent, p.PFEmployerPercent, p.TaxMonthly, p.IsActive, p.CreatedAt).Scan(&id)
	return id, err
}

func listItems(ctx context.Context, q db.DBTX, runID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, run_id, employee_id, profile_id, gross_pay, total_earnings, total_deductions, net_pay
FROM payroll_run_items WHERE run_id=$1 ORDER BY employee_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.RunID, &it.EmployeeID, &it.ProfileID, &it.GrossPay, &it.TotalEarnings, &it.TotalDeductions, &it.NetPay); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetRun loads a run with its items.
func (r *Repository) GetRun(ctx context.Context, id int64) (Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id=$1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Run{}, shared.NotFoundf("payroll run %d", id)
		}
		return Run{}, db.Classify(err)
	}
	if run.Items, err = listItems(ctx, r.pool, id); err != nil {
		return Run{}, db.Classify(err)
	}
	return run, nil
}

// ActiveProfile returns the employee's active salary profile.
func (r *Repository) ActiveProfile(ctx context.Context, employeeID int64) (Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM salary_profiles p WHERE p.employee_id=$1 AND p.is_active`, employeeID))
	if err != nil {
		if db.IsNoRows(err) {
			return Profile{}, shared.NotFoundf("active salary profile for employee %d", employeeID)
		}
		return Profile{}, db.Classify(err)
	}
	return p, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
