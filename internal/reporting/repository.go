package reporting

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/opsledger/internal/platform/db"
)

// Repository reads stored order totals. It never writes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// OrderTotals returns the stored totals of every order matching filter.
func (r *Repository) OrderTotals(ctx context.Context, filter Filter) ([]OrderTotals, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.BranchID != 0 {
		add("branch_id=$%d", filter.BranchID)
	}
	if filter.Status != "" {
		add("status=$%d", filter.Status)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, branch_id, COALESCE(party_id,0), COALESCE(employee_id,0), status, created_at,
grand_total, paid_total, due_total FROM sales_orders `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []OrderTotals
	for rows.Next() {
		var o OrderTotals
		if err := rows.Scan(&o.ID, &o.BranchID, &o.PartyID, &o.EmployeeID, &o.Status, &o.CreatedAt,
			&o.GrandTotal, &o.PaidTotal, &o.DueTotal); err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return out, nil
}
