package transfers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/opsledger/internal/inventory"
	"github.com/odyssey-erp/opsledger/internal/platform/db"
	"github.com/odyssey-erp/opsledger/internal/shared"
)

// Repository persists branch transfers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional transfer operations together with the
// stock ledger, so completion commits balances and status atomically.
type TxRepository interface {
	inventory.TxRepository

	InsertTransfer(ctx context.Context, t Transfer) (int64, error)
	InsertItem(ctx context.Context, it Item) (int64, error)
	LockTransfer(ctx context.Context, id int64) (Transfer, error)
	ListItems(ctx context.Context, transferID int64) ([]Item, error)
	UpdateStatus(ctx context.Context, id int64, status Status, actorID int64, at time.Time) error
}

type txRepo struct {
	inventory.TxRepository
	tx pgx.Tx
}

// WithTx wraps callback in a ledger transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("transfers repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.LedgerTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: inventory.NewTxRepository(tx), tx: tx})
	})
}

const transferColumns = `id, from_branch_id, to_branch_id, status, note, created_by, approved_by, completed_by, created_at, updated_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var (
		t                           Transfer
		status                      string
		createdBy, approved, closed *int64
	)
	if err := row.Scan(&t.ID, &t.FromBranchID, &t.ToBranchID, &status, &t.Note, &createdBy, &approved, &closed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transfer{}, err
	}
	t.Status = Status(status)
	t.CreatedBy, t.ApprovedBy, t.CompletedBy = deref(createdBy), deref(approved), deref(closed)
	return t, nil
}

func (r *txRepo) InsertTransfer(ctx context.Context, t Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO branch_transfers (from_branch_id, to_branch_id, status, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6) RETURNING id`,
		t.FromBranchID, t.ToBranchID, string(t.Status), t.Note, nullInt(t.CreatedBy), t.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) InsertItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO branch_transfer_items (transfer_id, product_id, quantity) VALUES ($1,$2,$3) RETURNING id`,
		it.TransferID, it.ProductID, it.Quantity).Scan(&id)
	return id, err
}

// LockTransfer reads the header FOR UPDATE; concurrent transitions queue here.
func (r *txRepo) LockTransfer(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanTransfer(r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM branch_transfers WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Transfer{}, shared.NotFoundf("transfer %d", id)
		}
		return Transfer{}, err
	}
	return t, nil
}

func (r *txRepo) ListItems(ctx context.Context, transferID int64) ([]Item, error) {
	return listItems(ctx, r.tx, transferID)
}

func (r *txRepo) UpdateStatus(ctx context.Context, id int64, status Status, actorID int64, at time.Time) error {
	var column string
	switch status {
	case StatusApproved:
		column = "approved_by"
	case StatusCompleted:
		column = "completed_by"
	}
	if column == "" {
		_, err := r.tx.Exec(ctx, `UPDATE branch_transfers SET status=$2, updated_at=$3 WHERE id=$1`, id, string(status), at)
		return err
	}
	_, err := r.tx.Exec(ctx, `UPDATE branch_transfers SET status=$2, updated_at=$3, `+column+`=$4 WHERE id=$1`, id, string(status), at, nullInt(actorID))
	return err
}

func listItems(ctx context.Context, q db.DBTX, transferID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, product_id, quantity FROM branch_transfer_items WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.TransferID, &it.ProductID, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetTransfer loads a transfer with its items.
func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM branch_transfers WHERE id=$1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Transfer{}, shared.NotFoundf("transfer %d", id)
		}
		return Transfer{}, db.Classify(err)
	}
	if t.Items, err = listItems(ctx, r.pool, id); err != nil {
		return Transfer{}, db.Classify(err)
	}
	return t, nil
}

// ListTransfers returns headers, newest first.
func (r *Repository) ListTransfers(ctx context.Context, filter Filter) ([]Transfer, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.BranchID != 0 {
		args = append(args, filter.BranchID)
		conds = append(conds, fmt.Sprintf("(from_branch_id=$%d OR to_branch_id=$%d)", len(args), len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT `+transferColumns+` FROM branch_transfers %s ORDER BY created_at DESC, id DESC LIMIT $%d`, where, len(args)), args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := []Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return out, nil
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
