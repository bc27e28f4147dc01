package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/opsledger/internal/platform/db"
	"github.com/odyssey-erp/opsledger/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations of the stock ledger.
// Other ledgers embed it so stock changes commit with their own writes.
type TxRepository interface {
	LockBalance(ctx context.Context, key BalanceKey) (Balance, error)
	SaveQuantity(ctx context.Context, key BalanceKey, qty decimal.Decimal) error
	SaveLevels(ctx context.Context, key BalanceKey, minLevel, maxLevel decimal.NullDecimal) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
}

type txRepository struct {
	tx db.DBTX
}

// NewTxRepository binds the stock ledger to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a ledger transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.LedgerTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const balanceColumns = `product_id, branch_id, quantity, min_level, max_level, updated_at`

func scanBalance(row pgx.Row) (Balance, error) {
	var bal Balance
	err := row.Scan(&bal.ProductID, &bal.BranchID, &bal.Quantity, &bal.MinLevel, &bal.MaxLevel, &bal.UpdatedAt)
	return bal, err
}

// GetBalance returns one balance; absent rows read as zero.
func (r *Repository) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	bal, err := scanBalance(r.pool.QueryRow(ctx, `SELECT `+balanceColumns+` FROM stock_balances WHERE product_id=$1 AND branch_id=$2`, key.ProductID, key.BranchID))
	if err != nil {
		if db.IsNoRows(err) {
			return Balance{ProductID: key.ProductID, BranchID: key.BranchID}, nil
		}
		return Balance{}, db.Classify(err)
	}
	return bal, nil
}

// ListBalances returns all balances of a branch.
func (r *Repository) ListBalances(ctx context.Context, branchID int64) ([]Balance, error) {
	return r.queryBalances(ctx, `SELECT `+balanceColumns+` FROM stock_balances WHERE branch_id=$1 ORDER BY product_id`, branchID)
}

// LowStock lists balances under their minimum level. Zero branch means all branches.
func (r *Repository) LowStock(ctx context.Context, branchID int64) ([]Balance, error) {
	return r.queryBalances(ctx, `SELECT `+balanceColumns+` FROM stock_balances
WHERE min_level IS NOT NULL AND quantity < min_level AND ($1::bigint IS NULL OR branch_id=$1)
ORDER BY branch_id, product_id`, nullInt(branchID))
}

func (r *Repository) queryBalances(ctx context.Context, query string, args ...any) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	balances := []Balance{}
	for rows.Next() {
		bal, err := scanBalance(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		balances = append(balances, bal)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return balances, nil
}

// ListMovements returns movement history, oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProductID != 0 {
		add("product_id=$%d", filter.ProductID)
	}
	if filter.BranchID != 0 {
		args = append(args, filter.BranchID)
		conds = append(conds, fmt.Sprintf("(from_branch_id=$%d OR to_branch_id=$%d)", len(args), len(args)))
	}
	if filter.Type != "" {
		add("movement_type=$%d", string(filter.Type))
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id, ref, product_id, from_branch_id, to_branch_id, quantity, movement_type, ref_module, ref_id, note, created_by, created_at
FROM inventory_movements %s
ORDER BY created_at ASC, id ASC
LIMIT $%d`, where, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var (
			m                   Movement
			from, to, refID, by *int64
			mtype               string
		)
		if err := rows.Scan(&m.ID, &m.Ref, &m.ProductID, &from, &to, &m.Quantity, &mtype, &m.RefModule, &refID, &m.Note, &by, &m.CreatedAt); err != nil {
			return nil, db.Classify(err)
		}
		m.Type = MovementType(mtype)
		m.FromBranchID = deref(from)
		m.ToBranchID = deref(to)
		m.RefID = deref(refID)
		m.CreatedBy = deref(by)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return movements, nil
}

// LockBalance materialises the balance row if needed and locks it FOR UPDATE.
func (r *txRepository) LockBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (product_id, branch_id, quantity, updated_at)
VALUES ($1,$2,0,NOW()) ON CONFLICT (product_id, branch_id) DO NOTHING`, key.ProductID, key.BranchID); err != nil {
		return Balance{}, err
	}
	bal, err := scanBalance(r.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM stock_balances WHERE product_id=$1 AND branch_id=$2 FOR UPDATE`, key.ProductID, key.BranchID))
	if err != nil {
		if db.IsNoRows(err) {
			return Balance{}, shared.NotFoundf("stock balance product %d branch %d", key.ProductID, key.BranchID)
		}
		return Balance{}, err
	}
	return bal, nil
}

func (r *txRepository) SaveQuantity(ctx context.Context, key BalanceKey, qty decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_balances SET quantity=$3, updated_at=NOW() WHERE product_id=$1 AND branch_id=$2`, key.ProductID, key.BranchID, qty)
	return err
}

func (r *txRepository) SaveLevels(ctx context.Context, key BalanceKey, minLevel, maxLevel decimal.NullDecimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_balances SET min_level=$3, max_level=$4, updated_at=NOW() WHERE product_id=$1 AND branch_id=$2`, key.ProductID, key.BranchID, minLevel, maxLevel)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements (ref, product_id, from_branch_id, to_branch_id, quantity, movement_type, ref_module, ref_id, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		m.Ref, m.ProductID, nullInt(m.FromBranchID), nullInt(m.ToBranchID), m.Quantity, string(m.Type), m.RefModule, nullInt(m.RefID), m.Note, nullInt(m.CreatedBy), m.CreatedAt).Scan(&id)
	return id, err
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
