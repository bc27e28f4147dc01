package sales

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

// Repository persists sales orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional order operations. Stock movements
// posted by an order commit in the same transaction.
type TxRepository interface {
	inventory.TxRepository

	InsertOrder(ctx context.Context, order Order) (int64, error)
	LockOrder(ctx context.Context, id int64) (Order, error)
	UpdateHeader(ctx context.Context, order Order) error
	DeleteOrder(ctx context.Context, id int64) error
	MarkPosted(ctx context.Context, id, actorID int64, at time.Time) error
	SaveTotals(ctx context.Context, id int64, totals Totals) error

	InsertItem(ctx context.Context, item Item) (int64, error)
	ListItems(ctx context.Context, orderID int64) ([]Item, error)
	InsertPayment(ctx context.Context, payment Payment) (int64, error)
	ListPayments(ctx context.Context, orderID int64) ([]Payment, error)
}

type txRepo struct {
	inventory.TxRepository
	tx pgx.Tx
}

// WithTx wraps callback in a ledger transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("sales repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.LedgerTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: inventory.NewTxRepository(tx), tx: tx})
	})
}

// ============================================================================
// ORDER HEADER
// ============================================================================

const orderColumns = `id, branch_id, party_id, employee_id, customer_name, customer_phone, customer_address, status,
subtotal, discount_total, tax_total, shipping_total, grand_total, paid_total, due_total,
created_by, posted_by, posted_at, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                             Order
		party, employee, by, postedBy *int64
		status                        string
	)
	err := row.Scan(&o.ID, &o.BranchID, &party, &employee, &o.CustomerName, &o.CustomerPhone, &o.CustomerAddress, &status,
		&o.Subtotal, &o.DiscountTotal, &o.TaxTotal, &o.ShippingTotal, &o.GrandTotal, &o.PaidTotal, &o.DueTotal,
		&by, &postedBy, &o.PostedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = OrderStatus(status)
	o.PartyID, o.EmployeeID, o.CreatedBy, o.PostedBy = deref(party), deref(employee), deref(by), deref(postedBy)
	return o, nil
}

func (t *txRepo) InsertOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales_orders (branch_id, party_id, employee_id, customer_name, customer_phone, customer_address, status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9) RETURNING id`,
		o.BranchID, nullInt(o.PartyID), nullInt(o.EmployeeID), o.CustomerName, o.CustomerPhone, o.CustomerAddress, string(o.Status), nullInt(o.CreatedBy), o.CreatedAt).Scan(&id)
	return id, err
}

// LockOrder reads the header FOR UPDATE so status checks and writes share one lock.
func (t *txRepo) LockOrder(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Order{}, shared.NotFoundf("sales order %d", id)
		}
		return Order{}, err
	}
	return o, nil
}

func (t *txRepo) UpdateHeader(ctx context.Context, o Order) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales_orders SET customer_name=$2, customer_phone=$3, customer_address=$4,
discount_total=$5, tax_total=$6, shipping_total=$7, updated_at=NOW() WHERE id=$1`,
		o.ID, o.CustomerName, o.CustomerPhone, o.CustomerAddress, o.DiscountTotal, o.TaxTotal, o.ShippingTotal)
	return err
}

func (t *txRepo) DeleteOrder(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM sales_orders WHERE id=$1`, id)
	return err
}

func (t *txRepo) MarkPosted(ctx context.Context, id, actorID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales_orders SET status=$2, posted_by=$3, posted_at=$4, updated_at=$4 WHERE id=$1`,
		id, string(OrderStatusPosted), nullInt(actorID), at)
	return err
}

func (t *txRepo) SaveTotals(ctx context.Context, id int64, tot Totals) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales_orders SET subtotal=$2, discount_total=$3, tax_total=$4, shipping_total=$5,
grand_total=$6, paid_total=$7, due_total=$8, updated_at=NOW() WHERE id=$1`,
		id, tot.Subtotal, tot.DiscountTotal, tot.TaxTotal, tot.ShippingTotal, tot.GrandTotal, tot.PaidTotal, tot.DueTotal)
	return err
}

// ============================================================================
// ITEMS & PAYMENTS
// ============================================================================

func (t *txRepo) InsertItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales_order_items (order_id, product_id, batch_id, quantity, unit_price, discount_amount, discount_percent, total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		it.OrderID, it.ProductID, nullInt(it.BatchID), it.Quantity, it.UnitPrice, it.DiscountAmount, it.DiscountPercent, it.Total).Scan(&id)
	return id, err
}

func (t *txRepo) ListItems(ctx context.Context, orderID int64) ([]Item, error) {
	return listItems(ctx, t.tx, orderID)
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales_payments (order_id, amount, method, reference, received_by, paid_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		p.OrderID, p.Amount, p.Method, p.Reference, p.ReceivedBy, p.PaidAt).Scan(&id)
	return id, err
}

func (t *txRepo) ListPayments(ctx context.Context, orderID int64) ([]Payment, error) {
	return listPayments(ctx, t.tx, orderID)
}

func listItems(ctx context.Context, q db.DBTX, orderID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, batch_id, quantity, unit_price, discount_amount, discount_percent, total
FROM sales_order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var (
			it    Item
			batch *int64
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &batch, &it.Quantity, &it.UnitPrice, &it.DiscountAmount, &it.DiscountPercent, &it.Total); err != nil {
			return nil, err
		}
		it.BatchID = deref(batch)
		items = append(items, it)
	}
	return items, rows.Err()
}

func listPayments(ctx context.Context, q db.DBTX, orderID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, amount, method, reference, received_by, paid_at
FROM sales_payments WHERE order_id=$1 ORDER BY paid_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	payments := []Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Reference, &p.ReceivedBy, &p.PaidAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ============================================================================
// READS
// ============================================================================

// GetOrder loads an order with its items and payments.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE id=$1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Order{}, shared.NotFoundf("sales order %d", id)
		}
		return Order{}, db.Classify(err)
	}
	if o.Items, err = listItems(ctx, r.pool, id); err != nil {
		return Order{}, db.Classify(err)
	}
	if o.Payments, err = listPayments(ctx, r.pool, id); err != nil {
		return Order{}, db.Classify(err)
	}
	return o, nil
}

// ListOrders returns order headers, newest first.
func (r *Repository) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
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
	if filter.PartyID != 0 {
		add("party_id=$%d", filter.PartyID)
	}
	if filter.EmployeeID != 0 {
		add("employee_id=$%d", filter.EmployeeID)
	}
	if filter.Status != "" {
		add("status=$%d", string(filter.Status))
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
	args = append(args, limit)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT `+orderColumns+` FROM sales_orders %s ORDER BY created_at DESC, id DESC LIMIT $%d`, where, len(args)), args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	orders := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return orders, nil
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
