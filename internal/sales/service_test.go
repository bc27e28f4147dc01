package sales

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/opsledger/internal/inventory"
	"github.com/odyssey-erp/opsledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/opsledger/internal/shared"
)

// ============================================================================
// MEMORY REPOSITORY
// ============================================================================

type memoryState struct {
	orders   map[int64]Order
	items    map[int64][]Item
	payments map[int64][]Payment
	nextID   int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		orders:   make(map[int64]Order, len(s.orders)),
		items:    make(map[int64][]Item, len(s.items)),
		payments: make(map[int64][]Payment, len(s.payments)),
		nextID:   s.nextID,
	}
	for k, v := range s.orders {
		out.orders[k] = v
	}
	for k, v := range s.items {
		out.items[k] = append([]Item(nil), v...)
	}
	for k, v := range s.payments {
		out.payments[k] = append([]Payment(nil), v...)
	}
	return out
}

type memoryRepo struct {
	stock *inventorytest.Store
	state memoryState
	txErr error
}

type memoryTx struct {
	*inventorytest.Tx
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		stock: inventorytest.New(),
		state: memoryState{
			orders:   map[int64]Order{},
			items:    map[int64][]Item{},
			payments: map[int64][]Payment{},
		},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.stock.Lock()
	defer r.stock.Unlock()
	if r.txErr != nil {
		return r.txErr
	}
	state := r.state.clone()
	tx := &memoryTx{Tx: r.stock.Begin(), state: &state}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.Commit()
	r.state = state
	return nil
}

func (r *memoryRepo) GetOrder(ctx context.Context, id int64) (Order, error) {
	r.stock.Lock()
	defer r.stock.Unlock()
	o, ok := r.state.orders[id]
	if !ok {
		return Order{}, shared.NotFoundf("sales order %d", id)
	}
	o.Items = r.state.items[id]
	o.Payments = r.state.payments[id]
	return o, nil
}

func (r *memoryRepo) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	r.stock.Lock()
	defer r.stock.Unlock()
	var out []Order
	for _, o := range r.state.orders {
		if filter.BranchID != 0 && o.BranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) InsertOrder(ctx context.Context, o Order) (int64, error) {
	t.state.nextID++
	o.ID = t.state.nextID
	t.state.orders[o.ID] = o
	return o.ID, nil
}

func (t *memoryTx) LockOrder(ctx context.Context, id int64) (Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return Order{}, shared.NotFoundf("sales order %d", id)
	}
	return o, nil
}

func (t *memoryTx) UpdateHeader(ctx context.Context, o Order) error {
	cur := t.state.orders[o.ID]
	cur.CustomerName, cur.CustomerPhone, cur.CustomerAddress = o.CustomerName, o.CustomerPhone, o.CustomerAddress
	cur.DiscountTotal, cur.TaxTotal, cur.ShippingTotal = o.DiscountTotal, o.TaxTotal, o.ShippingTotal
	t.state.orders[o.ID] = cur
	return nil
}

func (t *memoryTx) DeleteOrder(ctx context.Context, id int64) error {
	delete(t.state.orders, id)
	delete(t.state.items, id)
	delete(t.state.payments, id)
	return nil
}

func (t *memoryTx) MarkPosted(ctx context.Context, id, actorID int64, at time.Time) error {
	o := t.state.orders[id]
	o.Status, o.PostedBy, o.PostedAt = OrderStatusPosted, actorID, &at
	t.state.orders[id] = o
	return nil
}

func (t *memoryTx) SaveTotals(ctx context.Context, id int64, tot Totals) error {
	o := t.state.orders[id]
	o.applyTotals(tot)
	t.state.orders[id] = o
	return nil
}

func (t *memoryTx) InsertItem(ctx context.Context, it Item) (int64, error) {
	t.state.nextID++
	it.ID = t.state.nextID
	t.state.items[it.OrderID] = append(t.state.items[it.OrderID], it)
	return it.ID, nil
}

func (t *memoryTx) ListItems(ctx context.Context, orderID int64) ([]Item, error) {
	return append([]Item(nil), t.state.items[orderID]...), nil
}

func (t *memoryTx) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	t.state.nextID++
	p.ID = t.state.nextID
	t.state.payments[p.OrderID] = append(t.state.payments[p.OrderID], p)
	return p.ID, nil
}

func (t *memoryTx) ListPayments(ctx context.Context, orderID int64) ([]Payment, error) {
	return append([]Payment(nil), t.state.payments[orderID]...), nil
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	return NewService(repo, nil), repo
}

func draftOrder(t *testing.T, svc *Service, branchID int64) Order {
	t.Helper()
	order, err := svc.CreateOrder(context.Background(), CreateOrderInput{BranchID: branchID, CustomerName: "Walk-in", ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, OrderStatusDraft, order.Status)
	require.True(t, order.GrandTotal.IsZero())
	return order
}

// ============================================================================
// TOTALS
// ============================================================================

func TestItemTotal(t *testing.T) {
	require.True(t, ItemTotal(dec("10"), dec("5"), decimal.Zero, decimal.Zero).Equal(dec("50")))
	require.True(t, ItemTotal(dec("4"), dec("25"), dec("10"), dec("10")).Equal(dec("80")))
	require.True(t, ItemTotal(dec("1"), dec("5"), dec("10"), decimal.Zero).IsZero())
	require.True(t, ItemTotal(dec("2"), dec("10"), decimal.Zero, dec("100")).IsZero())
}

func TestComputeTotalsClampsGrandButNotDue(t *testing.T) {
	items := []Item{{Total: dec("30")}}
	tot := ComputeTotals(items, []Payment{{Amount: dec("5")}}, dec("50"), decimal.Zero, decimal.Zero)
	require.True(t, tot.GrandTotal.IsZero())
	require.True(t, tot.DueTotal.Equal(dec("-5")))
}

func TestTotalsHoldAfterMutations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	order := draftOrder(t, svc, 1)

	order, err := svc.AddItems(ctx, order.ID, []ItemInput{
		{ProductID: 1, Quantity: dec("3"), UnitPrice: dec("20"), DiscountPercent: dec("10")},
		{ProductID: 2, Quantity: dec("1"), UnitPrice: dec("15.50"), DiscountAmount: dec("0.50")},
	})
	require.NoError(t, err)
	order, err = svc.UpdateOrder(ctx, order.ID, UpdateOrderInput{
		DiscountTotal: ptr(dec("4")),
		TaxTotal:      ptr(dec("7.25")),
		ShippingTotal: ptr(dec("10")),
	})
	require.NoError(t, err)
	order, err = svc.AddPayment(ctx, order.ID, PaymentInput{Amount: dec("40"), Method: "cash", ActorID: 9})
	require.NoError(t, err)

	// 54 + 15 - 4 + 7.25 + 10
	require.True(t, order.Subtotal.Equal(dec("69")))
	require.True(t, order.GrandTotal.Equal(dec("82.25")))
	require.True(t, order.PaidTotal.Equal(dec("40")))
	require.True(t, order.DueTotal.Equal(dec("42.25")))

	stored, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, stored.DueTotal.Equal(order.DueTotal))
	require.Len(t, stored.Items, 2)
	require.Len(t, stored.Payments, 1)

	sum := decimal.Zero
	for _, it := range stored.Items {
		sum = sum.Add(it.Total)
	}
	require.True(t, stored.GrandTotal.Equal(sum.Sub(stored.DiscountTotal).Add(stored.TaxTotal).Add(stored.ShippingTotal)))
}

func TestOverpaymentLeavesNegativeDue(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	order := draftOrder(t, svc, 1)
	_, err := svc.AddItems(ctx, order.ID, []ItemInput{{ProductID: 1, Quantity: dec("1"), UnitPrice: dec("10")}})
	require.NoError(t, err)

	order, err = svc.AddPayment(ctx, order.ID, PaymentInput{Amount: dec("15"), Method: "card", ActorID: 2})
	require.NoError(t, err)
	require.True(t, order.DueTotal.Equal(dec("-5")))
}

func TestAddItemsRejectsWholeBatch(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	order := draftOrder(t, svc, 1)

	_, err := svc.AddItems(ctx, order.ID, []ItemInput{
		{ProductID: 1, Quantity: dec("1"), UnitPrice: dec("10")},
		{ProductID: 2, Quantity: dec("1"), UnitPrice: dec("-1")},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.state.items[order.ID])

	_, err = svc.AddItems(ctx, order.ID, []ItemInput{{ProductID: 1, Quantity: dec("1"), UnitPrice: dec("1"), DiscountPercent: dec("101")}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAddPaymentRequiresPositiveAmount(t *testing.T) {
	svc, _ := newTestService(t)
	order := draftOrder(t, svc, 1)
	_, err := svc.AddPayment(context.Background(), order.ID, PaymentInput{Amount: decimal.Zero, Method: "cash", ActorID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUnknownOrder(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.AddItems(context.Background(), 404, []ItemInput{{ProductID: 1, Quantity: dec("1"), UnitPrice: dec("1")}})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

// ============================================================================
// POSTING
// ============================================================================

func TestPostOrderDeductsStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	repo.stock.Seed(1, 7, dec("10"))
	order := draftOrder(t, svc, 1)
	_, err := svc.AddItems(ctx, order.ID, []ItemInput{{ProductID: 7, Quantity: dec("10"), UnitPrice: dec("5")}})
	require.NoError(t, err)

	posted, err := svc.PostOrder(ctx, order.ID, 3)
	require.NoError(t, err)
	require.Equal(t, OrderStatusPosted, posted.Status)
	require.True(t, repo.stock.Quantity(1, 7).IsZero())

	movements := repo.stock.Movements()
	require.Len(t, movements, 1)
	require.Equal(t, inventory.MovementSale, movements[0].Type)
	require.Equal(t, order.ID, movements[0].RefID)

	_, err = svc.PostOrder(ctx, order.ID, 3)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Len(t, repo.stock.Movements(), 1)

	_, err = svc.AddItems(ctx, order.ID, []ItemInput{{ProductID: 7, Quantity: dec("1"), UnitPrice: dec("5")}})
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.UpdateOrder(ctx, order.ID, UpdateOrderInput{CustomerName: ptr("late")})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.ErrorIs(t, svc.DeleteOrder(ctx, order.ID, 3), shared.ErrConflict)

	paid, err := svc.AddPayment(ctx, order.ID, PaymentInput{Amount: dec("50"), Method: "cash", ActorID: 3})
	require.NoError(t, err)
	require.True(t, paid.DueTotal.IsZero())
}

func TestPostOrderInsufficientStockIsAllOrNothing(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	repo.stock.Seed(1, 7, dec("5"))
	repo.stock.Seed(1, 3, dec("100"))
	order := draftOrder(t, svc, 1)
	_, err := svc.AddItems(ctx, order.ID, []ItemInput{
		{ProductID: 3, Quantity: dec("10"), UnitPrice: dec("1")},
		{ProductID: 7, Quantity: dec("10"), UnitPrice: dec("5")},
	})
	require.NoError(t, err)

	_, err = svc.PostOrder(ctx, order.ID, 3)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, int64(7), stockErr.ProductID)
	require.Equal(t, int64(1), stockErr.BranchID)
	require.True(t, stockErr.Available.Equal(dec("5")))
	require.True(t, stockErr.Requested.Equal(dec("10")))

	require.True(t, repo.stock.Quantity(1, 7).Equal(dec("5")))
	require.True(t, repo.stock.Quantity(1, 3).Equal(dec("100")))
	require.Empty(t, repo.stock.Movements())

	stored, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusDraft, stored.Status)
}

func TestPostOrderSumsDuplicateProductLines(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	repo.stock.Seed(1, 7, dec("10"))
	order := draftOrder(t, svc, 1)
	_, err := svc.AddItems(ctx, order.ID, []ItemInput{
		{ProductID: 7, Quantity: dec("6"), UnitPrice: dec("2")},
		{ProductID: 7, Quantity: dec("6"), UnitPrice: dec("2")},
	})
	require.NoError(t, err)

	_, err = svc.PostOrder(ctx, order.ID, 3)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, int64(7), stockErr.ProductID)
	require.True(t, stockErr.Available.Equal(dec("10")))
	require.True(t, stockErr.Requested.Equal(dec("12")))
	require.True(t, repo.stock.Quantity(1, 7).Equal(dec("10")))
	require.Empty(t, repo.stock.Movements())

	repo.stock.Seed(1, 7, dec("12"))
	posted, err := svc.PostOrder(ctx, order.ID, 3)
	require.NoError(t, err)
	require.Equal(t, OrderStatusPosted, posted.Status)
	require.True(t, repo.stock.Quantity(1, 7).IsZero())
	require.Len(t, repo.stock.Movements(), 2)
}

func TestPostOrderRequiresItems(t *testing.T) {
	svc, _ := newTestService(t)
	order := draftOrder(t, svc, 1)
	_, err := svc.PostOrder(context.Background(), order.ID, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteDraftOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	order := draftOrder(t, svc, 1)
	require.NoError(t, svc.DeleteOrder(ctx, order.ID, 1))
	_, err := svc.GetOrder(ctx, order.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPersistenceFailureSurfaces(t *testing.T) {
	svc, repo := newTestService(t)
	repo.txErr = shared.ErrPersistence
	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{BranchID: 1})
	require.ErrorIs(t, err, shared.ErrPersistence)
	require.True(t, shared.IsRetryable(err))
}

func TestMutationsInvalidateReports(t *testing.T) {
	repo := newMemoryRepo()
	inv := &countingInvalidator{}
	svc := NewService(repo, nil, WithInvalidator(inv))
	ctx := context.Background()

	order := draftOrder(t, svc, 1)
	_, err := svc.AddPayment(ctx, order.ID, PaymentInput{Amount: dec("1"), Method: "cash", ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, 2, inv.calls)

	_, err = svc.AddPayment(ctx, order.ID, PaymentInput{Amount: dec("-1"), Method: "cash", ActorID: 1})
	require.Error(t, err)
	require.Equal(t, 2, inv.calls)
}

type fakeDirectory struct{ products map[int64]bool }

func (f fakeDirectory) BranchExists(ctx context.Context, id int64) (bool, error)   { return id == 1, nil }
func (f fakeDirectory) ProductExists(ctx context.Context, id int64) (bool, error)  { return f.products[id], nil }
func (f fakeDirectory) EmployeeExists(ctx context.Context, id int64) (bool, error) { return true, nil }

func TestDirectoryRejectsDanglingReferences(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, WithDirectory(fakeDirectory{products: map[int64]bool{5: true}}))
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, CreateOrderInput{BranchID: 2})
	require.ErrorIs(t, err, shared.ErrNotFound)

	order := draftOrder(t, svc, 1)
	_, err = svc.AddItems(ctx, order.ID, []ItemInput{{ProductID: 6, Quantity: dec("1"), UnitPrice: dec("1")}})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
