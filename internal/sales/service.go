package sales

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/opsledger/internal/inventory"
	"github.com/odyssey-erp/opsledger/internal/shared"
)

// RepositoryPort abstracts persistence for Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
}

// Directory resolves reference data ids.
type Directory interface {
	BranchExists(ctx context.Context, id int64) (bool, error)
	ProductExists(ctx context.Context, id int64) (bool, error)
	EmployeeExists(ctx context.Context, id int64) (bool, error)
}

// AuditPort records committed transitions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Invalidator is told after every committed order mutation.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Service implements the order ledger.
type Service struct {
	repo        RepositoryPort
	directory   Directory
	audit       AuditPort
	invalidator Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// Option customises Service.
type Option func(*Service)

// WithDirectory checks referenced branches, products and employees before writing.
func WithDirectory(d Directory) Option { return func(s *Service) { s.directory = d } }

// WithAudit records posts and deletions.
func WithAudit(a AuditPort) Option { return func(s *Service) { s.audit = a } }

// WithInvalidator notifies report caches of committed changes.
func WithInvalidator(i Invalidator) Option { return func(s *Service) { s.invalidator = i } }

// NewService constructs Service.
func NewService(repo RepositoryPort, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder opens a draft order with zero totals. No stock effect.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (Order, error) {
	if err := shared.Validate(in); err != nil {
		return Order{}, err
	}
	if err := s.checkRefs(ctx, in.BranchID, in.EmployeeID, nil); err != nil {
		return Order{}, err
	}
	now := s.now()
	order := Order{
		BranchID:        in.BranchID,
		PartyID:         in.PartyID,
		EmployeeID:      in.EmployeeID,
		CustomerName:    in.CustomerName,
		CustomerPhone:   in.CustomerPhone,
		CustomerAddress: in.CustomerAddress,
		Status:          OrderStatusDraft,
		CreatedBy:       in.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		return nil
	})
	if err != nil {
		return Order{}, fmt.Errorf("create sales order: %w", err)
	}
	s.invalidate(ctx)
	return order, nil
}

// AddItems appends lines to a draft order and recomputes its totals.
// One invalid line rejects the whole batch.
func (s *Service) AddItems(ctx context.Context, orderID int64, items []ItemInput) (Order, error) {
	if len(items) == 0 {
		return Order{}, shared.Validationf("at least one item is required")
	}
	productIDs := make([]int64, 0, len(items))
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return Order{}, fmt.Errorf("item %d: %w", i+1, err)
		}
		productIDs = append(productIDs, it.ProductID)
	}
	if err := s.checkRefs(ctx, 0, 0, productIDs); err != nil {
		return Order{}, err
	}
	return s.mutate(ctx, orderID, func(ctx context.Context, tx TxRepository, order *Order) error {
		if order.Status != OrderStatusDraft {
			return shared.Conflictf("sales order %d is %s", order.ID, order.Status)
		}
		for _, in := range items {
			item := Item{
				OrderID:         order.ID,
				ProductID:       in.ProductID,
				BatchID:         in.BatchID,
				Quantity:        in.Quantity,
				UnitPrice:       in.UnitPrice,
				DiscountAmount:  in.DiscountAmount,
				DiscountPercent: in.DiscountPercent,
				Total:           ItemTotal(in.Quantity, in.UnitPrice, in.DiscountAmount, in.DiscountPercent),
			}
			if _, err := tx.InsertItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddPayment records a payment against a draft or posted order.
func (s *Service) AddPayment(ctx context.Context, orderID int64, in PaymentInput) (Order, error) {
	if err := in.Validate(); err != nil {
		return Order{}, err
	}
	return s.mutate(ctx, orderID, func(ctx context.Context, tx TxRepository, order *Order) error {
		_, err := tx.InsertPayment(ctx, Payment{
			OrderID:    order.ID,
			Amount:     in.Amount,
			Method:     in.Method,
			Reference:  in.Reference,
			ReceivedBy: in.ActorID,
			PaidAt:     s.now(),
		})
		return err
	})
}

// UpdateOrder edits header fields of a draft order.
func (s *Service) UpdateOrder(ctx context.Context, orderID int64, in UpdateOrderInput) (Order, error) {
	if err := in.Validate(); err != nil {
		return Order{}, err
	}
	return s.mutate(ctx, orderID, func(ctx context.Context, tx TxRepository, order *Order) error {
		if order.Status != OrderStatusDraft {
			return shared.Conflictf("sales order %d is %s", order.ID, order.Status)
		}
		in.apply(order)
		return tx.UpdateHeader(ctx, *order)
	})
}

// PostOrder deducts stock for every line and freezes the order. Any shortfall
// aborts the whole post.
func (s *Service) PostOrder(ctx context.Context, orderID, actorID int64) (Order, error) {
	if orderID <= 0 {
		return Order{}, shared.Validationf("order id required")
	}
	order, err := s.mutate(ctx, orderID, func(ctx context.Context, tx TxRepository, order *Order) error {
		if order.Status != OrderStatusDraft {
			return shared.Conflictf("sales order %d is already %s", order.ID, order.Status)
		}
		items, err := tx.ListItems(ctx, order.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return shared.Validationf("sales order %d has no items", order.ID)
		}
		if err := checkStock(ctx, tx, order.BranchID, items); err != nil {
			return err
		}
		now := s.now()
		for _, it := range items {
			if _, err := inventory.Apply(ctx, tx, inventory.MovementInput{
				ProductID:    it.ProductID,
				FromBranchID: order.BranchID,
				Quantity:     it.Quantity,
				Type:         inventory.MovementSale,
				Note:         fmt.Sprintf("sales order %d", order.ID),
				ActorID:      actorID,
				RefModule:    "sales_order",
				RefID:        order.ID,
			}, now); err != nil {
				return err
			}
		}
		if err := tx.MarkPosted(ctx, order.ID, actorID, now); err != nil {
			return err
		}
		order.Status = OrderStatusPosted
		order.PostedBy = actorID
		order.PostedAt = &now
		return nil
	})
	if err != nil {
		s.logger.Warn("sales order post rejected", slog.Int64("order_id", orderID), slog.Any("error", err))
		return Order{}, err
	}
	s.record(ctx, actorID, "sales_order:post", order.ID, map[string]any{
		"branch_id":   order.BranchID,
		"grand_total": order.GrandTotal.String(),
	})
	return order, nil
}

// DeleteOrder removes a draft order with its lines and payments.
func (s *Service) DeleteOrder(ctx context.Context, orderID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != OrderStatusDraft {
			return shared.Conflictf("sales order %d is %s", order.ID, order.Status)
		}
		return tx.DeleteOrder(ctx, order.ID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "sales_order:delete", orderID, nil)
	s.invalidate(ctx)
	return nil
}

// GetOrder returns one order with items and payments.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (Order, error) {
	if orderID <= 0 {
		return Order{}, shared.Validationf("order id required")
	}
	return s.repo.GetOrder(ctx, orderID)
}

// ListOrders returns order headers matching filter.
func (s *Service) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	if filter.Status != "" && filter.Status != OrderStatusDraft && filter.Status != OrderStatusPosted {
		return nil, shared.Validationf("unknown order status %q", filter.Status)
	}
	return s.repo.ListOrders(ctx, filter)
}

// checkStock locks the branch balances of every ordered product and compares
// them with the summed line quantities, so duplicate lines are judged together.
func checkStock(ctx context.Context, tx TxRepository, branchID int64, items []Item) error {
	keys := make([]inventory.BalanceKey, 0, len(items))
	requested := make(map[int64]decimal.Decimal, len(items))
	for _, it := range items {
		keys = append(keys, inventory.BalanceKey{BranchID: branchID, ProductID: it.ProductID})
		requested[it.ProductID] = requested[it.ProductID].Add(it.Quantity)
	}
	locked, err := inventory.LockInOrder(ctx, tx, keys)
	if err != nil {
		return err
	}
	for _, key := range inventory.SortKeys(keys) {
		bal := locked[key]
		if want := requested[key.ProductID]; bal.Quantity.LessThan(want) {
			return &shared.InsufficientStockError{
				ProductID: key.ProductID,
				BranchID:  branchID,
				Available: bal.Quantity,
				Requested: want,
			}
		}
	}
	return nil
}

type mutation func(ctx context.Context, tx TxRepository, order *Order) error

// mutate locks the order, runs fn and recomputes totals in one transaction.
func (s *Service) mutate(ctx context.Context, orderID int64, fn mutation) (Order, error) {
	var result Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &order); err != nil {
			return err
		}
		if err := recompute(ctx, tx, &order); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.invalidate(ctx)
	return result, nil
}

func recompute(ctx context.Context, tx TxRepository, order *Order) error {
	items, err := tx.ListItems(ctx, order.ID)
	if err != nil {
		return err
	}
	payments, err := tx.ListPayments(ctx, order.ID)
	if err != nil {
		return err
	}
	totals := ComputeTotals(items, payments, order.DiscountTotal, order.TaxTotal, order.ShippingTotal)
	if err := tx.SaveTotals(ctx, order.ID, totals); err != nil {
		return err
	}
	order.applyTotals(totals)
	order.Items, order.Payments = items, payments
	return nil
}

func (s *Service) checkRefs(ctx context.Context, branchID, employeeID int64, productIDs []int64) error {
	if s.directory == nil {
		return nil
	}
	if branchID != 0 {
		if err := exists(ctx, s.directory.BranchExists, "branch", branchID); err != nil {
			return err
		}
	}
	if employeeID != 0 {
		if err := exists(ctx, s.directory.EmployeeExists, "employee", employeeID); err != nil {
			return err
		}
	}
	for _, id := range productIDs {
		if err := exists(ctx, s.directory.ProductExists, "product", id); err != nil {
			return err
		}
	}
	return nil
}

func exists(ctx context.Context, lookup func(context.Context, int64) (bool, error), kind string, id int64) error {
	ok, err := lookup(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return shared.NotFoundf("%s %d", kind, id)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate report cache", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sales_order",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit sales order", slog.Any("error", err))
	}
}
