package transfers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/opsledger/internal/inventory"
	"github.com/odyssey-erp/opsledger/internal/shared"
)

// RepositoryPort abstracts persistence for Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	ListTransfers(ctx context.Context, filter Filter) ([]Transfer, error)
}

// Directory resolves reference data ids.
type Directory interface {
	BranchExists(ctx context.Context, id int64) (bool, error)
	ProductExists(ctx context.Context, id int64) (bool, error)
}

// AuditPort records committed transitions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the branch transfer workflow.
type Service struct {
	repo      RepositoryPort
	directory Directory
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs Service. directory and audit may be nil.
func NewService(repo RepositoryPort, directory Directory, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, directory: directory, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Create opens a pending transfer with a fixed item list. No stock effect.
func (s *Service) Create(ctx context.Context, in CreateInput) (Transfer, error) {
	if err := in.Validate(); err != nil {
		return Transfer{}, err
	}
	if err := s.checkRefs(ctx, in); err != nil {
		return Transfer{}, err
	}
	now := s.now()
	transfer := Transfer{
		FromBranchID: in.FromBranchID,
		ToBranchID:   in.ToBranchID,
		Status:       StatusPending,
		Note:         in.Note,
		CreatedBy:    in.ActorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertTransfer(ctx, transfer)
		if err != nil {
			return err
		}
		transfer.ID = id
		transfer.Items = make([]Item, 0, len(in.Items))
		for _, it := range in.Items {
			item := Item{TransferID: id, ProductID: it.ProductID, Quantity: it.Quantity}
			if item.ID, err = tx.InsertItem(ctx, item); err != nil {
				return err
			}
			transfer.Items = append(transfer.Items, item)
		}
		return nil
	})
	if err != nil {
		return Transfer{}, fmt.Errorf("create transfer: %w", err)
	}
	return transfer, nil
}

// Approve moves a pending transfer to approved. No stock effect.
func (s *Service) Approve(ctx context.Context, id int64, actor shared.Actor) (Transfer, error) {
	t, err := s.transition(ctx, id, func(ctx context.Context, tx TxRepository, t *Transfer) error {
		if t.Status != StatusPending {
			return shared.Conflictf("transfer %d is %s", t.ID, t.Status)
		}
		t.Status, t.ApprovedBy = StatusApproved, actor.ID
		return tx.UpdateStatus(ctx, t.ID, StatusApproved, actor.ID, t.UpdatedAt)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.record(ctx, actor.ID, "transfer:approve", t)
	return t, nil
}

// Complete moves the stock. The actor must belong to the destination branch.
// Status is re-read under the row lock, so a repeated call returns ErrConflict
// without moving stock twice.
func (s *Service) Complete(ctx context.Context, id int64, actor shared.Actor) (Transfer, error) {
	t, err := s.transition(ctx, id, func(ctx context.Context, tx TxRepository, t *Transfer) error {
		if actor.BranchID != t.ToBranchID {
			return fmt.Errorf("%w: actor branch %d cannot receive transfer into branch %d", shared.ErrUnauthorized, actor.BranchID, t.ToBranchID)
		}
		if !t.Status.Open() {
			return shared.Conflictf("transfer %d is %s", t.ID, t.Status)
		}
		items, err := tx.ListItems(ctx, t.ID)
		if err != nil {
			return err
		}
		if err := s.moveStock(ctx, tx, *t, items, actor.ID); err != nil {
			return err
		}
		t.Status, t.CompletedBy, t.Items = StatusCompleted, actor.ID, items
		return tx.UpdateStatus(ctx, t.ID, StatusCompleted, actor.ID, t.UpdatedAt)
	})
	if err != nil {
		s.logger.Warn("transfer completion rejected", slog.Int64("transfer_id", id), slog.Int64("actor_id", actor.ID), slog.Any("error", err))
		return Transfer{}, err
	}
	s.record(ctx, actor.ID, "transfer:complete", t)
	return t, nil
}

// moveStock locks every touched balance in (branch, product) order, checks the
// source quantities and then posts the paired movements.
func (s *Service) moveStock(ctx context.Context, tx TxRepository, t Transfer, items []Item, actorID int64) error {
	keys := make([]inventory.BalanceKey, 0, len(items)*2)
	requested := make(map[int64]decimal.Decimal, len(items))
	for _, it := range items {
		keys = append(keys,
			inventory.BalanceKey{BranchID: t.FromBranchID, ProductID: it.ProductID},
			inventory.BalanceKey{BranchID: t.ToBranchID, ProductID: it.ProductID})
		requested[it.ProductID] = requested[it.ProductID].Add(it.Quantity)
	}
	locked, err := inventory.LockInOrder(ctx, tx, keys)
	if err != nil {
		return err
	}
	for _, it := range items {
		src := locked[inventory.BalanceKey{BranchID: t.FromBranchID, ProductID: it.ProductID}]
		if want := requested[it.ProductID]; src.Quantity.LessThan(want) {
			return &shared.InsufficientStockError{
				ProductID: it.ProductID,
				BranchID:  t.FromBranchID,
				Available: src.Quantity,
				Requested: want,
			}
		}
	}
	note := fmt.Sprintf("transfer %d", t.ID)
	for _, it := range items {
		ref := uuid.New()
		for _, mt := range []inventory.MovementType{inventory.MovementTransferOut, inventory.MovementTransferIn} {
			if _, err := inventory.Apply(ctx, tx, inventory.MovementInput{
				ProductID:    it.ProductID,
				FromBranchID: t.FromBranchID,
				ToBranchID:   t.ToBranchID,
				Quantity:     it.Quantity,
				Type:         mt,
				Note:         note,
				ActorID:      actorID,
				RefModule:    "branch_transfer",
				RefID:        t.ID,
				Ref:          ref,
			}, t.UpdatedAt); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cancel closes an open transfer. No stock effect.
func (s *Service) Cancel(ctx context.Context, id int64, actor shared.Actor) (Transfer, error) {
	t, err := s.transition(ctx, id, func(ctx context.Context, tx TxRepository, t *Transfer) error {
		if !t.Status.Open() {
			return shared.Conflictf("transfer %d is %s", t.ID, t.Status)
		}
		t.Status = StatusCancelled
		return tx.UpdateStatus(ctx, t.ID, StatusCancelled, actor.ID, t.UpdatedAt)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.record(ctx, actor.ID, "transfer:cancel", t)
	return t, nil
}

// Get returns a transfer with its items.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	if id <= 0 {
		return Transfer{}, shared.Validationf("transfer id required")
	}
	return s.repo.GetTransfer(ctx, id)
}

// List returns transfers matching filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]Transfer, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Validationf("unknown transfer status %q", filter.Status)
	}
	return s.repo.ListTransfers(ctx, filter)
}

func (s *Service) transition(ctx context.Context, id int64, fn func(context.Context, TxRepository, *Transfer) error) (Transfer, error) {
	if id <= 0 {
		return Transfer{}, shared.Validationf("transfer id required")
	}
	var result Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		t.UpdatedAt = s.now()
		if err := fn(ctx, tx, &t); err != nil {
			return err
		}
		result = t
		return nil
	})
	return result, err
}

func (s *Service) checkRefs(ctx context.Context, in CreateInput) error {
	if s.directory == nil {
		return nil
	}
	for _, id := range []int64{in.FromBranchID, in.ToBranchID} {
		ok, err := s.directory.BranchExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return shared.NotFoundf("branch %d", id)
		}
	}
	for _, it := range in.Items {
		ok, err := s.directory.ProductExists(ctx, it.ProductID)
		if err != nil {
			return err
		}
		if !ok {
			return shared.NotFoundf("product %d", it.ProductID)
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, t Transfer) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "branch_transfer",
		EntityID: fmt.Sprintf("%d", t.ID),
		Meta: map[string]any{
			"from_branch_id": t.FromBranchID,
			"to_branch_id":   t.ToBranchID,
			"status":         string(t.Status),
		},
	}); err != nil {
		s.logger.Warn("audit transfer", slog.Any("error", err))
	}
}
