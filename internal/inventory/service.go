package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, key BalanceKey) (Balance, error)
	ListBalances(ctx context.Context, branchID int64) ([]Balance, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	LowStock(ctx context.Context, branchID int64) ([]Balance, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock ledger operations.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	events EventHandler
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. events may be nil.
func NewService(repo RepositoryPort, audit AuditPort, events EventHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, events: events, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Applied is the outcome of one movement.
type Applied struct {
	Movement Movement `json:"movement"`
	Balance  Balance  `json:"balance"`
}

// LockInOrder locks every balance in keys in (branch, product) order. Callers
// that touch more than one balance lock them all up front so that concurrent
// multi-row operations cannot deadlock.
func LockInOrder(ctx context.Context, tx TxRepository, keys []BalanceKey) (map[BalanceKey]Balance, error) {
	locked := make(map[BalanceKey]Balance, len(keys))
	for _, key := range SortKeys(keys) {
		bal, err := tx.LockBalance(ctx, key)
		if err != nil {
			return nil, err
		}
		locked[key] = bal
	}
	return locked, nil
}

// Apply is the only code path that changes a stock quantity. It must run
// inside the caller's transaction; a returned error means the caller rolls back.
func Apply(ctx context.Context, tx TxRepository, in MovementInput, at time.Time) (Applied, error) {
	if err := in.Validate(); err != nil {
		return Applied{}, err
	}
	key, delta, err := in.effect()
	if err != nil {
		return Applied{}, err
	}
	balance, err := tx.LockBalance(ctx, key)
	if err != nil {
		return Applied{}, err
	}
	newQty := balance.Quantity.Add(delta)
	if newQty.IsNegative() {
		return Applied{}, &shared.InsufficientStockError{
			ProductID: key.ProductID,
			BranchID:  key.BranchID,
			Available: balance.Quantity,
			Requested: in.Quantity,
		}
	}
	if err := tx.SaveQuantity(ctx, key, newQty); err != nil {
		return Applied{}, err
	}
	ref := in.Ref
	if ref == uuid.Nil {
		ref = uuid.New()
	}
	movement := Movement{
		Ref:          ref,
		ProductID:    in.ProductID,
		FromBranchID: in.FromBranchID,
		ToBranchID:   in.ToBranchID,
		Quantity:     in.Quantity,
		Type:         in.Type,
		RefModule:    in.RefModule,
		RefID:        in.RefID,
		Note:         in.Note,
		CreatedBy:    in.ActorID,
		CreatedAt:    at,
	}
	id, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return Applied{}, err
	}
	movement.ID = id
	balance.Quantity = newQty
	balance.UpdatedAt = at
	return Applied{Movement: movement, Balance: balance}, nil
}

// CreateMovement records a single stock movement in its own transaction.
func (s *Service) CreateMovement(ctx context.Context, input MovementInput) (Applied, error) {
	if err := input.Validate(); err != nil {
		return Applied{}, err
	}
	now := s.now()
	var applied Applied
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		applied, err = Apply(ctx, tx, input, now)
		return err
	})
	if err != nil {
		s.logger.Warn("inventory movement rejected",
			slog.String("type", string(input.Type)),
			slog.Int64("product_id", input.ProductID),
			slog.Any("error", err))
		return Applied{}, err
	}
	s.record(ctx, input.ActorID, fmt.Sprintf("inventory:%s", input.Type), applied.Movement.ID, map[string]any{
		"product_id":     input.ProductID,
		"from_branch_id": input.FromBranchID,
		"to_branch_id":   input.ToBranchID,
		"quantity":       input.Quantity.String(),
		"note":           input.Note,
	})
	s.emitLowStock(ctx, applied.Balance)
	return applied, nil
}

func (s *Service) emitLowStock(ctx context.Context, bal Balance) {
	if s.events == nil {
		return
	}
	for _, evt := range LowStockEvents([]Balance{bal}, s.now()) {
		if err := s.events.HandleLowStock(ctx, evt); err != nil {
			s.logger.Warn("low stock event", slog.Int64("product_id", evt.ProductID), slog.Int64("branch_id", evt.BranchID), slog.Any("error", err))
		}
	}
}

// SetLevels adjusts reorder thresholds without touching the quantity.
func (s *Service) SetLevels(ctx context.Context, input SetLevelsInput) (Balance, error) {
	if err := input.Validate(); err != nil {
		return Balance{}, err
	}
	key := BalanceKey{BranchID: input.BranchID, ProductID: input.ProductID}
	var updated Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.LockBalance(ctx, key)
		if err != nil {
			return err
		}
		if input.MinLevel != nil {
			bal.MinLevel = decimal.NewNullDecimal(*input.MinLevel)
		}
		if input.MaxLevel != nil {
			bal.MaxLevel = decimal.NewNullDecimal(*input.MaxLevel)
		}
		if bal.MinLevel.Valid && bal.MaxLevel.Valid && bal.MinLevel.Decimal.GreaterThan(bal.MaxLevel.Decimal) {
			return shared.Validationf("min_level must not exceed max_level")
		}
		if err := tx.SaveLevels(ctx, key, bal.MinLevel, bal.MaxLevel); err != nil {
			return err
		}
		bal.UpdatedAt = s.now()
		updated = bal
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	return updated, nil
}

// GetBalance returns the balance of one product at one branch.
func (s *Service) GetBalance(ctx context.Context, productID, branchID int64) (Balance, error) {
	if productID <= 0 || branchID <= 0 {
		return Balance{}, shared.Validationf("product and branch required")
	}
	return s.repo.GetBalance(ctx, BalanceKey{BranchID: branchID, ProductID: productID})
}

// ListBalances lists balances of a branch.
func (s *Service) ListBalances(ctx context.Context, branchID int64) ([]Balance, error) {
	if branchID <= 0 {
		return nil, shared.Validationf("branch required")
	}
	return s.repo.ListBalances(ctx, branchID)
}

// ListMovements lists movement history.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.Validationf("unknown movement type %q", filter.Type)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, shared.Validationf("from must not be after to")
	}
	return s.repo.ListMovements(ctx, filter)
}

// LowStock lists balances under their minimum level; zero branch covers all.
func (s *Service) LowStock(ctx context.Context, branchID int64) ([]Balance, error) {
	return s.repo.LowStock(ctx, branchID)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory_movement",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit inventory movement", slog.Any("error", err))
	}
}
