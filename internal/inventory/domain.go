package inventory

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

// MovementType enumerates supported inventory movements.
type MovementType string

const (
	// MovementPurchase receives stock into a branch.
	MovementPurchase MovementType = "purchase"
	// MovementSale issues stock from a branch against a sales order.
	MovementSale MovementType = "sale"
	// MovementAdjustment corrects a balance in either direction.
	MovementAdjustment MovementType = "adjustment"
	// MovementTransferIn receives stock from another branch.
	MovementTransferIn MovementType = "transfer_in"
	// MovementTransferOut issues stock to another branch.
	MovementTransferOut MovementType = "transfer_out"
)

// ParseMovementType rejects anything outside the closed set.
func ParseMovementType(raw string) (MovementType, error) {
	t := MovementType(raw)
	if !t.Valid() {
		return "", shared.Validationf("unknown movement type %q", raw)
	}
	return t, nil
}

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementAdjustment, MovementTransferIn, MovementTransferOut:
		return true
	}
	return false
}

// Balance is the on-hand quantity of one product at one branch.
type Balance struct {
	ProductID int64               `json:"product_id"`
	BranchID  int64               `json:"branch_id"`
	Quantity  decimal.Decimal     `json:"quantity"`
	MinLevel  decimal.NullDecimal `json:"min_level"`
	MaxLevel  decimal.NullDecimal `json:"max_level"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// BelowMinimum reports whether the balance dropped under its reorder threshold.
func (b Balance) BelowMinimum() bool {
	return b.MinLevel.Valid && b.Quantity.LessThan(b.MinLevel.Decimal)
}

// Movement is an immutable audit record of a stock change.
type Movement struct {
	ID           int64           `json:"id"`
	Ref          uuid.UUID       `json:"ref"`
	ProductID    int64           `json:"product_id"`
	FromBranchID int64           `json:"from_branch_id,omitempty"`
	ToBranchID   int64           `json:"to_branch_id,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	Type         MovementType    `json:"type"`
	RefModule    string          `json:"ref_module,omitempty"`
	RefID        int64           `json:"ref_id,omitempty"`
	Note         string          `json:"note"`
	CreatedBy    int64           `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MovementInput describes a requested stock change.
type MovementInput struct {
	ProductID    int64           `validate:"required,gt=0"`
	FromBranchID int64           `validate:"gte=0"`
	ToBranchID   int64           `validate:"gte=0"`
	Quantity     decimal.Decimal `validate:"-"`
	Type         MovementType    `validate:"required"`
	Note         string          `validate:"max=500"`
	ActorID      int64           `validate:"gte=0"`
	RefModule    string          `validate:"max=50"`
	RefID        int64           `validate:"gte=0"`
	// Ref groups related movements such as the two halves of a transfer.
	Ref uuid.UUID `validate:"-"`
}

// SetLevelsInput adjusts reorder thresholds. Nil leaves a level unchanged.
type SetLevelsInput struct {
	ProductID int64 `validate:"required,gt=0"`
	BranchID  int64 `validate:"required,gt=0"`
	MinLevel  *decimal.Decimal
	MaxLevel  *decimal.Decimal
}

// MovementFilter filters movement listings.
type MovementFilter struct {
	ProductID int64
	BranchID  int64
	Type      MovementType
	From      time.Time
	To        time.Time
	Limit     int
}

// BalanceKey identifies one balance row.
type BalanceKey struct {
	BranchID  int64
	ProductID int64
}

// SortKeys orders keys by branch id, then product id, and drops duplicates.
// Every multi-row lock acquisition goes through this order.
func SortKeys(keys []BalanceKey) []BalanceKey {
	out := make([]BalanceKey, 0, len(keys))
	seen := make(map[BalanceKey]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BranchID != out[j].BranchID {
			return out[i].BranchID < out[j].BranchID
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}

// effect resolves which balance a movement touches and by how much.
func (in MovementInput) effect() (BalanceKey, decimal.Decimal, error) {
	switch in.Type {
	case MovementPurchase, MovementTransferIn:
		if in.ToBranchID == 0 {
			return BalanceKey{}, decimal.Zero, shared.Validationf("%s requires a destination branch", in.Type)
		}
		return BalanceKey{BranchID: in.ToBranchID, ProductID: in.ProductID}, in.Quantity, nil
	case MovementSale, MovementTransferOut:
		if in.FromBranchID == 0 {
			return BalanceKey{}, decimal.Zero, shared.Validationf("%s requires a source branch", in.Type)
		}
		return BalanceKey{BranchID: in.FromBranchID, ProductID: in.ProductID}, in.Quantity.Neg(), nil
	case MovementAdjustment:
		switch {
		case in.FromBranchID != 0 && in.ToBranchID == 0:
			return BalanceKey{BranchID: in.FromBranchID, ProductID: in.ProductID}, in.Quantity.Neg(), nil
		case in.ToBranchID != 0 && in.FromBranchID == 0:
			return BalanceKey{BranchID: in.ToBranchID, ProductID: in.ProductID}, in.Quantity, nil
		default:
			return BalanceKey{}, decimal.Zero, shared.Validationf("adjustment requires exactly one of source or destination branch")
		}
	}
	return BalanceKey{}, decimal.Zero, shared.Validationf("unknown movement type %q", in.Type)
}

// Validate checks the input without touching the store.
func (in MovementInput) Validate() error {
	if err := shared.Validate(in); err != nil {
		return err
	}
	if !in.Type.Valid() {
		return shared.Validationf("unknown movement type %q", in.Type)
	}
	if err := shared.RequirePositive("quantity", in.Quantity); err != nil {
		return err
	}
	if in.FromBranchID != 0 && in.FromBranchID == in.ToBranchID {
		return shared.Validationf("source and destination branch must differ")
	}
	_, _, err := in.effect()
	return err
}

// Validate checks level bounds.
func (in SetLevelsInput) Validate() error {
	if err := shared.Validate(in); err != nil {
		return err
	}
	if in.MinLevel == nil && in.MaxLevel == nil {
		return shared.Validationf("at least one of min_level or max_level is required")
	}
	if in.MinLevel != nil {
		if err := shared.RequireNonNegative("min_level", *in.MinLevel); err != nil {
			return err
		}
	}
	if in.MaxLevel != nil {
		if err := shared.RequireNonNegative("max_level", *in.MaxLevel); err != nil {
			return err
		}
	}
	if in.MinLevel != nil && in.MaxLevel != nil && in.MinLevel.GreaterThan(*in.MaxLevel) {
		return shared.Validationf("min_level must not exceed max_level")
	}
	return nil
}
