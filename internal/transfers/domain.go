package transfers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

// Status enumerates branch transfer states.
type Status string

const (
	// StatusPending transfers are open and await approval.
	StatusPending Status = "pending"
	// StatusApproved transfers are open and await the destination branch.
	StatusApproved Status = "approved"
	// StatusCompleted transfers have moved stock. Terminal.
	StatusCompleted Status = "completed"
	// StatusCancelled transfers never moved stock. Terminal.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Open reports whether the transfer may still complete or be cancelled.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusApproved
}

// Transfer moves stock from one branch to another.
type Transfer struct {
	ID           int64     `json:"id"`
	FromBranchID int64     `json:"from_branch_id"`
	ToBranchID   int64     `json:"to_branch_id"`
	Status       Status    `json:"status"`
	Note         string    `json:"note"`
	CreatedBy    int64     `json:"created_by,omitempty"`
	ApprovedBy   int64     `json:"approved_by,omitempty"`
	CompletedBy  int64     `json:"completed_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Items        []Item    `json:"items,omitempty"`
}

// Item is an immutable transfer line.
type Item struct {
	ID         int64           `json:"id"`
	TransferID int64           `json:"transfer_id"`
	ProductID  int64           `json:"product_id"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// ItemInput requests one product quantity.
type ItemInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// CreateInput opens a pending transfer.
type CreateInput struct {
	FromBranchID int64       `json:"from_branch_id" validate:"required,gt=0"`
	ToBranchID   int64       `json:"to_branch_id" validate:"required,gt=0,nefield=FromBranchID"`
	Note         string      `json:"note" validate:"max=500"`
	Items        []ItemInput `json:"items" validate:"required,min=1,dive"`
	ActorID      int64       `json:"-"`
}

// Filter narrows transfer listings. BranchID matches either side.
type Filter struct {
	Status   Status
	BranchID int64
	Limit    int
}

// Validate checks the transfer request.
func (in CreateInput) Validate() error {
	if err := shared.Validate(in); err != nil {
		return err
	}
	for i, it := range in.Items {
		if err := shared.RequirePositive("quantity", it.Quantity); err != nil {
			return shared.Validationf("item %d: %v", i+1, err)
		}
	}
	return nil
}
