package allowances

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

// Allowance is an employee allowance voucher. Total is the sum of its items.
type Allowance struct {
	ID            int64           `json:"id"`
	EmployeeID    int64           `json:"employee_id"`
	BranchID      int64           `json:"branch_id"`
	AllowanceDate time.Time       `json:"allowance_date"`
	Note          string          `json:"note"`
	Total         decimal.Decimal `json:"total"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []Item          `json:"items,omitempty"`
}

// Item is one allowance line: unit value times quantity.
type Item struct {
	ID          int64           `json:"id"`
	AllowanceID int64           `json:"allowance_id"`
	Description string          `json:"description"`
	UnitValue   decimal.Decimal `json:"unit_value"`
	Quantity    decimal.Decimal `json:"quantity"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

// CreateInput opens an allowance voucher.
type CreateInput struct {
	EmployeeID    int64     `json:"employee_id" validate:"required,gt=0"`
	BranchID      int64     `json:"branch_id" validate:"required,gt=0"`
	AllowanceDate time.Time `json:"allowance_date" validate:"required"`
	Note          string    `json:"note" validate:"max=500"`
}

// ItemInput is one requested allowance line.
type ItemInput struct {
	Description string          `json:"description" validate:"required,max=200"`
	UnitValue   decimal.Decimal `json:"unit_value"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// Validate checks one line.
func (in ItemInput) Validate() error {
	if err := shared.Validate(in); err != nil {
		return err
	}
	if err := shared.RequireNonNegative("unit_value", in.UnitValue); err != nil {
		return err
	}
	return shared.RequirePositive("quantity", in.Quantity)
}

// Sum totals item values.
func Sum(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.TotalValue)
	}
	return total
}
