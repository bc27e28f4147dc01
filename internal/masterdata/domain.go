package masterdata

import "github.com/shopspring/decimal"

// Branch is an operating location that holds stock.
type Branch struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Product is a stock keeping unit.
type Product struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Employee is a staff member who may sell, receive allowances or be paid.
type Employee struct {
	ID       int64  `json:"id"`
	BranchID int64  `json:"branch_id,omitempty"`
	FullName string `json:"full_name"`
	IsActive bool   `json:"is_active"`
}
