package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

// OrderStatus enumerates sales order states.
type OrderStatus string

const (
	// OrderStatusDraft orders accept item and header edits.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusPosted orders have deducted stock. Items are frozen; payments are still accepted.
	OrderStatusPosted OrderStatus = "posted"
)

var hundred = decimal.NewFromInt(100)

// ============================================================================
// ORDER
// ============================================================================

// Order is a sales order header with its derived totals.
type Order struct {
	ID              int64           `json:"id"`
	BranchID        int64           `json:"branch_id"`
	PartyID         int64           `json:"party_id,omitempty"`
	EmployeeID      int64           `json:"employee_id,omitempty"`
	CustomerName    string          `json:"customer_name"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	CustomerAddress string          `json:"customer_address,omitempty"`
	Status          OrderStatus     `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountTotal   decimal.Decimal `json:"discount_total"`
	TaxTotal        decimal.Decimal `json:"tax_total"`
	ShippingTotal   decimal.Decimal `json:"shipping_total"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
	PaidTotal       decimal.Decimal `json:"paid_total"`
	DueTotal        decimal.Decimal `json:"due_total"`
	CreatedBy       int64           `json:"created_by,omitempty"`
	PostedBy        int64           `json:"posted_by,omitempty"`
	PostedAt        *time.Time      `json:"posted_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []Item          `json:"items,omitempty"`
	Payments        []Payment       `json:"payments,omitempty"`
}

// Item is one order line. Total is derived at insert time.
type Item struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id"`
	ProductID       int64           `json:"product_id"`
	BatchID         int64           `json:"batch_id,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Total           decimal.Decimal `json:"total"`
}

// Payment is an append-only receipt against an order.
type Payment struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Reference  string          `json:"reference,omitempty"`
	ReceivedBy int64           `json:"received_by"`
	PaidAt     time.Time       `json:"paid_at"`
}

// Totals are the derived money fields of an order.
type Totals struct {
	Subtotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	TaxTotal      decimal.Decimal
	ShippingTotal decimal.Decimal
	GrandTotal    decimal.Decimal
	PaidTotal     decimal.Decimal
	DueTotal      decimal.Decimal
}

// ItemTotal prices one line: gross minus flat and percentage discounts, floored at zero.
func ItemTotal(quantity, unitPrice, discountAmount, discountPercent decimal.Decimal) decimal.Decimal {
	gross := unitPrice.Mul(quantity)
	total := gross.Sub(discountAmount).Sub(gross.Mul(discountPercent).Div(hundred))
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// ComputeTotals derives order totals from its lines, payments and header charges.
// DueTotal is not clamped; an overpaid order carries a negative due.
func ComputeTotals(items []Item, payments []Payment, discount, tax, shipping decimal.Decimal) Totals {
	t := Totals{DiscountTotal: discount, TaxTotal: tax, ShippingTotal: shipping}
	for _, it := range items {
		t.Subtotal = t.Subtotal.Add(it.Total)
	}
	for _, p := range payments {
		t.PaidTotal = t.PaidTotal.Add(p.Amount)
	}
	t.GrandTotal = t.Subtotal.Sub(discount).Add(tax).Add(shipping)
	if t.GrandTotal.IsNegative() {
		t.GrandTotal = decimal.Zero
	}
	t.DueTotal = t.GrandTotal.Sub(t.PaidTotal)
	return t
}

func (o *Order) applyTotals(t Totals) {
	o.Subtotal = t.Subtotal
	o.DiscountTotal = t.DiscountTotal
	o.TaxTotal = t.TaxTotal
	o.ShippingTotal = t.ShippingTotal
	o.GrandTotal = t.GrandTotal
	o.PaidTotal = t.PaidTotal
	o.DueTotal = t.DueTotal
}

// ============================================================================
// INPUTS
// ============================================================================

// CreateOrderInput opens a draft order.
type CreateOrderInput struct {
	BranchID        int64  `json:"branch_id" validate:"required,gt=0"`
	PartyID         int64  `json:"party_id" validate:"gte=0"`
	EmployeeID      int64  `json:"employee_id" validate:"gte=0"`
	CustomerName    string `json:"customer_name" validate:"max=200"`
	CustomerPhone   string `json:"customer_phone" validate:"max=50"`
	CustomerAddress string `json:"customer_address" validate:"max=500"`
	ActorID         int64  `json:"-"`
}

// ItemInput is one requested order line.
type ItemInput struct {
	ProductID       int64           `json:"product_id" validate:"required,gt=0"`
	BatchID         int64           `json:"batch_id" validate:"gte=0"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// PaymentInput records money received.
type PaymentInput struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"required,max=50"`
	Reference string          `json:"reference" validate:"max=200"`
	ActorID   int64           `json:"-" validate:"required,gt=0"`
}

// UpdateOrderInput changes header fields of a draft order. Nil fields are untouched.
type UpdateOrderInput struct {
	CustomerName    *string          `json:"customer_name" validate:"omitempty,max=200"`
	CustomerPhone   *string          `json:"customer_phone" validate:"omitempty,max=50"`
	CustomerAddress *string          `json:"customer_address" validate:"omitempty,max=500"`
	DiscountTotal   *decimal.Decimal `json:"discount_total"`
	TaxTotal        *decimal.Decimal `json:"tax_total"`
	ShippingTotal   *decimal.Decimal `json:"shipping_total"`
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	BranchID   int64
	PartyID    int64
	EmployeeID int64
	Status     OrderStatus
	From       time.Time
	To         time.Time
	Limit      int
}

// Validate checks one line; the caller rejects the whole batch on the first failure.
func (in ItemInput) Validate() error {
	if err := shared.Validate(in); err != nil {
		return err
	}
	if err := shared.RequirePositive("quantity", in.Quantity); err != nil {
		return err
	}
	if err := shared.RequireNonNegative("unit_price", in.UnitPrice); err != nil {
		return err
	}
	if err := shared.RequireNonNegative("discount_amount", in.DiscountAmount); err != nil {
		return err
	}
	return shared.RequireRange("discount_percent", in.DiscountPercent, decimal.Zero, hundred)
}

// Validate checks the payment amount and fields.
func (in PaymentInput) Validate() error {
	if err := shared.Validate(in); err != nil {
		return err
	}
	return shared.RequirePositive("amount", in.Amount)
}

// Validate checks the optional header charges.
func (in UpdateOrderInput) Validate() error {
	if err := shared.Validate(in); err != nil {
		return err
	}
	for name, v := range map[string]*decimal.Decimal{
		"discount_total": in.DiscountTotal,
		"tax_total":      in.TaxTotal,
		"shipping_total": in.ShippingTotal,
	} {
		if v == nil {
			continue
		}
		if err := shared.RequireNonNegative(name, *v); err != nil {
			return err
		}
	}
	return nil
}

func (in UpdateOrderInput) apply(o *Order) {
	if in.CustomerName != nil {
		o.CustomerName = *in.CustomerName
	}
	if in.CustomerPhone != nil {
		o.CustomerPhone = *in.CustomerPhone
	}
	if in.CustomerAddress != nil {
		o.CustomerAddress = *in.CustomerAddress
	}
	if in.DiscountTotal != nil {
		o.DiscountTotal = *in.DiscountTotal
	}
	if in.TaxTotal != nil {
		o.TaxTotal = *in.TaxTotal
	}
	if in.ShippingTotal != nil {
		o.ShippingTotal = *in.ShippingTotal
	}
}
