package payroll

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

// RunStatus enumerates payroll run states.
type RunStatus string

const (
	// RunDraft accepts Generate and may be regenerated.
	RunDraft RunStatus = "draft"
	// RunLocked holds generated items pending approval.
	RunLocked RunStatus = "locked"
	// RunApproved is ready to pay.
	RunApproved RunStatus = "approved"
	// RunPaid is terminal.
	RunPaid RunStatus = "paid"
)

// moneyScale matches the NUMERIC(18,4) pay columns.
const moneyScale = 4

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunDraft, RunLocked, RunApproved, RunPaid:
		return true
	}
	return false
}

// Profile is an employee's dated compensation structure. Percentages are fractions (0.4 = 40%).
type Profile struct {
	ID                  int64               `json:"id"`
	EmployeeID          int64               `json:"employee_id"`
	EffectiveFrom       time.Time           `json:"effective_from"`
	Currency            string              `json:"currency"`
	MonthlyGross        decimal.NullDecimal `json:"monthly_gross"`
	MonthlyBasic        decimal.Decimal     `json:"monthly_basic"`
	HouseRentPercent    decimal.Decimal     `json:"house_rent_percent"`
	MedicalAllowance    decimal.Decimal     `json:"medical_allowance"`
	ConveyanceAllowance decimal.Decimal     `json:"conveyance_allowance"`
	PFEmployeePercent   decimal.Decimal     `json:"pf_employee_percent"`
	PFEmployerPercent   decimal.Decimal     `json:"pf_employer_percent"`
	TaxMonthly          decimal.Decimal     `json:"tax_monthly"`
	IsActive            bool                `json:"is_active"`
	CreatedAt           time.Time           `json:"created_at"`
}

// Pay is the computed monthly pay of one profile.
type Pay struct {
	HouseRent  decimal.Decimal
	PFEmployee decimal.Decimal
	Gross      decimal.Decimal
	Deductions decimal.Decimal
	Net        decimal.Decimal
}

// Compute derives monthly pay. An explicit monthly gross overrides the component sum.
// Every component is rounded to the stored money scale before it is summed, so
// run totals equal the sum of the stored items.
func (p Profile) Compute() Pay {
	basic := p.MonthlyBasic.Round(moneyScale)
	pay := Pay{
		HouseRent:  basic.Mul(p.HouseRentPercent).Round(moneyScale),
		PFEmployee: basic.Mul(p.PFEmployeePercent).Round(moneyScale),
	}
	if p.MonthlyGross.Valid {
		pay.Gross = p.MonthlyGross.Decimal.Round(moneyScale)
	} else {
		pay.Gross = basic.Add(pay.HouseRent).
			Add(p.MedicalAllowance.Round(moneyScale)).
			Add(p.ConveyanceAllowance.Round(moneyScale))
	}
	pay.Deductions = pay.PFEmployee.Add(p.TaxMonthly.Round(moneyScale))
	pay.Net = pay.Gross.Sub(pay.Deductions)
	return pay
}

// Run is one payroll processing cycle.
type Run struct {
	ID          int64           `json:"id"`
	BranchID    int64           `json:"branch_id,omitempty"`
	PeriodYear  int             `json:"period_year"`
	PeriodMonth int             `json:"period_month"`
	FromDate    time.Time       `json:"from_date"`
	ToDate      time.Time       `json:"to_date"`
	Status      RunStatus       `json:"status"`
	TotalGross  decimal.Decimal `json:"total_gross"`
	TotalNet    decimal.Decimal `json:"total_net"`
	ApprovedBy  int64           `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	PaidBy      int64           `json:"paid_by,omitempty"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Items       []Item          `json:"items,omitempty"`
}

// Item is one employee's generated pay within a run.
type Item struct {
	ID              int64           `json:"id"`
	RunID           int64           `json:"run_id"`
	EmployeeID      int64           `json:"employee_id"`
	ProfileID       int64           `json:"profile_id"`
	GrossPay        decimal.Decimal `json:"gross_pay"`
	TotalEarnings   decimal.Decimal `json:"total_earnings"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
	NetPay          decimal.Decimal `json:"net_pay"`
}

// NewItem prices a profile into a run item.
func NewItem(runID int64, p Profile) Item {
	pay := p.Compute()
	return Item{
		RunID:           runID,
		EmployeeID:      p.EmployeeID,
		ProfileID:       p.ID,
		GrossPay:        pay.Gross,
		TotalEarnings:   pay.Gross,
		TotalDeductions: pay.Deductions,
		NetPay:          pay.Net,
	}
}

// CreateRunInput opens a draft run. Zero BranchID covers every branch.
type CreateRunInput struct {
	BranchID    int64     `json:"branch_id" validate:"gte=0"`
	PeriodYear  int       `json:"period_year" validate:"required,gte=2000,lte=2100"`
	PeriodMonth int       `json:"period_month" validate:"required,gte=1,lte=12"`
	FromDate    time.Time `json:"from_date" validate:"required"`
	ToDate      time.Time `json:"to_date" validate:"required"`
}

// Validate checks the period bounds.
func (in CreateRunInput) Validate() error {
	if err := shared.Validate(in); err != nil {
		return err
	}
	if in.FromDate.After(in.ToDate) {
		return shared.Validationf("from_date must not be after to_date")
	}
	return nil
}

// ProfileInput creates a salary profile.
type ProfileInput struct {
	EmployeeID          int64               `json:"employee_id" validate:"required,gt=0"`
	EffectiveFrom       time.Time           `json:"effective_from" validate:"required"`
	Currency            string              `json:"currency" validate:"required,len=3"`
	MonthlyGross        decimal.NullDecimal `json:"monthly_gross"`
	MonthlyBasic        decimal.Decimal     `json:"monthly_basic"`
	HouseRentPercent    decimal.Decimal     `json:"house_rent_percent"`
	MedicalAllowance    decimal.Decimal     `json:"medical_allowance"`
	ConveyanceAllowance decimal.Decimal     `json:"conveyance_allowance"`
	PFEmployeePercent   decimal.Decimal     `json:"pf_employee_percent"`
	PFEmployerPercent   decimal.Decimal     `json:"pf_employer_percent"`
	TaxMonthly          decimal.Decimal     `json:"tax_monthly"`
	Inactive            bool                `json:"inactive"`
}

// Validate checks amounts, fractions and the ISO 4217 currency code.
func (in ProfileInput) Validate() error {
	if err := shared.Validate(in); err != nil {
		return err
	}
	if _, err := currency.ParseISO(strings.ToUpper(in.Currency)); err != nil {
		return shared.Validationf("unknown currency %q", in.Currency)
	}
	if in.MonthlyGross.Valid {
		if err := shared.RequireNonNegative("monthly_gross", in.MonthlyGross.Decimal); err != nil {
			return err
		}
	}
	amounts := []struct {
		name string
		v    decimal.Decimal
	}{
		{"monthly_basic", in.MonthlyBasic},
		{"medical_allowance", in.MedicalAllowance},
		{"conveyance_allowance", in.ConveyanceAllowance},
		{"tax_monthly", in.TaxMonthly},
	}
	for _, a := range amounts {
		if err := shared.RequireNonNegative(a.name, a.v); err != nil {
			return err
		}
	}
	one := decimal.NewFromInt(1)
	fractions := []struct {
		name string
		v    decimal.Decimal
	}{
		{"house_rent_percent", in.HouseRentPercent},
		{"pf_employee_percent", in.PFEmployeePercent},
		{"pf_employer_percent", in.PFEmployerPercent},
	}
	for _, f := range fractions {
		if err := shared.RequireRange(f.name, f.v, decimal.Zero, one); err != nil {
			return err
		}
	}
	return nil
}

func (in ProfileInput) profile(at time.Time) Profile {
	return Profile{
		EmployeeID:          in.EmployeeID,
		EffectiveFrom:       in.EffectiveFrom,
		Currency:            strings.ToUpper(in.Currency),
		MonthlyGross:        in.MonthlyGross,
		MonthlyBasic:        in.MonthlyBasic,
		HouseRentPercent:    in.HouseRentPercent,
		MedicalAllowance:    in.MedicalAllowance,
		ConveyanceAllowance: in.ConveyanceAllowance,
		PFEmployeePercent:   in.PFEmployeePercent,
		PFEmployerPercent:   in.PFEmployerPercent,
		TaxMonthly:          in.TaxMonthly,
		IsActive:            !in.Inactive,
		CreatedAt:           at,
	}
}
