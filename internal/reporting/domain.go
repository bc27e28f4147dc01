package reporting

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

// Dimension names a grouping of the order ledger.
type Dimension string

const (
	ByDay      Dimension = "daily"
	ByMonth    Dimension = "monthly"
	ByParty    Dimension = "party"
	ByEmployee Dimension = "employee"
)

// OrderTotals is the stored money projection of one sales order.
type OrderTotals struct {
	ID         int64
	BranchID   int64
	PartyID    int64
	EmployeeID int64
	Status     string
	CreatedAt  time.Time
	GrandTotal decimal.Decimal
	PaidTotal  decimal.Decimal
	DueTotal   decimal.Decimal
}

// Row is one bucket of a summary.
type Row struct {
	Key        string          `json:"key"`
	Orders     int             `json:"orders"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	PaidTotal  decimal.Decimal `json:"paid_total"`
	DueTotal   decimal.Decimal `json:"due_total"`
}

// Summary groups the filtered orders along one dimension.
type Summary struct {
	Dimension Dimension `json:"dimension"`
	Rows      []Row     `json:"rows"`
	Total     Row       `json:"total"`
}

// Dashboard bundles every summary for one filter.
type Dashboard struct {
	Daily      Summary `json:"daily"`
	Monthly    Summary `json:"monthly"`
	ByParty    Summary `json:"by_party"`
	ByEmployee Summary `json:"by_employee"`
}

// Filter scopes the orders that feed a summary. From is inclusive, To exclusive.
type Filter struct {
	BranchID int64
	Status   string
	From     time.Time
	To       time.Time
}

// Validate rejects inverted ranges and unknown statuses.
func (f Filter) Validate() error {
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return shared.Validationf("from must be before to")
	}
	switch f.Status {
	case "", "draft", "posted":
	default:
		return shared.Validationf("unknown order status %q", f.Status)
	}
	return nil
}

func (f Filter) token() string {
	return strconv.FormatInt(f.BranchID, 10) + ":" + f.Status + ":" + day(f.From) + ":" + day(f.To)
}

func day(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// Group sums stored totals per bucket. Orders without a party or employee fall
// into the "unassigned" bucket so the grand total always covers every order.
func Group(dim Dimension, orders []OrderTotals) Summary {
	buckets := map[string]*Row{}
	total := Row{Key: "total"}
	for _, o := range orders {
		key := bucket(dim, o)
		row, ok := buckets[key]
		if !ok {
			row = &Row{Key: key}
			buckets[key] = row
		}
		row.add(o)
		total.add(o)
	}
	rows := make([]Row, 0, len(buckets))
	for _, row := range buckets {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return Summary{Dimension: dim, Rows: rows, Total: total}
}

func (r *Row) add(o OrderTotals) {
	r.Orders++
	r.GrandTotal = r.GrandTotal.Add(o.GrandTotal)
	r.PaidTotal = r.PaidTotal.Add(o.PaidTotal)
	r.DueTotal = r.DueTotal.Add(o.DueTotal)
}

func bucket(dim Dimension, o OrderTotals) string {
	switch dim {
	case ByDay:
		return o.CreatedAt.UTC().Format("2006-01-02")
	case ByMonth:
		return o.CreatedAt.UTC().Format("2006-01")
	case ByParty:
		return idKey(o.PartyID)
	case ByEmployee:
		return idKey(o.EmployeeID)
	}
	return ""
}

func idKey(id int64) string {
	if id == 0 {
		return "unassigned"
	}
	return strconv.FormatInt(id, 10)
}
