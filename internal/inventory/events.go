package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LowStockEvent reports a balance that fell under its minimum level.
type LowStockEvent struct {
	ProductID int64
	BranchID  int64
	Quantity  decimal.Decimal
	MinLevel  decimal.Decimal
	At        time.Time
}

// EventHandler receives stock ledger events after commit.
type EventHandler interface {
	HandleLowStock(ctx context.Context, evt LowStockEvent) error
}

// LowStockEvents converts balances under their minimum into events.
func LowStockEvents(balances []Balance, at time.Time) []LowStockEvent {
	var events []LowStockEvent
	for _, bal := range balances {
		if !bal.BelowMinimum() {
			continue
		}
		events = append(events, LowStockEvent{
			ProductID: bal.ProductID,
			BranchID:  bal.BranchID,
			Quantity:  bal.Quantity,
			MinLevel:  bal.MinLevel.Decimal,
			At:        at,
		})
	}
	return events
}
