// Package inventorytest provides an in-memory stock ledger store for tests of
// the packages that post stock movements.
package inventorytest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/opsledger/internal/inventory"
)

// Store keeps balances and movements in memory. Transactions are serialised
// and copy-on-write, so an aborted transaction leaves no trace.
type Store struct {
	mu        sync.Mutex
	balances  map[inventory.BalanceKey]inventory.Balance
	movements []inventory.Movement
	nextID    int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{balances: make(map[inventory.BalanceKey]inventory.Balance)}
}

// Seed sets the quantity of a balance outside any transaction.
func (s *Store) Seed(branchID, productID int64, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := inventory.BalanceKey{BranchID: branchID, ProductID: productID}
	bal := s.balances[key]
	bal.BranchID, bal.ProductID, bal.Quantity = branchID, productID, qty
	s.balances[key] = bal
}

// Quantity returns the committed quantity of a balance.
func (s *Store) Quantity(branchID, productID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[inventory.BalanceKey{BranchID: branchID, ProductID: productID}].Quantity
}

// Movements returns a copy of the committed movements.
func (s *Store) Movements() []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.Movement, len(s.movements))
	copy(out, s.movements)
	return out
}

// Tx is an open copy-on-write transaction over the Store.
type Tx struct {
	store     *Store
	balances  map[inventory.BalanceKey]inventory.Balance
	movements []inventory.Movement
	nextID    int64
	// Locks records LockBalance calls in order.
	Locks []inventory.BalanceKey
}

// Lock serialises transactions; pair every Lock with Unlock.
func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }

// Begin opens a transaction. The caller must hold the store lock.
func (s *Store) Begin() *Tx {
	balances := make(map[inventory.BalanceKey]inventory.Balance, len(s.balances))
	for k, v := range s.balances {
		balances[k] = v
	}
	return &Tx{store: s, balances: balances, nextID: s.nextID}
}

// Commit publishes the transaction's writes. The caller must hold the store lock.
func (t *Tx) Commit() {
	t.store.balances = t.balances
	t.store.movements = append(t.store.movements, t.movements...)
	t.store.nextID = t.nextID
}

func (t *Tx) LockBalance(ctx context.Context, key inventory.BalanceKey) (inventory.Balance, error) {
	t.Locks = append(t.Locks, key)
	bal, ok := t.balances[key]
	if !ok {
		bal = inventory.Balance{BranchID: key.BranchID, ProductID: key.ProductID, UpdatedAt: time.Now().UTC()}
		t.balances[key] = bal
	}
	return bal, nil
}

func (t *Tx) SaveQuantity(ctx context.Context, key inventory.BalanceKey, qty decimal.Decimal) error {
	bal := t.balances[key]
	bal.Quantity = qty
	t.balances[key] = bal
	return nil
}

func (t *Tx) SaveLevels(ctx context.Context, key inventory.BalanceKey, minLevel, maxLevel decimal.NullDecimal) error {
	bal := t.balances[key]
	bal.MinLevel, bal.MaxLevel = minLevel, maxLevel
	t.balances[key] = bal
	return nil
}

func (t *Tx) InsertMovement(ctx context.Context, m inventory.Movement) (int64, error) {
	t.nextID++
	m.ID = t.nextID
	t.movements = append(t.movements, m)
	return m.ID, nil
}

// Repository adapts Store to inventory.RepositoryPort.
type Repository struct {
	*Store
}

// NewRepository wraps store.
func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	r.Lock()
	defer r.Unlock()
	tx := r.Begin()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

func (r *Repository) GetBalance(ctx context.Context, key inventory.BalanceKey) (inventory.Balance, error) {
	r.Lock()
	defer r.Unlock()
	bal, ok := r.balances[key]
	if !ok {
		return inventory.Balance{BranchID: key.BranchID, ProductID: key.ProductID}, nil
	}
	return bal, nil
}

func (r *Repository) ListBalances(ctx context.Context, branchID int64) ([]inventory.Balance, error) {
	r.Lock()
	defer r.Unlock()
	var out []inventory.Balance
	for _, bal := range r.balances {
		if bal.BranchID == branchID {
			out = append(out, bal)
		}
	}
	return out, nil
}

func (r *Repository) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	r.Lock()
	defer r.Unlock()
	var out []inventory.Movement
	for _, m := range r.movements {
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		if filter.BranchID != 0 && m.FromBranchID != filter.BranchID && m.ToBranchID != filter.BranchID {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *Repository) LowStock(ctx context.Context, branchID int64) ([]inventory.Balance, error) {
	r.Lock()
	defer r.Unlock()
	var out []inventory.Balance
	for _, bal := range r.balances {
		if branchID != 0 && bal.BranchID != branchID {
			continue
		}
		if bal.BelowMinimum() {
			out = append(out, bal)
		}
	}
	return out, nil
}
