package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation marks malformed or out-of-range input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates an invalid state transition, including repeated terminal transitions.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized indicates the actor may not perform the operation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPersistence wraps transaction and infrastructure failures. Nothing was committed.
	ErrPersistence = errors.New("persistence failure")
	// ErrInsufficientStock is matched by every *InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError carries the balance that failed a quantity check.
type InsufficientStockError struct {
	ProductID int64
	BranchID  int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: product %d at branch %d has %s, requested %s",
		e.ProductID, e.BranchID, e.Available.String(), e.Requested.String())
}

// Is lets errors.Is(err, ErrInsufficientStock) match.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Validationf builds an ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf builds an ErrConflict with a formatted reason.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFoundf builds an ErrNotFound with a formatted reason.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether a caller may safely retry the failed call.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}
