package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/opsledger/internal/shared"
)

var errPersistence = shared.ErrPersistence

// PostgreSQL SQLSTATE codes the ledger reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Classify maps raw driver errors onto the shared taxonomy. Errors already
// carrying a taxonomy sentinel are returned untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if alreadyClassified(err) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s (%s)", shared.ErrConflict, pgErr.Message, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s (%s)", shared.ErrNotFound, pgErr.Message, pgErr.ConstraintName)
		case codeCheckViolation:
			return fmt.Errorf("%w: %s (%s)", shared.ErrValidation, pgErr.Message, pgErr.ConstraintName)
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", shared.ErrPersistence, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", shared.ErrPersistence, err)
}

func alreadyClassified(err error) bool {
	for _, target := range []error{
		shared.ErrValidation,
		shared.ErrNotFound,
		shared.ErrConflict,
		shared.ErrUnauthorized,
		shared.ErrInsufficientStock,
		shared.ErrPersistence,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
