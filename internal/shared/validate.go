package shared

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags and converts failures into ErrValidation.
func Validate(input any) error {
	err := validatorInstance().Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// RequirePositive rejects zero or negative decimals.
func RequirePositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return Validationf("%s must be greater than zero", field)
	}
	return nil
}

// RequireNonNegative rejects negative decimals.
func RequireNonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return Validationf("%s must not be negative", field)
	}
	return nil
}

// RequireRange rejects decimals outside [lo, hi].
func RequireRange(field string, v, lo, hi decimal.Decimal) error {
	if v.LessThan(lo) || v.GreaterThan(hi) {
		return Validationf("%s must be between %s and %s", field, lo.String(), hi.String())
	}
	return nil
}
