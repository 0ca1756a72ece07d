package query

import (
	"errors"
	"fmt"
)

// ErrUnsupportedOperator is returned when a filter uses an operator key
// that is not in the operator registry.
var ErrUnsupportedOperator = errors.New("strata: unsupported operator")

// UnsupportedOperatorError reports a filter operator key outside the
// operator registry.
type UnsupportedOperatorError struct {
	Operator string
	Field    string
}

func (e *UnsupportedOperatorError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("strata: unsupported operator %q on field %q", e.Operator, e.Field)
	}
	return fmt.Sprintf("strata: unsupported operator %q", e.Operator)
}

// Is reports whether the target matches ErrUnsupportedOperator.
func (e *UnsupportedOperatorError) Is(err error) bool {
	return err == ErrUnsupportedOperator
}

// NewUnsupportedOperatorError returns a new UnsupportedOperatorError.
func NewUnsupportedOperatorError(operator, field string) *UnsupportedOperatorError {
	return &UnsupportedOperatorError{Operator: operator, Field: field}
}

// IsUnsupportedOperator returns true if the error is an UnsupportedOperatorError.
func IsUnsupportedOperator(err error) bool {
	if err == nil {
		return false
	}
	var e *UnsupportedOperatorError
	return errors.As(err, &e) || errors.Is(err, ErrUnsupportedOperator)
}
