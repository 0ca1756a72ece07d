package migrate

import (
	"errors"
	"fmt"
)

// ErrUnsupportedOperation is returned when the applier encounters a
// schema operation it does not implement.
var ErrUnsupportedOperation = errors.New("strata: unsupported schema operation")

// UnsupportedOperationError reports a schema operation the applier does
// not implement. It indicates a differ/applier version mismatch.
type UnsupportedOperationError struct {
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("strata: unsupported schema operation %q", e.Operation)
}

// Is reports whether the target matches ErrUnsupportedOperation.
func (e *UnsupportedOperationError) Is(err error) bool {
	return err == ErrUnsupportedOperation
}

// NewUnsupportedOperationError returns a new UnsupportedOperationError.
func NewUnsupportedOperationError(op string) *UnsupportedOperationError {
	return &UnsupportedOperationError{Operation: op}
}

// IsUnsupportedOperation returns true if the error is an
// UnsupportedOperationError.
func IsUnsupportedOperation(err error) bool {
	if err == nil {
		return false
	}
	var e *UnsupportedOperationError
	return errors.As(err, &e) || errors.Is(err, ErrUnsupportedOperation)
}
