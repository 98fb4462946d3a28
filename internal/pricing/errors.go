package pricing

import (
	"errors"
	"fmt"
)

// InvalidYieldError is returned when a per-serving price is requested for
// a recipe whose yield is not positive.
type InvalidYieldError struct {
	Yield int
}

// Error implements the error interface.
func (e *InvalidYieldError) Error() string {
	return fmt.Sprintf("INVALID_YIELD: yield %d must be > 0", e.Yield)
}

// InvalidConfigError is returned when a pricing configuration fails
// validation. Rejected before any computation.
type InvalidConfigError struct {
	Reason string
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("INVALID_CONFIG: %s", e.Reason)
}

// IsInvalidYield returns true if the error is an InvalidYieldError.
// Uses errors.As to handle wrapped errors.
func IsInvalidYield(err error) bool {
	var ie *InvalidYieldError
	return errors.As(err, &ie)
}

// IsInvalidConfig returns true if the error is an InvalidConfigError.
func IsInvalidConfig(err error) bool {
	var ie *InvalidConfigError
	return errors.As(err, &ie)
}
