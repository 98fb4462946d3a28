package orderflow

import (
	"errors"
	"fmt"
	"strings"
)

// InsufficientStockError reports ingredients whose balance went negative
// during a deduction. It is advisory: the deduction it accompanies has
// already committed, and callers that only care about the commit can
// treat it as a warning.
type InsufficientStockError struct {
	OrderID       string
	IngredientIDs []string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("order %s: insufficient stock for %s",
		e.OrderID, strings.Join(e.IngredientIDs, ", "))
}

// ConcurrencyConflictError means store contention persisted through the
// bounded retry loop. The transition did not commit and can be retried
// by the caller.
type ConcurrencyConflictError struct {
	OrderID  string
	Attempts int
	Err      error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("order %s: store contention after %d attempts: %v",
		e.OrderID, e.Attempts, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error {
	return e.Err
}

// IsInsufficientStock reports whether err is an advisory insufficiency.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

// IsConcurrencyConflict reports whether err is exhausted store contention.
func IsConcurrencyConflict(err error) bool {
	var target *ConcurrencyConflictError
	return errors.As(err, &target)
}
