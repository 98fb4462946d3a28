package ledger

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a referenced ingredient does not exist.
// Existence is the caller's responsibility to have validated upstream;
// the ledger fails fast rather than skipping.
type NotFoundError struct {
	IngredientID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("NOT_FOUND: ingredient %s does not exist", e.IngredientID)
}

// InvalidCostError is returned when a cost mutation carries a negative
// value. Rejected before any state changes.
type InvalidCostError struct {
	IngredientID string
	Cost         string
}

// Error implements the error interface.
func (e *InvalidCostError) Error() string {
	return fmt.Sprintf("INVALID_COST: cost %s for ingredient %s must be >= 0", e.Cost, e.IngredientID)
}

// InvalidDensityError is returned when an ingredient mutation carries a
// non-positive density. Density divides mass<->volume conversions, so a
// zero or negative value can never be stored.
type InvalidDensityError struct {
	IngredientID string
	Density      string
}

// Error implements the error interface.
func (e *InvalidDensityError) Error() string {
	return fmt.Sprintf("INVALID_DENSITY: density %s for ingredient %s must be > 0", e.Density, e.IngredientID)
}

// UntrackedError is returned by stock queries for ingredients that do not
// track quantity on hand.
type UntrackedError struct {
	IngredientID string
}

// Error implements the error interface.
func (e *UntrackedError) Error() string {
	return fmt.Sprintf("UNTRACKED: ingredient %s does not track stock", e.IngredientID)
}

// ReferencedError is returned when deleting an ingredient that is still
// referenced by recipe lines.
type ReferencedError struct {
	IngredientID string
	References   int
}

// Error implements the error interface.
func (e *ReferencedError) Error() string {
	return fmt.Sprintf("REFERENCED: ingredient %s is referenced by %d recipe line(s)", e.IngredientID, e.References)
}

// IsNotFound returns true if the error is a NotFoundError.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsInvalidCost returns true if the error is an InvalidCostError.
func IsInvalidCost(err error) bool {
	var ie *InvalidCostError
	return errors.As(err, &ie)
}

// IsInvalidDensity returns true if the error is an InvalidDensityError.
func IsInvalidDensity(err error) bool {
	var de *InvalidDensityError
	return errors.As(err, &de)
}

// IsUntracked returns true if the error is an UntrackedError.
func IsUntracked(err error) bool {
	var ue *UntrackedError
	return errors.As(err, &ue)
}

// IsReferenced returns true if the error is a ReferencedError.
func IsReferenced(err error) bool {
	var re *ReferencedError
	return errors.As(err, &re)
}
