package recipe

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a recipe id does not exist.
type NotFoundError struct {
	RecipeID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("NOT_FOUND: recipe %s does not exist", e.RecipeID)
}

// MissingIngredientError is returned when a recipe line references an
// ingredient that no longer exists. Cost computation fails fast rather
// than silently skipping the line.
type MissingIngredientError struct {
	RecipeID     string
	IngredientID string
}

// Error implements the error interface.
func (e *MissingIngredientError) Error() string {
	return fmt.Sprintf("MISSING_INGREDIENT: recipe %s references missing ingredient %s", e.RecipeID, e.IngredientID)
}

// InvalidQuantityError is returned when a recipe line carries a
// non-positive quantity. Rejected before anything is persisted.
type InvalidQuantityError struct {
	RecipeID     string
	IngredientID string
	Quantity     string
}

// Error implements the error interface.
func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("INVALID_QUANTITY: quantity %s for ingredient %s in recipe %s must be > 0", e.Quantity, e.IngredientID, e.RecipeID)
}

// IsNotFound returns true if the error is a NotFoundError.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsInvalidQuantity returns true if the error is an InvalidQuantityError.
func IsInvalidQuantity(err error) bool {
	var qe *InvalidQuantityError
	return errors.As(err, &qe)
}

// IsMissingIngredient returns true if the error is a MissingIngredientError.
func IsMissingIngredient(err error) bool {
	var me *MissingIngredientError
	return errors.As(err, &me)
}
