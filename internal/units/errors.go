package units

import (
	"errors"
	"fmt"
)

// UnknownUnitError is returned when a unit symbol is not recognized.
// The offending symbol is preserved verbatim so callers can surface it
// for correction rather than silently defaulting.
type UnknownUnitError struct {
	Symbol string
}

// Error implements the error interface.
func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("UNKNOWN_UNIT: unrecognized unit symbol %q", e.Symbol)
}

// IncompatibleUnitsError is returned when no conversion path exists
// between two units - either a cross-dimension conversion without a
// density, or a dimension pair density cannot bridge (count).
type IncompatibleUnitsError struct {
	From   string
	To     string
	Reason string
}

// Error implements the error interface.
func (e *IncompatibleUnitsError) Error() string {
	return fmt.Sprintf("INCOMPATIBLE_UNITS: cannot convert %s to %s: %s", e.From, e.To, e.Reason)
}

func incompatible(from, to Unit, reason string) *IncompatibleUnitsError {
	return &IncompatibleUnitsError{From: from.Symbol, To: to.Symbol, Reason: reason}
}

// IsUnknownUnit returns true if the error is an UnknownUnitError.
// Uses errors.As to handle wrapped errors.
func IsUnknownUnit(err error) bool {
	var ue *UnknownUnitError
	return errors.As(err, &ue)
}

// IsIncompatibleUnits returns true if the error is an IncompatibleUnitsError.
// Uses errors.As to handle wrapped errors.
func IsIncompatibleUnits(err error) bool {
	var ie *IncompatibleUnitsError
	return errors.As(err, &ie)
}
