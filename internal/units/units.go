// Package units implements the unit conversion resolver.
//
// The resolver converts ingredient quantities between the units a recipe
// is written in and the unit an ingredient is costed and stocked in.
// Conversions within a dimension (mass to mass, volume to volume) use
// fixed SI-based ratios. Conversions between mass and volume require an
// ingredient density and fail explicitly when none is provided - the
// resolver never assumes a default density.
//
// All functions are pure. Quantities are decimal so that no precision is
// lost before costing; rounding is a display concern and never happens
// here.
package units

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Dimension classifies a unit by what it measures.
type Dimension int

const (
	// Mass units convert through grams.
	Mass Dimension = iota + 1
	// Volume units convert through milliliters.
	Volume
	// Count units convert through pieces. Count never converts
	// cross-dimension: density relates mass and volume only.
	Count
)

// String returns the dimension name for diagnostics.
func (d Dimension) String() string {
	switch d {
	case Mass:
		return "mass"
	case Volume:
		return "volume"
	case Count:
		return "count"
	default:
		return "unknown"
	}
}

// Unit is a recognized measurement unit.
//
// Factor is the multiplier to the dimension's base unit: grams for mass,
// milliliters for volume, pieces for count.
type Unit struct {
	Symbol    string
	Dimension Dimension
	Factor    decimal.Decimal
}

// Base reports whether the unit is its dimension's base unit.
func (u Unit) Base() bool {
	return u.Factor.Equal(decimal.New(1, 0))
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// registry holds every recognized unit keyed by normalized symbol.
// US customary factors follow NIST Handbook 44 definitions.
var registry = map[string]Unit{
	// Mass (base: gram)
	"mg": {Symbol: "mg", Dimension: Mass, Factor: d("0.001")},
	"g":  {Symbol: "g", Dimension: Mass, Factor: d("1")},
	"kg": {Symbol: "kg", Dimension: Mass, Factor: d("1000")},
	"oz": {Symbol: "oz", Dimension: Mass, Factor: d("28.349523125")},
	"lb": {Symbol: "lb", Dimension: Mass, Factor: d("453.59237")},

	// Volume (base: milliliter)
	"ml":   {Symbol: "ml", Dimension: Volume, Factor: d("1")},
	"l":    {Symbol: "l", Dimension: Volume, Factor: d("1000")},
	"tsp":  {Symbol: "tsp", Dimension: Volume, Factor: d("4.92892159375")},
	"tbsp": {Symbol: "tbsp", Dimension: Volume, Factor: d("14.78676478125")},
	"floz": {Symbol: "floz", Dimension: Volume, Factor: d("29.5735295625")},
	"cup":  {Symbol: "cup", Dimension: Volume, Factor: d("236.5882365")},
	"pt":   {Symbol: "pt", Dimension: Volume, Factor: d("473.176473")},
	"qt":   {Symbol: "qt", Dimension: Volume, Factor: d("946.352946")},
	"gal":  {Symbol: "gal", Dimension: Volume, Factor: d("3785.411784")},

	// Count (base: piece)
	"pcs":   {Symbol: "pcs", Dimension: Count, Factor: d("1")},
	"dozen": {Symbol: "dozen", Dimension: Count, Factor: d("12")},
}

// aliases maps common spellings onto registry symbols.
var aliases = map[string]string{
	"gram":        "g",
	"grams":       "g",
	"kilogram":    "kg",
	"kilograms":   "kg",
	"ounce":       "oz",
	"ounces":      "oz",
	"pound":       "lb",
	"pounds":      "lb",
	"milliliter":  "ml",
	"milliliters": "ml",
	"liter":       "l",
	"liters":      "l",
	"litre":       "l",
	"litres":      "l",
	"teaspoon":    "tsp",
	"teaspoons":   "tsp",
	"tablespoon":  "tbsp",
	"tablespoons": "tbsp",
	"cups":        "cup",
	"pint":        "pt",
	"quart":       "qt",
	"gallon":      "gal",
	"piece":       "pcs",
	"pieces":      "pcs",
	"each":        "pcs",
}

// Normalize canonicalizes a unit symbol for lookup: NFC Unicode
// normalization, whitespace trim, lower-casing.
//
// NFC matters because symbols arrive from user input and the same
// ingredient can be entered with composed or decomposed characters.
func Normalize(symbol string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(symbol)))
}

// Lookup resolves a unit symbol.
// Returns UnknownUnitError for unrecognized symbols.
func Lookup(symbol string) (Unit, error) {
	key := Normalize(symbol)
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	u, ok := registry[key]
	if !ok {
		return Unit{}, &UnknownUnitError{Symbol: symbol}
	}
	return u, nil
}

// Convert converts qty expressed in from into the equivalent quantity in
// to.
//
// Same-dimension conversion goes through the dimension's base unit.
// Mass<->volume conversion requires a positive density (grams per
// milliliter) and fails with IncompatibleUnitsError when density is nil
// or non-positive - a zero density would divide by zero and a negative
// one would produce negative quantities. Count units never convert
// cross-dimension.
func Convert(qty decimal.Decimal, from, to Unit, density *decimal.Decimal) (decimal.Decimal, error) {
	if from.Dimension == to.Dimension {
		return qty.Mul(from.Factor).Div(to.Factor), nil
	}

	switch {
	case from.Dimension == Mass && to.Dimension == Volume:
		if density == nil {
			return decimal.Decimal{}, incompatible(from, to, "no density provided")
		}
		if !density.IsPositive() {
			return decimal.Decimal{}, incompatible(from, to, "density must be positive")
		}
		grams := qty.Mul(from.Factor)
		return grams.Div(*density).Div(to.Factor), nil

	case from.Dimension == Volume && to.Dimension == Mass:
		if density == nil {
			return decimal.Decimal{}, incompatible(from, to, "no density provided")
		}
		if !density.IsPositive() {
			return decimal.Decimal{}, incompatible(from, to, "density must be positive")
		}
		milliliters := qty.Mul(from.Factor)
		return milliliters.Mul(*density).Div(to.Factor), nil

	default:
		return decimal.Decimal{}, incompatible(from, to, "no conversion path")
	}
}

// ConvertSymbols is Convert with symbol resolution folded in.
// Returns UnknownUnitError before attempting any conversion.
func ConvertSymbols(qty decimal.Decimal, fromSymbol, toSymbol string, density *decimal.Decimal) (decimal.Decimal, error) {
	from, err := Lookup(fromSymbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	to, err := Lookup(toSymbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return Convert(qty, from, to, density)
}
