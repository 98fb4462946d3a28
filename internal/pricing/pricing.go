// Package pricing derives suggested prices from material cost, labor
// time, and an overhead allocation.
//
// All monetary arithmetic is fixed-point decimal. Intermediate values
// keep full precision; rounding happens only in the display helpers.
// Pricing configuration is an explicit parameter to every computation -
// there is no ambient per-account state, and no caching across config
// changes.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/crumb/internal/recipe"
)

var (
	sixty           = decimal.NewFromInt(60)
	displayScale    = int32(2)
	perServingScale = int32(4)
)

// Quote is a suggested price with its contributing parts.
type Quote struct {
	MaterialCost   decimal.Decimal
	LaborCost      decimal.Decimal
	OverheadShare  decimal.Decimal
	SuggestedTotal decimal.Decimal
}

// SuggestPrice computes a suggested total for one order of the costed
// recipe: material cost + labor minutes at the hourly rate + the
// overhead share dictated by the configured allocation policy.
//
// The allocation denominator always comes from configuration; the engine
// never invents one.
func SuggestPrice(breakdown recipe.CostBreakdown, laborMinutes int, cfg Config) (Quote, error) {
	if err := cfg.Validate(); err != nil {
		return Quote{}, err
	}

	laborHours := decimal.NewFromInt(int64(laborMinutes)).Div(sixty)
	laborCost := laborHours.Mul(cfg.HourlyRate)

	var overheadShare decimal.Decimal
	switch cfg.Allocation {
	case AllocationPerOrder:
		overheadShare = cfg.MonthlyOverhead.Div(decimal.NewFromInt(int64(cfg.ExpectedOrdersPerMonth)))
	case AllocationPerLaborHour:
		perHour := cfg.MonthlyOverhead.Div(decimal.NewFromInt(int64(cfg.ExpectedLaborHoursPerMonth)))
		overheadShare = perHour.Mul(laborHours)
	}

	quote := Quote{
		MaterialCost:  breakdown.Total,
		LaborCost:     laborCost,
		OverheadShare: overheadShare,
	}
	quote.SuggestedTotal = quote.MaterialCost.Add(quote.LaborCost).Add(quote.OverheadShare)
	return quote, nil
}

// PerServing divides a total price across a recipe's yield.
// Fails with InvalidYieldError when yield <= 0.
func PerServing(total decimal.Decimal, yield int) (decimal.Decimal, error) {
	if yield <= 0 {
		return decimal.Decimal{}, &InvalidYieldError{Yield: yield}
	}
	return total.Div(decimal.NewFromInt(int64(yield))), nil
}

// Display rounds a monetary amount to the display scale (2 places).
// This is the only place rounding is allowed to happen.
func Display(d decimal.Decimal) decimal.Decimal {
	return d.Round(displayScale)
}

// DisplayPerServing rounds a per-serving amount (4 places - per-serving
// prices are often sub-cent).
func DisplayPerServing(d decimal.Decimal) decimal.Decimal {
	return d.Round(perServingScale)
}

// Rounded returns a copy of the quote with every component at display
// scale. Used at the presentation boundary; internal consumers keep the
// full-precision quote.
func (q Quote) Rounded() Quote {
	return Quote{
		MaterialCost:   Display(q.MaterialCost),
		LaborCost:      Display(q.LaborCost),
		OverheadShare:  Display(q.OverheadShare),
		SuggestedTotal: Display(q.SuggestedTotal),
	}
}
