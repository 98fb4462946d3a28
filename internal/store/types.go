package store

import "github.com/shopspring/decimal"

// IngredientRow is the durable state of one ingredient: current cost per
// usage unit, tracked stock, and the per-ingredient revision counter that
// dependent recomputation uses to detect staleness.
type IngredientRow struct {
	ID                string
	Name              string
	UsageUnit         string
	CostPerUnit       decimal.Decimal
	Density           *decimal.Decimal // grams per milliliter, nil when unknown
	Tracked           bool
	QuantityOnHand    decimal.Decimal
	LowStockThreshold *decimal.Decimal // nil disables the low-stock signal
	BelowThreshold    bool             // edge detector state, not a derived value
	Revision          int64
}

// RecipeRow is the durable state of one recipe, including its ordered
// ingredient lines and preparation steps.
type RecipeRow struct {
	ID           string
	Name         string
	YieldCount   int
	LaborMinutes int
	CachedCost   *decimal.Decimal // nil when never computed
	CostStale    bool
	Steps        []string
	Lines        []RecipeLineRow
}

// RecipeLineRow is one (ingredient, quantity, unit) entry of a recipe.
type RecipeLineRow struct {
	Position     int
	IngredientID string
	Quantity     decimal.Decimal
	Unit         string
}

// MovementRow is one append-only stock mutation record.
type MovementRow struct {
	Seq          int64
	IngredientID string
	Delta        decimal.Decimal
	Reason       string
	ResultingQty decimal.Decimal
}

// MarkerState tracks which half of the deduct/restock pair has run.
type MarkerState string

const (
	// MarkerDeducted means stock has been deducted for the order.
	MarkerDeducted MarkerState = "deducted"
	// MarkerRestocked means a compensating restock has been applied.
	MarkerRestocked MarkerState = "restocked"
)

// MarkerRow guards deduction idempotency for one order and records the
// exact per-ingredient amounts so a later restock compensates precisely.
type MarkerRow struct {
	OrderID      string
	State        MarkerState
	DeductedSeq  int64
	RestockedSeq *int64
	Lines        []MarkerLineRow
}

// MarkerLineRow is the recorded deduction for one ingredient of one order.
type MarkerLineRow struct {
	IngredientID string
	Amount       decimal.Decimal
	Overdraft    bool
}
