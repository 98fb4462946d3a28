// Package recipe implements the recipe cost aggregator.
//
// A recipe's material cost is a pure function of (recipe definition,
// ledger snapshot): each ingredient line is resolved into the
// ingredient's usage unit, multiplied by the current cost-per-usage-unit,
// and summed. The result carries a per-line breakdown and the ledger
// revisions it was computed against, which is what makes cached costs
// auditable for staleness instead of implicitly mutable.
//
// Recomputation is idempotent and order-independent: lazy recomputation
// on read and the eager batch sweep converge to the same result.
package recipe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/crumb/internal/ledger"
	"github.com/roach88/crumb/internal/store"
	"github.com/roach88/crumb/internal/units"
)

// Line is one (ingredient, quantity, unit) entry of a recipe definition.
type Line struct {
	IngredientID string
	Quantity     decimal.Decimal
	Unit         string
}

// RecipeCreate carries the fields for a new or updated recipe.
type RecipeCreate struct {
	Name         string
	Yield        int
	LaborMinutes int
	Steps        []string
	Lines        []Line
}

// CostLine is the costed view of one recipe line.
type CostLine struct {
	IngredientID string
	Ingredient   string
	Quantity     decimal.Decimal
	Unit         string
	LineCost     decimal.Decimal
}

// CostBreakdown is the result of a cost computation: the total, the
// per-line detail for display, and the ledger revision snapshot the
// numbers were derived from.
type CostBreakdown struct {
	RecipeID  string
	Total     decimal.Decimal
	Lines     []CostLine
	Revisions map[string]int64
}

// Aggregator computes and caches recipe material costs.
type Aggregator struct {
	store  *store.Store
	ledger *ledger.Ledger
	ids    ledger.IDGenerator
}

// NewAggregator creates an aggregator over the store and ledger.
func NewAggregator(s *store.Store, l *ledger.Ledger, ids ledger.IDGenerator) *Aggregator {
	return &Aggregator{store: s, ledger: l, ids: ids}
}

// Create persists a new recipe with its initial cost. The definition is
// validated and the cost computed before anything is written: a create
// that cannot cost (unknown unit, missing ingredient, no conversion
// path) leaves no row behind.
func (a *Aggregator) Create(ctx context.Context, in RecipeCreate) (store.RecipeRow, CostBreakdown, error) {
	row := store.RecipeRow{
		ID:           a.ids.Generate(),
		Name:         norm.NFC.String(in.Name),
		YieldCount:   in.Yield,
		LaborMinutes: in.LaborMinutes,
		Steps:        in.Steps,
		Lines:        linesToRows(in.Lines),
	}

	if err := validateLines(row.ID, in.Lines); err != nil {
		return store.RecipeRow{}, CostBreakdown{}, err
	}
	breakdown, err := a.computeBreakdown(ctx, row)
	if err != nil {
		return store.RecipeRow{}, CostBreakdown{}, err
	}

	if err := a.store.InsertRecipe(ctx, row); err != nil {
		return store.RecipeRow{}, CostBreakdown{}, err
	}
	if err := a.store.UpdateRecipeCost(ctx, row.ID, breakdown.Total, breakdown.Revisions); err != nil {
		return store.RecipeRow{}, CostBreakdown{}, err
	}

	slog.Info("recipe created",
		"recipe_id", row.ID,
		"name", row.Name,
		"lines", len(row.Lines),
		"cost", breakdown.Total.String())
	return row, breakdown, nil
}

// Update replaces a recipe's definition and recomputes its cost
// synchronously - ingredient list or quantity changes always resettle the
// cached cost. The new definition must cost cleanly before the old one
// is replaced; a failing update keeps the previous definition and cache.
func (a *Aggregator) Update(ctx context.Context, id string, in RecipeCreate) (CostBreakdown, error) {
	row := store.RecipeRow{
		ID:           id,
		Name:         norm.NFC.String(in.Name),
		YieldCount:   in.Yield,
		LaborMinutes: in.LaborMinutes,
		Steps:        in.Steps,
		Lines:        linesToRows(in.Lines),
	}

	if err := validateLines(id, in.Lines); err != nil {
		return CostBreakdown{}, err
	}
	breakdown, err := a.computeBreakdown(ctx, row)
	if err != nil {
		return CostBreakdown{}, err
	}

	err = a.store.UpdateRecipeDefinition(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return CostBreakdown{}, &NotFoundError{RecipeID: id}
	}
	if err != nil {
		return CostBreakdown{}, err
	}
	if err := a.store.UpdateRecipeCost(ctx, id, breakdown.Total, breakdown.Revisions); err != nil {
		return CostBreakdown{}, err
	}

	return breakdown, nil
}

// validateLines rejects non-positive line quantities before any write.
func validateLines(recipeID string, lines []Line) error {
	for _, line := range lines {
		if !line.Quantity.IsPositive() {
			return &InvalidQuantityError{
				RecipeID:     recipeID,
				IngredientID: line.IngredientID,
				Quantity:     line.Quantity.String(),
			}
		}
	}
	return nil
}

func linesToRows(lines []Line) []store.RecipeLineRow {
	rows := make([]store.RecipeLineRow, len(lines))
	for i, line := range lines {
		rows[i] = store.RecipeLineRow{
			Position:     i,
			IngredientID: line.IngredientID,
			Quantity:     line.Quantity,
			Unit:         line.Unit,
		}
	}
	return rows
}

// Get returns a recipe row.
func (a *Aggregator) Get(ctx context.Context, id string) (store.RecipeRow, error) {
	row, err := a.store.ReadRecipe(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.RecipeRow{}, &NotFoundError{RecipeID: id}
	}
	return row, err
}

// Delete removes a recipe and its lines.
func (a *Aggregator) Delete(ctx context.Context, id string) error {
	err := a.store.DeleteRecipe(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{RecipeID: id}
	}
	return err
}

// ComputeCost recomputes the recipe's material cost from current ledger
// state and refreshes the cache.
//
// Each referenced ingredient is read exactly once; a recipe that uses the
// same ingredient in two lines prices both lines from that single read,
// so a cost change can never be half-applied across lines.
//
// Fails with MissingIngredientError when a referenced ingredient no
// longer exists, or propagates IncompatibleUnits/UnknownUnit from the
// conversion resolver. On any failure the cached cost is left untouched.
func (a *Aggregator) ComputeCost(ctx context.Context, recipeID string) (CostBreakdown, error) {
	rec, err := a.Get(ctx, recipeID)
	if err != nil {
		return CostBreakdown{}, err
	}

	breakdown, err := a.computeBreakdown(ctx, rec)
	if err != nil {
		return CostBreakdown{}, err
	}

	if err := a.store.UpdateRecipeCost(ctx, recipeID, breakdown.Total, breakdown.Revisions); err != nil {
		return CostBreakdown{}, err
	}

	return breakdown, nil
}

// computeBreakdown is the pure read computation over a consistent set of
// ingredient reads. It never touches the cache.
func (a *Aggregator) computeBreakdown(ctx context.Context, rec store.RecipeRow) (CostBreakdown, error) {
	recipeID := rec.ID

	ingredients := make(map[string]store.IngredientRow)
	for _, line := range rec.Lines {
		if _, ok := ingredients[line.IngredientID]; ok {
			continue
		}
		ing, err := a.ledger.Get(ctx, line.IngredientID)
		if ledger.IsNotFound(err) {
			return CostBreakdown{}, &MissingIngredientError{RecipeID: recipeID, IngredientID: line.IngredientID}
		}
		if err != nil {
			return CostBreakdown{}, err
		}
		ingredients[line.IngredientID] = ing
	}

	breakdown := CostBreakdown{
		RecipeID:  recipeID,
		Total:     decimal.Zero,
		Lines:     make([]CostLine, 0, len(rec.Lines)),
		Revisions: make(map[string]int64, len(ingredients)),
	}
	for id, ing := range ingredients {
		breakdown.Revisions[id] = ing.Revision
	}

	for _, line := range rec.Lines {
		ing := ingredients[line.IngredientID]

		qty, err := units.ConvertSymbols(line.Quantity, line.Unit, ing.UsageUnit, ing.Density)
		if err != nil {
			return CostBreakdown{}, fmt.Errorf("recipe %s line %d (%s): %w", recipeID, line.Position, ing.Name, err)
		}

		lineCost := qty.Mul(ing.CostPerUnit)
		breakdown.Lines = append(breakdown.Lines, CostLine{
			IngredientID: line.IngredientID,
			Ingredient:   ing.Name,
			Quantity:     line.Quantity,
			Unit:         line.Unit,
			LineCost:     lineCost,
		})
		breakdown.Total = breakdown.Total.Add(lineCost)
	}

	return breakdown, nil
}

// Cost returns the recipe's material cost, recomputing lazily when the
// cached value has been invalidated. When the cache is fresh the cached
// total is returned together with its recorded revision snapshot.
func (a *Aggregator) Cost(ctx context.Context, recipeID string) (CostBreakdown, error) {
	rec, err := a.Get(ctx, recipeID)
	if err != nil {
		return CostBreakdown{}, err
	}

	if rec.CostStale || rec.CachedCost == nil {
		return a.ComputeCost(ctx, recipeID)
	}

	// Cache is fresh: the per-line detail is recomputed for display (only
	// the total and snapshot are persisted), but no cache write happens -
	// a fresh cache means ingredient costs have not moved, so the numbers
	// are identical by the cache invariant.
	return a.computeBreakdown(ctx, rec)
}

// Stale reports whether the recipe's cached cost was computed against
// ledger revisions that have since moved on.
func (a *Aggregator) Stale(ctx context.Context, recipeID string) (bool, error) {
	rec, err := a.Get(ctx, recipeID)
	if err != nil {
		return false, err
	}
	if rec.CostStale || rec.CachedCost == nil {
		return true, nil
	}

	cached, err := a.store.RecipeCostRevisions(ctx, recipeID)
	if err != nil {
		return false, err
	}

	ids := make([]string, 0, len(cached))
	for id := range cached {
		ids = append(ids, id)
	}
	current, err := a.ledger.Snapshot(ctx, ids)
	if err != nil {
		return false, err
	}

	for id, rev := range cached {
		if current[id] != rev {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate flags every recipe referencing the ingredient for
// recomputation. Wired as the ledger's cost-changed listener.
func (a *Aggregator) Invalidate(ctx context.Context, ingredientID string) (int64, error) {
	n, err := a.store.MarkRecipesStale(ctx, ingredientID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Debug("recipes invalidated by cost change",
			"ingredient_id", ingredientID,
			"recipes", n)
	}
	return n, nil
}

// Sweep eagerly recomputes every invalidated recipe.
// Converges to the same state lazy recomputation would reach.
//
// A recipe that fails to recompute (its ingredient's density was
// removed, say) stays stale and is reported, but never blocks the rest
// of the batch. Returns the number recomputed and the joined
// per-recipe failures.
func (a *Aggregator) Sweep(ctx context.Context) (int, error) {
	ids, err := a.store.StaleRecipeIDs(ctx)
	if err != nil {
		return 0, err
	}

	recomputed := 0
	var errs []error
	for _, id := range ids {
		if _, err := a.ComputeCost(ctx, id); err != nil {
			slog.Warn("sweep left recipe stale", "recipe_id", id, "error", err)
			errs = append(errs, fmt.Errorf("sweep recipe %s: %w", id, err))
			continue
		}
		recomputed++
	}

	if recomputed > 0 {
		slog.Info("cost sweep completed", "recipes", recomputed)
	}
	return recomputed, errors.Join(errs...)
}

// Scale returns the breakdown scaled to a different batch size relative
// to the recipe's yield: quantities and costs multiply by
// batch / yield. Pure, does not touch the cache.
func Scale(b CostBreakdown, yield, batch int) (CostBreakdown, error) {
	if yield <= 0 || batch <= 0 {
		return CostBreakdown{}, fmt.Errorf("scale requires positive yield and batch, got %d and %d", yield, batch)
	}

	factor := decimal.NewFromInt(int64(batch)).Div(decimal.NewFromInt(int64(yield)))
	scaled := CostBreakdown{
		RecipeID:  b.RecipeID,
		Total:     b.Total.Mul(factor),
		Lines:     make([]CostLine, len(b.Lines)),
		Revisions: b.Revisions,
	}
	for i, line := range b.Lines {
		scaled.Lines[i] = CostLine{
			IngredientID: line.IngredientID,
			Ingredient:   line.Ingredient,
			Quantity:     line.Quantity.Mul(factor),
			Unit:         line.Unit,
			LineCost:     line.LineCost.Mul(factor),
		}
	}
	return scaled, nil
}
