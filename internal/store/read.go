package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ReadIngredient retrieves a single ingredient by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadIngredient(ctx context.Context, id string) (IngredientRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, usage_unit, cost_per_unit, density, tracked, quantity_on_hand, low_stock_threshold, below_threshold, revision
		FROM ingredients
		WHERE id = ?
	`, id)
	return scanIngredient(row)
}

// ReadAllIngredients returns every ingredient with deterministic ordering
// (ORDER BY id COLLATE BINARY).
func (s *Store) ReadAllIngredients(ctx context.Context) ([]IngredientRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, usage_unit, cost_per_unit, density, tracked, quantity_on_hand, low_stock_threshold, below_threshold, revision
		FROM ingredients
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query ingredients: %w", err)
	}
	defer rows.Close()

	ingredients := []IngredientRow{}
	for rows.Next() {
		ing, err := scanIngredient(rows)
		if err != nil {
			return nil, err
		}
		ingredients = append(ingredients, ing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingredients: %w", err)
	}
	return ingredients, nil
}

// ReadLowStockIngredients returns every tracked ingredient currently
// sitting below its threshold, in deterministic id order.
func (s *Store) ReadLowStockIngredients(ctx context.Context) ([]IngredientRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, usage_unit, cost_per_unit, density, tracked, quantity_on_hand, low_stock_threshold, below_threshold, revision
		FROM ingredients
		WHERE tracked = 1 AND below_threshold = 1
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query low stock ingredients: %w", err)
	}
	defer rows.Close()

	ingredients := []IngredientRow{}
	for rows.Next() {
		ing, err := scanIngredient(rows)
		if err != nil {
			return nil, err
		}
		ingredients = append(ingredients, ing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate low stock ingredients: %w", err)
	}
	return ingredients, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanIngredient(sc scanner) (IngredientRow, error) {
	var (
		ing             IngredientRow
		costText        string
		qtyText         string
		densityText     sql.NullString
		thresholdText   sql.NullString
	)
	err := sc.Scan(
		&ing.ID,
		&ing.Name,
		&ing.UsageUnit,
		&costText,
		&densityText,
		&ing.Tracked,
		&qtyText,
		&thresholdText,
		&ing.BelowThreshold,
		&ing.Revision,
	)
	if err != nil {
		return IngredientRow{}, err
	}

	if ing.CostPerUnit, err = decFromText(costText); err != nil {
		return IngredientRow{}, fmt.Errorf("scan ingredient %s: %w", ing.ID, err)
	}
	if ing.QuantityOnHand, err = decFromText(qtyText); err != nil {
		return IngredientRow{}, fmt.Errorf("scan ingredient %s: %w", ing.ID, err)
	}
	if ing.Density, err = nullableDecFromText(densityText); err != nil {
		return IngredientRow{}, fmt.Errorf("scan ingredient %s: %w", ing.ID, err)
	}
	if ing.LowStockThreshold, err = nullableDecFromText(thresholdText); err != nil {
		return IngredientRow{}, fmt.Errorf("scan ingredient %s: %w", ing.ID, err)
	}
	return ing, nil
}

// ReadRecipe retrieves a recipe with its ordered steps and ingredient
// lines. Returns sql.ErrNoRows if the recipe does not exist.
func (s *Store) ReadRecipe(ctx context.Context, id string) (RecipeRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, yield_count, labor_minutes, cached_cost, cost_stale
		FROM recipes
		WHERE id = ?
	`, id)

	var (
		rec      RecipeRow
		costText sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.YieldCount, &rec.LaborMinutes, &costText, &rec.CostStale)
	if err != nil {
		return RecipeRow{}, err
	}
	if rec.CachedCost, err = nullableDecFromText(costText); err != nil {
		return RecipeRow{}, fmt.Errorf("scan recipe %s: %w", rec.ID, err)
	}

	if rec.Steps, err = s.readRecipeSteps(ctx, id); err != nil {
		return RecipeRow{}, err
	}
	if rec.Lines, err = s.readRecipeLines(ctx, id); err != nil {
		return RecipeRow{}, err
	}
	return rec, nil
}

func (s *Store) readRecipeSteps(ctx context.Context, recipeID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instruction FROM recipe_steps WHERE recipe_id = ? ORDER BY position ASC
	`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("query recipe steps: %w", err)
	}
	defer rows.Close()

	steps := []string{}
	for rows.Next() {
		var step string
		if err := rows.Scan(&step); err != nil {
			return nil, fmt.Errorf("scan recipe step: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipe steps: %w", err)
	}
	return steps, nil
}

func (s *Store) readRecipeLines(ctx context.Context, recipeID string) ([]RecipeLineRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, ingredient_id, quantity, unit
		FROM recipe_ingredients
		WHERE recipe_id = ?
		ORDER BY position ASC
	`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("query recipe lines: %w", err)
	}
	defer rows.Close()

	lines := []RecipeLineRow{}
	for rows.Next() {
		var (
			line    RecipeLineRow
			qtyText string
		)
		if err := rows.Scan(&line.Position, &line.IngredientID, &qtyText, &line.Unit); err != nil {
			return nil, fmt.Errorf("scan recipe line: %w", err)
		}
		if line.Quantity, err = decFromText(qtyText); err != nil {
			return nil, fmt.Errorf("scan recipe line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipe lines: %w", err)
	}
	return lines, nil
}

// ReadRecipeIDs returns every recipe id with deterministic ordering.
func (s *Store) ReadRecipeIDs(ctx context.Context) ([]string, error) {
	return s.readIDs(ctx, `SELECT id FROM recipes ORDER BY id COLLATE BINARY ASC`)
}

// RecipesReferencing returns the ids of recipes with at least one line
// for the ingredient, deterministically ordered.
func (s *Store) RecipesReferencing(ctx context.Context, ingredientID string) ([]string, error) {
	return s.readIDs(ctx, `
		SELECT DISTINCT recipe_id FROM recipe_ingredients
		WHERE ingredient_id = ?
		ORDER BY recipe_id COLLATE BINARY ASC
	`, ingredientID)
}

// StaleRecipeIDs returns recipes whose cached cost has been invalidated,
// deterministically ordered for the batch sweep.
func (s *Store) StaleRecipeIDs(ctx context.Context) ([]string, error) {
	return s.readIDs(ctx, `SELECT id FROM recipes WHERE cost_stale = 1 ORDER BY id COLLATE BINARY ASC`)
}

func (s *Store) readIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

// CountRecipeReferences returns how many recipe lines reference the
// ingredient. Used for the delete-only-if-unreferenced check.
func (s *Store) CountRecipeReferences(ctx context.Context, ingredientID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM recipe_ingredients WHERE ingredient_id = ?
	`, ingredientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recipe references: %w", err)
	}
	return n, nil
}

// IngredientRevisions returns the current revision for each requested
// ingredient in one consistent read. Missing ids are simply absent from
// the result map.
func (s *Store) IngredientRevisions(ctx context.Context, ids []string) (map[string]int64, error) {
	revisions := make(map[string]int64, len(ids))
	for _, id := range ids {
		var rev int64
		err := s.db.QueryRowContext(ctx, `SELECT revision FROM ingredients WHERE id = ?`, id).Scan(&rev)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read ingredient revision: %w", err)
		}
		revisions[id] = rev
	}
	return revisions, nil
}

// RecipeCostRevisions returns the ledger revisions the recipe's cached
// cost was computed against. Empty map when the cost was never computed.
func (s *Store) RecipeCostRevisions(ctx context.Context, recipeID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ingredient_id, revision FROM recipe_cost_revisions WHERE recipe_id = ?
	`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("query recipe cost revisions: %w", err)
	}
	defer rows.Close()

	revisions := map[string]int64{}
	for rows.Next() {
		var (
			ingredientID string
			rev          int64
		)
		if err := rows.Scan(&ingredientID, &rev); err != nil {
			return nil, fmt.Errorf("scan recipe cost revision: %w", err)
		}
		revisions[ingredientID] = rev
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipe cost revisions: %w", err)
	}
	return revisions, nil
}

// ReadMarker retrieves the deduction marker and its recorded lines for an
// order. Returns sql.ErrNoRows if no deduction has happened.
func (s *Store) ReadMarker(ctx context.Context, orderID string) (MarkerRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, state, deducted_seq, restocked_seq
		FROM deduction_markers
		WHERE order_id = ?
	`, orderID)

	var (
		marker       MarkerRow
		state        string
		restockedSeq sql.NullInt64
	)
	if err := row.Scan(&marker.OrderID, &state, &marker.DeductedSeq, &restockedSeq); err != nil {
		return MarkerRow{}, err
	}
	marker.State = MarkerState(state)
	if restockedSeq.Valid {
		marker.RestockedSeq = &restockedSeq.Int64
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ingredient_id, amount, overdraft
		FROM deduction_marker_lines
		WHERE order_id = ?
		ORDER BY ingredient_id COLLATE BINARY ASC
	`, orderID)
	if err != nil {
		return MarkerRow{}, fmt.Errorf("query marker lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line       MarkerLineRow
			amountText string
		)
		if err := rows.Scan(&line.IngredientID, &amountText, &line.Overdraft); err != nil {
			return MarkerRow{}, fmt.Errorf("scan marker line: %w", err)
		}
		if line.Amount, err = decFromText(amountText); err != nil {
			return MarkerRow{}, fmt.Errorf("scan marker line: %w", err)
		}
		marker.Lines = append(marker.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return MarkerRow{}, fmt.Errorf("iterate marker lines: %w", err)
	}
	return marker, nil
}

// ReadMovements returns every stock movement for an ingredient ordered by
// seq. Used for audit views and the harness trace.
func (s *Store) ReadMovements(ctx context.Context, ingredientID string) ([]MovementRow, error) {
	return s.readMovements(ctx, `
		SELECT seq, ingredient_id, delta, reason, resulting_qty
		FROM stock_movements
		WHERE ingredient_id = ?
		ORDER BY seq ASC
	`, ingredientID)
}

// ReadAllMovements returns the full movement log ordered by seq.
func (s *Store) ReadAllMovements(ctx context.Context) ([]MovementRow, error) {
	return s.readMovements(ctx, `
		SELECT seq, ingredient_id, delta, reason, resulting_qty
		FROM stock_movements
		ORDER BY seq ASC
	`)
}

func (s *Store) readMovements(ctx context.Context, query string, args ...any) ([]MovementRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stock movements: %w", err)
	}
	defer rows.Close()

	movements := []MovementRow{}
	for rows.Next() {
		var (
			m         MovementRow
			deltaText string
			qtyText   string
		)
		if err := rows.Scan(&m.Seq, &m.IngredientID, &deltaText, &m.Reason, &qtyText); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		if m.Delta, err = decFromText(deltaText); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		if m.ResultingQty, err = decFromText(qtyText); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}
	return movements, nil
}

// MaxSeq returns the highest seq stamped anywhere in the database
// (stock movements and deduction markers), or 0 when nothing has been
// written. Used to resume the logical clock on reopen without reusing a
// sequence number.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(m) FROM (
			SELECT MAX(seq) AS m FROM stock_movements
			UNION ALL
			SELECT MAX(deducted_seq) FROM deduction_markers
			UNION ALL
			SELECT MAX(restocked_seq) FROM deduction_markers
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
