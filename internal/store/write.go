package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// InsertIngredient inserts a new ingredient row.
// Fails if the id already exists - ingredient identity is caller-assigned
// and creation is not idempotent.
func (s *Store) InsertIngredient(ctx context.Context, row IngredientRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingredients
		(id, name, usage_unit, cost_per_unit, density, tracked, quantity_on_hand, low_stock_threshold, below_threshold, revision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.ID,
		row.Name,
		row.UsageUnit,
		decToText(row.CostPerUnit),
		nullableDecToText(row.Density),
		row.Tracked,
		decToText(row.QuantityOnHand),
		nullableDecToText(row.LowStockThreshold),
		row.BelowThreshold,
		row.Revision,
	)
	if err != nil {
		return fmt.Errorf("insert ingredient: %w", err)
	}
	return nil
}

// UpdateIngredientProfile updates the descriptive fields of an ingredient
// (name, usage unit, density, tracking flag, threshold) without touching
// cost, stock, or revision.
func (s *Store) UpdateIngredientProfile(ctx context.Context, row IngredientRow) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingredients
		SET name = ?, usage_unit = ?, density = ?, tracked = ?, low_stock_threshold = ?
		WHERE id = ?
	`,
		row.Name,
		row.UsageUnit,
		nullableDecToText(row.Density),
		row.Tracked,
		nullableDecToText(row.LowStockThreshold),
		row.ID,
	)
	if err != nil {
		return fmt.Errorf("update ingredient profile: %w", err)
	}
	return requireOneRow(res, "update ingredient profile")
}

// RebaseIngredient writes the full ingredient row after a usage unit
// change: the profile fields together with the converted cost, stock,
// edge flag, and bumped revision land in one statement.
func (s *Store) RebaseIngredient(ctx context.Context, row IngredientRow) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingredients
		SET name = ?, usage_unit = ?, density = ?, tracked = ?, low_stock_threshold = ?,
		    cost_per_unit = ?, quantity_on_hand = ?, below_threshold = ?, revision = ?
		WHERE id = ?
	`,
		row.Name,
		row.UsageUnit,
		nullableDecToText(row.Density),
		row.Tracked,
		nullableDecToText(row.LowStockThreshold),
		decToText(row.CostPerUnit),
		decToText(row.QuantityOnHand),
		row.BelowThreshold,
		row.Revision,
		row.ID,
	)
	if err != nil {
		return fmt.Errorf("rebase ingredient: %w", err)
	}
	return requireOneRow(res, "rebase ingredient")
}

// UpdateIngredientCost writes a new cost-per-usage-unit and revision.
// Returns sql.ErrNoRows if the ingredient does not exist.
func (s *Store) UpdateIngredientCost(ctx context.Context, id string, cost decimal.Decimal, revision int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingredients SET cost_per_unit = ?, revision = ? WHERE id = ?
	`, decToText(cost), revision, id)
	if err != nil {
		return fmt.Errorf("update ingredient cost: %w", err)
	}
	return requireOneRow(res, "update ingredient cost")
}

// StockUpdate is one ingredient's share of a stock write: the
// post-adjustment quantity, the low-stock edge detector state, the new
// revision, and the movement record explaining the change.
type StockUpdate struct {
	IngredientID string
	Quantity     decimal.Decimal
	Below        bool
	Revision     int64
	Movement     MovementRow
}

// ApplyStockUpdates writes a set of stock updates in one transaction.
// Either every balance, edge flag, revision, and movement lands, or none
// do - this is the commit point of the all-or-nothing multi-ingredient
// deduction, and it also keeps the audit trail from ever diverging from
// the balances it explains.
func (s *Store) ApplyStockUpdates(ctx context.Context, updates []StockUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply stock updates: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := applyStockUpdatesTx(ctx, tx, updates); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply stock updates: commit: %w", err)
	}
	return nil
}

func applyStockUpdatesTx(ctx context.Context, tx *sql.Tx, updates []StockUpdate) error {
	for _, u := range updates {
		res, err := tx.ExecContext(ctx, `
			UPDATE ingredients SET quantity_on_hand = ?, below_threshold = ?, revision = ? WHERE id = ?
		`, decToText(u.Quantity), u.Below, u.Revision, u.IngredientID)
		if err != nil {
			return fmt.Errorf("apply stock updates: %w", err)
		}
		if err := requireOneRow(res, "apply stock updates"); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_movements (seq, ingredient_id, delta, reason, resulting_qty)
			VALUES (?, ?, ?, ?, ?)
		`,
			u.Movement.Seq,
			u.Movement.IngredientID,
			decToText(u.Movement.Delta),
			u.Movement.Reason,
			decToText(u.Movement.ResultingQty),
		)
		if err != nil {
			return fmt.Errorf("apply stock updates: insert movement: %w", err)
		}
	}
	return nil
}

// DeleteIngredient removes an ingredient row.
// The caller is responsible for the referential check (no recipe lines);
// the foreign key on recipe_ingredients backstops it.
func (s *Store) DeleteIngredient(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ingredients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete ingredient: %w", err)
	}
	return requireOneRow(res, "delete ingredient")
}

// InsertRecipe writes a recipe with its steps and ingredient lines in one
// transaction. The recipe is created with cost_stale = 1; the aggregator
// computes and caches the cost immediately after.
func (s *Store) InsertRecipe(ctx context.Context, row RecipeRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert recipe: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recipes (id, name, yield_count, labor_minutes, cached_cost, cost_stale)
		VALUES (?, ?, ?, ?, NULL, 1)
	`, row.ID, row.Name, row.YieldCount, row.LaborMinutes)
	if err != nil {
		return fmt.Errorf("insert recipe: %w", err)
	}

	if err := insertRecipeChildren(ctx, tx, row); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert recipe: commit: %w", err)
	}
	return nil
}

// UpdateRecipeDefinition replaces a recipe's fields, steps, and lines.
// The cached cost is invalidated; ingredient list changes always force
// recomputation.
func (s *Store) UpdateRecipeDefinition(ctx context.Context, row RecipeRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update recipe: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE recipes SET name = ?, yield_count = ?, labor_minutes = ?, cost_stale = 1 WHERE id = ?
	`, row.Name, row.YieldCount, row.LaborMinutes, row.ID)
	if err != nil {
		return fmt.Errorf("update recipe: %w", err)
	}
	if err := requireOneRow(res, "update recipe"); err != nil {
		return err
	}

	for _, table := range []string{"recipe_steps", "recipe_ingredients", "recipe_cost_revisions"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE recipe_id = ?`, table), row.ID); err != nil {
			return fmt.Errorf("update recipe: clear %s: %w", table, err)
		}
	}

	if err := insertRecipeChildren(ctx, tx, row); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update recipe: commit: %w", err)
	}
	return nil
}

func insertRecipeChildren(ctx context.Context, tx *sql.Tx, row RecipeRow) error {
	for i, step := range row.Steps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recipe_steps (recipe_id, position, instruction) VALUES (?, ?, ?)
		`, row.ID, i, step)
		if err != nil {
			return fmt.Errorf("insert recipe step %d: %w", i, err)
		}
	}

	for i, line := range row.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recipe_ingredients (recipe_id, position, ingredient_id, quantity, unit)
			VALUES (?, ?, ?, ?, ?)
		`, row.ID, i, line.IngredientID, decToText(line.Quantity), line.Unit)
		if err != nil {
			return fmt.Errorf("insert recipe line %d: %w", i, err)
		}
	}

	return nil
}

// DeleteRecipe removes a recipe; steps, lines, and cached revisions go
// with it via ON DELETE CASCADE.
func (s *Store) DeleteRecipe(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recipes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recipe: %w", err)
	}
	return requireOneRow(res, "delete recipe")
}

// UpdateRecipeCost caches a computed cost together with the ledger
// revisions it was computed against, clearing the stale flag.
func (s *Store) UpdateRecipeCost(ctx context.Context, recipeID string, total decimal.Decimal, revisions map[string]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update recipe cost: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE recipes SET cached_cost = ?, cost_stale = 0 WHERE id = ?
	`, decToText(total), recipeID)
	if err != nil {
		return fmt.Errorf("update recipe cost: %w", err)
	}
	if err := requireOneRow(res, "update recipe cost"); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_cost_revisions WHERE recipe_id = ?`, recipeID); err != nil {
		return fmt.Errorf("update recipe cost: clear revisions: %w", err)
	}

	for ingredientID, revision := range revisions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recipe_cost_revisions (recipe_id, ingredient_id, revision) VALUES (?, ?, ?)
		`, recipeID, ingredientID, revision)
		if err != nil {
			return fmt.Errorf("update recipe cost: insert revision: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update recipe cost: commit: %w", err)
	}
	return nil
}

// MarkRecipesStale flags every recipe referencing the ingredient for
// recomputation. Returns the number of recipes invalidated.
func (s *Store) MarkRecipesStale(ctx context.Context, ingredientID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recipes SET cost_stale = 1
		WHERE id IN (SELECT recipe_id FROM recipe_ingredients WHERE ingredient_id = ?)
	`, ingredientID)
	if err != nil {
		return 0, fmt.Errorf("mark recipes stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark recipes stale: rows affected: %w", err)
	}
	return n, nil
}

// ApplyDeduction commits an order deduction in one transaction: the
// marker row, its per-ingredient lines, and every stock update land
// together or not at all. The marker insert uses ON CONFLICT(order_id)
// DO NOTHING for idempotency: a replayed transition finds the marker
// already present, gets inserted=false, and no stock is touched.
func (s *Store) ApplyDeduction(ctx context.Context, marker MarkerRow, updates []StockUpdate) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("apply deduction: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO deduction_markers (order_id, state, deducted_seq)
		VALUES (?, ?, ?)
		ON CONFLICT(order_id) DO NOTHING
	`, marker.OrderID, string(marker.State), marker.DeductedSeq)
	if err != nil {
		return false, fmt.Errorf("apply deduction: write marker: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply deduction: rows affected: %w", err)
	}
	if n == 0 {
		// Marker already exists - replay, nothing more to write.
		return false, nil
	}

	for _, line := range marker.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO deduction_marker_lines (order_id, ingredient_id, amount, overdraft)
			VALUES (?, ?, ?, ?)
		`, marker.OrderID, line.IngredientID, decToText(line.Amount), line.Overdraft)
		if err != nil {
			return false, fmt.Errorf("apply deduction: write marker line: %w", err)
		}
	}

	if err := applyStockUpdatesTx(ctx, tx, updates); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("apply deduction: commit: %w", err)
	}
	return true, nil
}

// ApplyRestock commits the compensating restock in one transaction,
// flipping the marker from deducted to restocked alongside the stock
// updates. Returns updated=false when the marker is absent or already
// restocked, in which case no stock is touched - this makes the restock
// exactly-once.
func (s *Store) ApplyRestock(ctx context.Context, orderID string, seq int64, updates []StockUpdate) (updated bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("apply restock: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE deduction_markers SET state = ?, restocked_seq = ?
		WHERE order_id = ? AND state = ?
	`, string(MarkerRestocked), seq, orderID, string(MarkerDeducted))
	if err != nil {
		return false, fmt.Errorf("apply restock: mark marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply restock: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := applyStockUpdatesTx(ctx, tx, updates); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("apply restock: commit: %w", err)
	}
	return true, nil
}

// requireOneRow converts a zero-row UPDATE/DELETE into sql.ErrNoRows so
// callers can map missing entities onto the NotFound taxonomy.
func requireOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
