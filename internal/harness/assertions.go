package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// evaluateAssertions checks every assertion against final state and
// returns the failure messages.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.evaluateAssertion(ctx, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion[%d] %s: %v", i, a.Type, err))
		}
	}
	return failures
}

func (h *Harness) evaluateAssertion(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertStock:
		return h.assertStock(ctx, a)
	case AssertRecipeCost:
		return h.assertRecipeCost(ctx, a)
	case AssertMarker:
		return h.assertMarker(ctx, a)
	case AssertMovementCount:
		return h.assertMovementCount(ctx, a)
	case AssertLowStock:
		return h.assertLowStock(ctx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) assertStock(ctx context.Context, a Assertion) error {
	id, ok := h.aliases[a.Ingredient]
	if !ok {
		return fmt.Errorf("unknown ingredient alias %q", a.Ingredient)
	}
	row, err := h.store.ReadIngredient(ctx, id)
	if err != nil {
		return err
	}
	if row.QuantityOnHand.String() != a.Quantity {
		return fmt.Errorf("quantity %s, expected %s", row.QuantityOnHand.String(), a.Quantity)
	}
	return nil
}

func (h *Harness) assertRecipeCost(ctx context.Context, a Assertion) error {
	id, ok := h.aliases[a.Recipe]
	if !ok {
		return fmt.Errorf("unknown recipe alias %q", a.Recipe)
	}
	breakdown, err := h.eng.Recipes().Cost(ctx, id)
	if err != nil {
		return err
	}
	if breakdown.Total.String() != a.Total {
		return fmt.Errorf("total %s, expected %s", breakdown.Total.String(), a.Total)
	}
	return nil
}

func (h *Harness) assertMarker(ctx context.Context, a Assertion) error {
	marker, err := h.store.ReadMarker(ctx, a.Order)
	if errors.Is(err, sql.ErrNoRows) {
		if a.State == "absent" {
			return nil
		}
		return fmt.Errorf("no marker, expected state %s", a.State)
	}
	if err != nil {
		return err
	}
	if a.State == "absent" {
		return fmt.Errorf("marker present in state %s, expected absent", marker.State)
	}
	if string(marker.State) != a.State {
		return fmt.Errorf("marker state %s, expected %s", marker.State, a.State)
	}
	return nil
}

func (h *Harness) assertMovementCount(ctx context.Context, a Assertion) error {
	movements, err := h.store.ReadAllMovements(ctx)
	if err != nil {
		return err
	}
	if len(movements) != a.Count {
		return fmt.Errorf("%d movements, expected %d", len(movements), a.Count)
	}
	return nil
}

func (h *Harness) assertLowStock(ctx context.Context, a Assertion) error {
	rows, err := h.store.ReadLowStockIngredients(ctx)
	if err != nil {
		return err
	}

	// Resolve expected aliases to ids for comparison.
	want := make(map[string]string, len(a.Ingredients)) // id -> alias
	for _, alias := range a.Ingredients {
		id, ok := h.aliases[alias]
		if !ok {
			return fmt.Errorf("unknown ingredient alias %q", alias)
		}
		want[id] = alias
	}

	got := make(map[string]bool, len(rows))
	for _, row := range rows {
		got[row.ID] = true
		if _, ok := want[row.ID]; !ok {
			return fmt.Errorf("unexpected low-stock ingredient %s", row.ID)
		}
	}
	for id, alias := range want {
		if !got[id] {
			return fmt.Errorf("ingredient %q not below threshold", alias)
		}
	}
	return nil
}
