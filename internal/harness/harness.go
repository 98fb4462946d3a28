// Package harness provides a conformance testing framework for the
// costing engine.
//
// Scenarios are YAML files that establish a ledger and recipes in setup,
// drive real engine operations in a flow with per-step expected outcomes,
// and assert on the final stock balances, computed costs, and deduction
// markers. Each scenario runs against a fresh in-memory database with a
// deterministic clock and id generator, so the resulting trace and the
// stock movement log are byte-identical across runs and can be pinned
// with golden files.
package harness

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/crumb/internal/engine"
	"github.com/roach88/crumb/internal/ledger"
	"github.com/roach88/crumb/internal/orderflow"
	"github.com/roach88/crumb/internal/pricing"
	"github.com/roach88/crumb/internal/recipe"
	"github.com/roach88/crumb/internal/store"
	"github.com/roach88/crumb/internal/testutil"
	"github.com/roach88/crumb/internal/units"
)

// Harness executes one scenario against a fresh engine.
type Harness struct {
	store *store.Store
	eng   *engine.Engine

	// aliases maps scenario entity names to generated ids.
	aliases map[string]string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation, with a
// deterministic clock and sequential id generator for reproducibility.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.OpenMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	eng, err := engine.New(ctx, st,
		engine.WithClock(engine.NewClock()),
		engine.WithIDGenerator(testutil.NewSeqIDGenerator("id")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble engine: %w", err)
	}

	h := &Harness{
		store:   st,
		eng:     eng,
		aliases: make(map[string]string),
	}

	result := NewResult()

	for i, step := range scenario.Setup {
		if err := h.executeStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("setup step %d (%s): %w", i, step.Op, err)
		}
		if last := result.Trace[len(result.Trace)-1]; last.Outcome != expectedOutcome(step) {
			return nil, fmt.Errorf("setup step %d (%s): outcome %s, expected %s",
				i, step.Op, last.Outcome, expectedOutcome(step))
		}
	}

	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("flow step %d (%s): %w", i, step.Op, err)
		}
		h.checkExpect(i, step, result)
	}

	movements, err := st.ReadAllMovements(ctx)
	if err != nil {
		return nil, fmt.Errorf("read movements: %w", err)
	}
	for _, m := range movements {
		result.Movements = append(result.Movements, MovementView{
			Seq:          m.Seq,
			Ingredient:   m.IngredientID,
			Delta:        m.Delta.String(),
			Reason:       m.Reason,
			ResultingQty: m.ResultingQty.String(),
		})
	}

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

func expectedOutcome(step Step) string {
	if step.Expect != nil {
		return step.Expect.Outcome
	}
	return "ok"
}

// checkExpect validates the last trace event against the step's expect
// clause.
func (h *Harness) checkExpect(index int, step Step, result *Result) {
	last := result.Trace[len(result.Trace)-1]
	want := expectedOutcome(step)
	if last.Outcome != want {
		result.AddError(fmt.Sprintf("flow[%d] %s: outcome %s, expected %s",
			index, step.Op, last.Outcome, want))
		return
	}
	if step.Expect == nil {
		return
	}
	for key, want := range step.Expect.Detail {
		got, ok := last.Detail[key]
		if !ok {
			result.AddError(fmt.Sprintf("flow[%d] %s: detail %q missing", index, step.Op, key))
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			result.AddError(fmt.Sprintf("flow[%d] %s: detail %q = %v, expected %v",
				index, step.Op, key, got, want))
		}
	}
}

// executeStep dispatches one step and appends its outcome to the trace.
// Domain failures become trace outcomes; only harness-level problems
// (unknown op, malformed args, unknown alias) return an error.
func (h *Harness) executeStep(ctx context.Context, step Step, result *Result) error {
	switch step.Op {
	case "ingredient.create":
		return h.stepIngredientCreate(ctx, step, result)
	case "ingredient.set_cost":
		return h.stepSetCost(ctx, step, result)
	case "ingredient.derive_cost":
		return h.stepDeriveCost(ctx, step, result)
	case "ingredient.adjust_stock":
		return h.stepAdjustStock(ctx, step, result)
	case "recipe.create":
		return h.stepRecipeCreate(ctx, step, result)
	case "recipe.cost":
		return h.stepRecipeCost(ctx, step, result)
	case "sweep":
		return h.stepSweep(ctx, step, result)
	case "price":
		return h.stepPrice(ctx, step, result)
	case "order.transition":
		return h.stepOrderTransition(ctx, step, result)
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func (h *Harness) stepIngredientCreate(ctx context.Context, step Step, result *Result) error {
	alias, err := strArg(step.Args, "as")
	if err != nil {
		return err
	}
	name, err := strArg(step.Args, "name")
	if err != nil {
		return err
	}
	unit, err := strArg(step.Args, "unit")
	if err != nil {
		return err
	}

	in := ledger.IngredientCreate{
		Name:      name,
		UsageUnit: unit,
		Tracked:   boolArg(step.Args, "track"),
	}
	if in.Cost, err = decArg(step.Args, "cost", decimal.Zero); err != nil {
		return err
	}
	if in.InitialStock, err = decArg(step.Args, "stock", decimal.Zero); err != nil {
		return err
	}
	if in.Density, err = optDecArg(step.Args, "density"); err != nil {
		return err
	}
	if in.LowStockThreshold, err = optDecArg(step.Args, "threshold"); err != nil {
		return err
	}

	row, err := h.eng.Ledger().Create(ctx, in)
	if err != nil {
		result.AddTrace(step.Op, alias, outcome(err), nil)
		return nil
	}
	h.aliases[alias] = row.ID
	result.AddTrace(step.Op, alias, "ok", map[string]any{
		"id":    row.ID,
		"cost":  row.CostPerUnit.String(),
		"stock": row.QuantityOnHand.String(),
	})
	return nil
}

func (h *Harness) stepSetCost(ctx context.Context, step Step, result *Result) error {
	id, ref, err := h.resolveArg(step.Args, "ingredient")
	if err != nil {
		return err
	}
	cost, err := decArg(step.Args, "cost", decimal.Decimal{})
	if err != nil {
		return err
	}

	revision, err := h.eng.Ledger().SetCost(ctx, id, cost)
	if err != nil {
		result.AddTrace(step.Op, ref, outcome(err), nil)
		return nil
	}
	result.AddTrace(step.Op, ref, "ok", map[string]any{
		"cost":     cost.String(),
		"revision": revision,
	})
	return nil
}

func (h *Harness) stepDeriveCost(ctx context.Context, step Step, result *Result) error {
	id, ref, err := h.resolveArg(step.Args, "ingredient")
	if err != nil {
		return err
	}
	pcost, err := decArg(step.Args, "purchase_cost", decimal.Decimal{})
	if err != nil {
		return err
	}
	pqty, err := decArg(step.Args, "purchase_qty", decimal.Decimal{})
	if err != nil {
		return err
	}
	punit, err := strArg(step.Args, "purchase_unit")
	if err != nil {
		return err
	}

	cost, revision, err := h.eng.Ledger().DeriveCost(ctx, id, pcost, pqty, punit)
	if err != nil {
		result.AddTrace(step.Op, ref, outcome(err), nil)
		return nil
	}
	result.AddTrace(step.Op, ref, "ok", map[string]any{
		"cost":     cost.String(),
		"revision": revision,
	})
	return nil
}

func (h *Harness) stepAdjustStock(ctx context.Context, step Step, result *Result) error {
	id, ref, err := h.resolveArg(step.Args, "ingredient")
	if err != nil {
		return err
	}
	delta, err := decArg(step.Args, "delta", decimal.Decimal{})
	if err != nil {
		return err
	}
	reason := ledger.ReasonManual
	if _, ok := step.Args["reason"]; ok {
		if reason, err = strArg(step.Args, "reason"); err != nil {
			return err
		}
	}

	adj, err := h.eng.Ledger().AdjustStock(ctx, id, delta, reason)
	if err != nil {
		result.AddTrace(step.Op, ref, outcome(err), nil)
		return nil
	}
	result.AddTrace(step.Op, ref, "ok", map[string]any{
		"tracked":     adj.Tracked,
		"quantity":    adj.NewQuantity.String(),
		"overdraft":   adj.Overdraft,
		"crossed_low": adj.CrossedLow,
	})
	return nil
}

func (h *Harness) stepRecipeCreate(ctx context.Context, step Step, result *Result) error {
	alias, err := strArg(step.Args, "as")
	if err != nil {
		return err
	}
	name, err := strArg(step.Args, "name")
	if err != nil {
		return err
	}

	in := recipe.RecipeCreate{
		Name:         name,
		Yield:        intArg(step.Args, "yield", 1),
		LaborMinutes: intArg(step.Args, "labor_minutes", 0),
	}
	if steps, ok := step.Args["steps"].([]any); ok {
		for _, s := range steps {
			in.Steps = append(in.Steps, fmt.Sprint(s))
		}
	}

	rawLines, ok := step.Args["lines"].([]any)
	if !ok {
		return fmt.Errorf("lines is required")
	}
	for i, raw := range rawLines {
		m, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("lines[%d]: expected a map", i)
		}
		ingID, _, err := h.resolveArg(m, "ingredient")
		if err != nil {
			return fmt.Errorf("lines[%d]: %w", i, err)
		}
		qty, err := decArg(m, "quantity", decimal.Decimal{})
		if err != nil {
			return fmt.Errorf("lines[%d]: %w", i, err)
		}
		unit, err := strArg(m, "unit")
		if err != nil {
			return fmt.Errorf("lines[%d]: %w", i, err)
		}
		in.Lines = append(in.Lines, recipe.Line{IngredientID: ingID, Quantity: qty, Unit: unit})
	}

	row, breakdown, err := h.eng.Recipes().Create(ctx, in)
	if err != nil {
		result.AddTrace(step.Op, alias, outcome(err), nil)
		return nil
	}
	h.aliases[alias] = row.ID
	result.AddTrace(step.Op, alias, "ok", map[string]any{
		"id":    row.ID,
		"total": breakdown.Total.String(),
	})
	return nil
}

func (h *Harness) stepRecipeCost(ctx context.Context, step Step, result *Result) error {
	id, ref, err := h.resolveArg(step.Args, "recipe")
	if err != nil {
		return err
	}

	breakdown, err := h.eng.Recipes().Cost(ctx, id)
	if err != nil {
		result.AddTrace(step.Op, ref, outcome(err), nil)
		return nil
	}
	result.AddTrace(step.Op, ref, "ok", map[string]any{
		"total": breakdown.Total.String(),
	})
	return nil
}

func (h *Harness) stepSweep(ctx context.Context, step Step, result *Result) error {
	n, err := h.eng.Recipes().Sweep(ctx)
	if err != nil {
		result.AddTrace(step.Op, "", outcome(err), nil)
		return nil
	}
	result.AddTrace(step.Op, "", "ok", map[string]any{"recomputed": n})
	return nil
}

func (h *Harness) stepPrice(ctx context.Context, step Step, result *Result) error {
	id, ref, err := h.resolveArg(step.Args, "recipe")
	if err != nil {
		return err
	}

	_, quote, err := h.eng.PriceRecipe(ctx, id)
	if err != nil {
		result.AddTrace(step.Op, ref, outcome(err), nil)
		return nil
	}
	rounded := quote.Rounded()
	result.AddTrace(step.Op, ref, "ok", map[string]any{
		"material": rounded.MaterialCost.String(),
		"labor":    rounded.LaborCost.String(),
		"overhead": rounded.OverheadShare.String(),
		"total":    rounded.SuggestedTotal.String(),
	})
	return nil
}

func (h *Harness) stepOrderTransition(ctx context.Context, step Step, result *Result) error {
	orderID, err := strArg(step.Args, "order")
	if err != nil {
		return err
	}
	fromStr, err := strArg(step.Args, "from")
	if err != nil {
		return err
	}
	toStr, err := strArg(step.Args, "to")
	if err != nil {
		return err
	}
	from, err := orderflow.ParseStatus(fromStr)
	if err != nil {
		return err
	}
	to, err := orderflow.ParseStatus(toStr)
	if err != nil {
		return err
	}

	order := orderflow.Order{ID: orderID}
	if rawItems, ok := step.Args["items"].([]any); ok {
		for i, raw := range rawItems {
			m, ok := raw.(map[string]any)
			if !ok {
				return fmt.Errorf("items[%d]: expected a map", i)
			}
			item := orderflow.LineItem{Quantity: intArg(m, "quantity", 1)}
			if _, ok := m["recipe"]; ok {
				if item.RecipeID, _, err = h.resolveArg(m, "recipe"); err != nil {
					return fmt.Errorf("items[%d]: %w", i, err)
				}
			}
			if name, ok := m["name"].(string); ok {
				item.Name = name
			}
			order.Items = append(order.Items, item)
		}
	}

	res, err := h.eng.Orders().OnStatusTransition(ctx, order, from, to)
	detail := map[string]any{"committed": res.Committed}
	if len(res.OverdraftIngredients) > 0 {
		detail["overdrafts"] = res.OverdraftIngredients
	}
	if len(res.LowStockSignals) > 0 {
		detail["low_stock"] = res.LowStockSignals
	}
	if err != nil {
		result.AddTrace(step.Op, orderID, outcome(err), detail)
		return nil
	}
	result.AddTrace(step.Op, orderID, "ok", detail)
	return nil
}

// resolveArg resolves an alias-valued arg to the generated entity id.
func (h *Harness) resolveArg(args map[string]any, key string) (id, alias string, err error) {
	alias, err = strArg(args, key)
	if err != nil {
		return "", "", err
	}
	id, ok := h.aliases[alias]
	if !ok {
		return "", "", fmt.Errorf("unknown alias %q for %s", alias, key)
	}
	return id, alias, nil
}

// outcome maps a domain error onto its taxonomy name for the trace.
func outcome(err error) string {
	switch {
	case ledger.IsNotFound(err), recipe.IsNotFound(err):
		return "not_found"
	case ledger.IsUntracked(err):
		return "untracked"
	case ledger.IsReferenced(err):
		return "referenced"
	case ledger.IsInvalidCost(err):
		return "invalid_cost"
	case ledger.IsInvalidDensity(err):
		return "invalid_density"
	case recipe.IsInvalidQuantity(err):
		return "invalid_quantity"
	case pricing.IsInvalidYield(err):
		return "invalid_yield"
	case pricing.IsInvalidConfig(err):
		return "invalid_config"
	case units.IsIncompatibleUnits(err):
		return "incompatible_units"
	case units.IsUnknownUnit(err):
		return "unknown_unit"
	case recipe.IsMissingIngredient(err):
		return "missing_ingredient"
	case orderflow.IsInsufficientStock(err):
		return "insufficient_stock"
	case orderflow.IsConcurrencyConflict(err):
		return "concurrency_conflict"
	default:
		return "internal"
	}
}

// strArg reads a required string arg.
func strArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected a string, got %T", key, v)
	}
	return s, nil
}

// boolArg reads an optional bool arg, false when unset.
func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// intArg reads an optional int arg with a default.
func intArg(args map[string]any, key string, def int) int {
	if n, ok := args[key].(int); ok {
		return n
	}
	return def
}

// decArg reads a decimal arg. Quantities must be strings or ints in the
// YAML; floats are rejected to keep scenarios exact.
func decArg(args map[string]any, key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%s: invalid decimal %q", key, n)
		}
		return d, nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%s: use a quoted string for decimal values, got %T", key, v)
	}
}

// optDecArg reads an optional decimal arg, nil when unset.
func optDecArg(args map[string]any, key string) (*decimal.Decimal, error) {
	if _, ok := args[key]; !ok {
		return nil, nil
	}
	d, err := decArg(args, key, decimal.Decimal{})
	if err != nil {
		return nil, err
	}
	return &d, nil
}
