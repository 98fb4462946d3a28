// Package ledger implements the ingredient cost ledger: the source of
// truth for cost-per-usage-unit and stock-on-hand.
//
// Every mutation bumps the ingredient's monotonically increasing revision
// so dependent recomputation (recipe costing) can detect staleness.
// Cost changes are announced to registered listeners synchronously after
// the write commits.
//
// Concurrency model: the ledger is the single shared mutable resource in
// the engine. All mutations for a given ingredient are serialized through
// a per-ingredient mutex; multi-ingredient batches acquire their locks in
// canonical (sorted id) order to avoid deadlock between overlapping
// batches. Reads go straight to the store.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/crumb/internal/store"
	"github.com/roach88/crumb/internal/units"
)

// Stock movement reasons recorded in the audit log.
const (
	ReasonInitial = "initial"
	ReasonManual  = "manual"
	ReasonOrder   = "order"
	ReasonRestock = "restock"
)

// Sequencer stamps stock movements with monotonic sequence numbers.
// Implemented by engine.Clock (production) and testutil.DeterministicClock.
type Sequencer interface {
	Next() int64
}

// IDGenerator assigns identity to new ingredients.
type IDGenerator interface {
	Generate() string
}

// CostChange is announced to listeners after a cost mutation commits.
type CostChange struct {
	IngredientID string
	Cost         decimal.Decimal
	Revision     int64
}

// CostListener receives cost-changed events.
// Listeners run synchronously on the mutating goroutine after the
// ingredient lock is released; they must not call back into cost
// mutation for the same ingredient.
type CostListener func(CostChange)

// Ledger mediates all ingredient cost and stock state.
type Ledger struct {
	store *store.Store
	clock Sequencer
	ids   IDGenerator
	locks *lockTable

	mu        sync.Mutex
	listeners []CostListener
}

// New creates a ledger over the given store.
func New(s *store.Store, clock Sequencer, ids IDGenerator) *Ledger {
	return &Ledger{
		store: s,
		clock: clock,
		ids:   ids,
		locks: newLockTable(),
	}
}

// Subscribe registers a listener for cost-changed events.
// Safe for concurrent use with mutations.
func (l *Ledger) Subscribe(fn CostListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *Ledger) emit(change CostChange) {
	l.mu.Lock()
	listeners := make([]CostListener, len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
}

// IngredientCreate carries the fields for a new ingredient.
type IngredientCreate struct {
	Name              string
	UsageUnit         string
	Cost              decimal.Decimal  // per usage unit
	Density           *decimal.Decimal // grams per milliliter
	Tracked           bool
	InitialStock      decimal.Decimal
	LowStockThreshold *decimal.Decimal
}

// Create validates and persists a new ingredient, returning its row.
// The usage unit must be recognized; the cost must be non-negative; the
// density, when given, must be positive.
func (l *Ledger) Create(ctx context.Context, in IngredientCreate) (store.IngredientRow, error) {
	unit, err := units.Lookup(in.UsageUnit)
	if err != nil {
		return store.IngredientRow{}, err
	}
	if in.Cost.IsNegative() {
		return store.IngredientRow{}, &InvalidCostError{IngredientID: "(new)", Cost: in.Cost.String()}
	}
	if in.Density != nil && !in.Density.IsPositive() {
		return store.IngredientRow{}, &InvalidDensityError{IngredientID: "(new)", Density: in.Density.String()}
	}

	row := store.IngredientRow{
		ID:                l.ids.Generate(),
		Name:              norm.NFC.String(in.Name),
		UsageUnit:         unit.Symbol,
		CostPerUnit:       in.Cost,
		Density:           in.Density,
		Tracked:           in.Tracked,
		QuantityOnHand:    decimal.Zero,
		LowStockThreshold: in.LowStockThreshold,
		Revision:          1,
	}
	if in.Tracked {
		row.QuantityOnHand = in.InitialStock
		row.BelowThreshold = belowThreshold(row.QuantityOnHand, row.LowStockThreshold)
	}

	if err := l.store.InsertIngredient(ctx, row); err != nil {
		return store.IngredientRow{}, err
	}

	slog.Info("ingredient created",
		"ingredient_id", row.ID,
		"name", row.Name,
		"usage_unit", row.UsageUnit,
		"tracked", row.Tracked)
	return row, nil
}

// Get returns the full ingredient row.
func (l *Ledger) Get(ctx context.Context, id string) (store.IngredientRow, error) {
	row, err := l.store.ReadIngredient(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.IngredientRow{}, &NotFoundError{IngredientID: id}
	}
	return row, err
}

// List returns every ingredient in canonical id order.
func (l *Ledger) List(ctx context.Context) ([]store.IngredientRow, error) {
	return l.store.ReadAllIngredients(ctx)
}

// UpdateProfile updates descriptive fields (name, usage unit, density,
// tracking flag, threshold). A usage unit change rebases the stored cost
// and stock into the new unit through the conversion resolver and bumps
// the revision, so dependent recipes recompute against consistent
// numbers. Cost and stock otherwise move only through SetCost,
// DeriveCost, and AdjustStock.
func (l *Ledger) UpdateProfile(ctx context.Context, row store.IngredientRow) error {
	unit, err := units.Lookup(row.UsageUnit)
	if err != nil {
		return err
	}
	if row.Density != nil && !row.Density.IsPositive() {
		return &InvalidDensityError{IngredientID: row.ID, Density: row.Density.String()}
	}

	release := l.locks.acquire([]string{row.ID})
	change, err := l.updateProfileLocked(ctx, row, unit)
	release()
	if err != nil || change == nil {
		return err
	}

	l.emit(*change)
	return nil
}

// updateProfileLocked performs the profile write. Caller holds the
// ingredient lock. Returns a non-nil CostChange when the usage unit
// changed and the cost was rebased.
func (l *Ledger) updateProfileLocked(ctx context.Context, row store.IngredientRow, unit units.Unit) (*CostChange, error) {
	current, err := l.store.ReadIngredient(ctx, row.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{IngredientID: row.ID}
	}
	if err != nil {
		return nil, err
	}

	row.Name = norm.NFC.String(row.Name)
	row.UsageUnit = unit.Symbol

	if current.UsageUnit == unit.Symbol {
		err := l.store.UpdateIngredientProfile(ctx, row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{IngredientID: row.ID}
		}
		return nil, err
	}

	// Usage unit changed: cost and stock are denominated in the old unit
	// and must move with it, or every dependent recipe silently reprices.
	oldUnit, err := units.Lookup(current.UsageUnit)
	if err != nil {
		return nil, err
	}
	perNew, err := units.Convert(decimal.New(1, 0), unit, oldUnit, row.Density)
	if err != nil {
		return nil, err
	}
	qty, err := units.Convert(current.QuantityOnHand, oldUnit, unit, row.Density)
	if err != nil {
		return nil, err
	}

	row.CostPerUnit = current.CostPerUnit.Mul(perNew)
	row.QuantityOnHand = qty
	row.Revision = current.Revision + 1
	row.BelowThreshold = row.Tracked && belowThreshold(qty, row.LowStockThreshold)
	if err := l.store.RebaseIngredient(ctx, row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{IngredientID: row.ID}
		}
		return nil, err
	}

	slog.Info("ingredient usage unit rebased",
		"ingredient_id", row.ID,
		"usage_unit", row.UsageUnit,
		"cost", row.CostPerUnit.String(),
		"revision", row.Revision)
	return &CostChange{IngredientID: row.ID, Cost: row.CostPerUnit, Revision: row.Revision}, nil
}

// Delete removes an ingredient that no recipe references.
// Fails with ReferencedError while recipe lines point at it.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	release := l.locks.acquire([]string{id})
	defer release()

	refs, err := l.store.CountRecipeReferences(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return &ReferencedError{IngredientID: id, References: refs}
	}

	err = l.store.DeleteIngredient(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{IngredientID: id}
	}
	return err
}

// SetCost records a new cost-per-usage-unit for the ingredient.
// Negative costs are rejected with InvalidCostError before any state
// changes. On success the revision is bumped and a cost-changed event is
// emitted to subscribers.
func (l *Ledger) SetCost(ctx context.Context, id string, cost decimal.Decimal) (revision int64, err error) {
	if cost.IsNegative() {
		return 0, &InvalidCostError{IngredientID: id, Cost: cost.String()}
	}

	release := l.locks.acquire([]string{id})
	revision, err = l.setCostLocked(ctx, id, cost)
	release()
	if err != nil {
		return 0, err
	}

	l.emit(CostChange{IngredientID: id, Cost: cost, Revision: revision})
	return revision, nil
}

// setCostLocked performs the cost write. Caller holds the ingredient lock
// and has validated cost >= 0.
func (l *Ledger) setCostLocked(ctx context.Context, id string, cost decimal.Decimal) (int64, error) {
	row, err := l.store.ReadIngredient(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &NotFoundError{IngredientID: id}
	}
	if err != nil {
		return 0, err
	}

	revision := row.Revision + 1
	if err := l.store.UpdateIngredientCost(ctx, id, cost, revision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, &NotFoundError{IngredientID: id}
		}
		return 0, err
	}

	slog.Info("ingredient cost updated",
		"ingredient_id", id,
		"cost", cost.String(),
		"revision", revision)
	return revision, nil
}

// DeriveCost computes cost-per-usage-unit from a purchase: purchaseQty of
// purchaseUnit bought for purchaseCost. The purchase quantity is resolved
// into usage units through the conversion resolver (using the
// ingredient's density when the purchase unit is cross-dimension) and the
// cost is divided through.
//
// Example: a 1 kg bag of flour for 2.00, usage unit g -> 0.002 per g.
func (l *Ledger) DeriveCost(ctx context.Context, id string, purchaseCost, purchaseQty decimal.Decimal, purchaseUnit string) (cost decimal.Decimal, revision int64, err error) {
	if purchaseCost.IsNegative() {
		return decimal.Decimal{}, 0, &InvalidCostError{IngredientID: id, Cost: purchaseCost.String()}
	}
	if !purchaseQty.IsPositive() {
		return decimal.Decimal{}, 0, &InvalidCostError{IngredientID: id, Cost: purchaseCost.String() + "/" + purchaseQty.String()}
	}

	release := l.locks.acquire([]string{id})
	defer release()

	row, err := l.store.ReadIngredient(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, 0, &NotFoundError{IngredientID: id}
	}
	if err != nil {
		return decimal.Decimal{}, 0, err
	}

	usageQty, err := units.ConvertSymbols(purchaseQty, purchaseUnit, row.UsageUnit, row.Density)
	if err != nil {
		return decimal.Decimal{}, 0, err
	}

	cost = purchaseCost.Div(usageQty)
	revision, err = l.setCostLocked(ctx, id, cost)
	if err != nil {
		return decimal.Decimal{}, 0, err
	}

	// Listeners only invalidate dependent recipes; they never re-enter
	// this ingredient's lock.
	l.emit(CostChange{IngredientID: id, Cost: cost, Revision: revision})
	return cost, revision, nil
}

// GetCost returns the current cost-per-usage-unit and its revision.
func (l *Ledger) GetCost(ctx context.Context, id string) (decimal.Decimal, int64, error) {
	row, err := l.Get(ctx, id)
	if err != nil {
		return decimal.Decimal{}, 0, err
	}
	return row.CostPerUnit, row.Revision, nil
}

// GetStock returns the current quantity on hand.
// Returns UntrackedError when the ingredient does not track stock.
func (l *Ledger) GetStock(ctx context.Context, id string) (decimal.Decimal, error) {
	row, err := l.Get(ctx, id)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !row.Tracked {
		return decimal.Decimal{}, &UntrackedError{IngredientID: id}
	}
	return row.QuantityOnHand, nil
}

// Snapshot returns a consistent {ingredient id -> revision} view for the
// requested ids. Missing ids are absent from the map.
func (l *Ledger) Snapshot(ctx context.Context, ids []string) (map[string]int64, error) {
	return l.store.IngredientRevisions(ctx, ids)
}

// LowStock lists every tracked ingredient currently below its threshold.
func (l *Ledger) LowStock(ctx context.Context) ([]store.IngredientRow, error) {
	return l.store.ReadLowStockIngredients(ctx)
}

// Adjustment is one signed stock delta within a batch.
type Adjustment struct {
	IngredientID string
	Delta        decimal.Decimal
}

// AdjustResult reports the outcome of one adjustment.
type AdjustResult struct {
	IngredientID string
	// Tracked is false when the ingredient does not track stock and the
	// adjustment was a no-op success.
	Tracked     bool
	NewQuantity decimal.Decimal
	Revision    int64
	// Overdraft is set when the resulting balance is negative. The
	// balance is recorded as-is, never clamped.
	Overdraft bool
	// CrossedLow is set when this adjustment moved the balance from
	// at-or-above the low-stock threshold to below it. It fires exactly
	// once per crossing.
	CrossedLow bool
}

// AdjustStock applies a single signed stock adjustment.
// A no-op success when the ingredient does not track stock.
func (l *Ledger) AdjustStock(ctx context.Context, id string, delta decimal.Decimal, reason string) (AdjustResult, error) {
	results, err := l.AdjustStockBatch(ctx, []Adjustment{{IngredientID: id, Delta: delta}}, reason)
	if err != nil {
		return AdjustResult{}, err
	}
	return results[0], nil
}

// AdjustStockBatch applies a set of signed stock adjustments as one
// all-or-nothing unit: per-ingredient locks are acquired in canonical
// order, every ingredient is validated to exist, and all balance writes
// commit in a single store transaction. Results are returned in the
// input order.
//
// Duplicate ingredient ids in the batch are rejected; callers merge
// demands per ingredient first.
func (l *Ledger) AdjustStockBatch(ctx context.Context, adjustments []Adjustment, reason string) ([]AdjustResult, error) {
	if len(adjustments) == 0 {
		return []AdjustResult{}, nil
	}

	ids, err := adjustmentIDs(adjustments)
	if err != nil {
		return nil, err
	}

	release := l.locks.acquire(ids)
	defer release()

	results, updates, err := l.PrepareStockUpdates(ctx, adjustments, reason)
	if err != nil {
		return nil, err
	}

	if err := l.store.ApplyStockUpdates(ctx, updates); err != nil {
		return nil, err
	}

	l.logStockOutcomes(results, reason)
	return results, nil
}

// LockIngredients acquires the per-ingredient locks in canonical order
// and returns the release function. Used by the deduction coordinator to
// hold a consistent view across prepare and commit.
func (l *Ledger) LockIngredients(ids []string) (release func()) {
	return l.locks.acquire(ids)
}

// PrepareStockUpdates computes balance updates and per-adjustment results
// for a batch without applying anything. The caller must hold the
// ingredient locks (LockIngredients) and commit the updates atomically -
// either through ApplyStockUpdates or folded into a larger store
// transaction such as an order deduction.
//
// A missing ingredient fails the whole batch before any write. Untracked
// ingredients yield a no-op result and no update.
func (l *Ledger) PrepareStockUpdates(ctx context.Context, adjustments []Adjustment, reason string) ([]AdjustResult, []store.StockUpdate, error) {
	ids, err := adjustmentIDs(adjustments)
	if err != nil {
		return nil, nil, err
	}

	rows := make(map[string]store.IngredientRow, len(ids))
	for _, id := range ids {
		row, err := l.store.ReadIngredient(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, &NotFoundError{IngredientID: id}
		}
		if err != nil {
			return nil, nil, err
		}
		rows[id] = row
	}

	results := make([]AdjustResult, len(adjustments))
	updates := make([]store.StockUpdate, 0, len(adjustments))
	for i, adj := range adjustments {
		row := rows[adj.IngredientID]
		if !row.Tracked {
			results[i] = AdjustResult{IngredientID: adj.IngredientID, Tracked: false}
			continue
		}

		newQty := row.QuantityOnHand.Add(adj.Delta)
		below := belowThreshold(newQty, row.LowStockThreshold)
		revision := row.Revision + 1

		results[i] = AdjustResult{
			IngredientID: adj.IngredientID,
			Tracked:      true,
			NewQuantity:  newQty,
			Revision:     revision,
			Overdraft:    newQty.IsNegative(),
			CrossedLow:   below && !row.BelowThreshold,
		}
		updates = append(updates, store.StockUpdate{
			IngredientID: adj.IngredientID,
			Quantity:     newQty,
			Below:        below,
			Revision:     revision,
			Movement: store.MovementRow{
				Seq:          l.clock.Next(),
				IngredientID: adj.IngredientID,
				Delta:        adj.Delta,
				Reason:       reason,
				ResultingQty: newQty,
			},
		})
	}

	return results, updates, nil
}

func adjustmentIDs(adjustments []Adjustment) ([]string, error) {
	ids := make([]string, 0, len(adjustments))
	seen := make(map[string]struct{}, len(adjustments))
	for _, adj := range adjustments {
		if _, dup := seen[adj.IngredientID]; dup {
			return nil, fmt.Errorf("duplicate ingredient %s in adjustment batch", adj.IngredientID)
		}
		seen[adj.IngredientID] = struct{}{}
		ids = append(ids, adj.IngredientID)
	}
	return ids, nil
}

// logStockOutcomes reports overdrafts and threshold crossings for a
// committed batch.
func (l *Ledger) logStockOutcomes(results []AdjustResult, reason string) {
	for _, r := range results {
		if r.Overdraft {
			slog.Warn("ingredient stock overdrawn",
				"ingredient_id", r.IngredientID,
				"quantity", r.NewQuantity.String(),
				"reason", reason)
		}
		if r.CrossedLow {
			slog.Info("ingredient crossed low-stock threshold",
				"ingredient_id", r.IngredientID,
				"quantity", r.NewQuantity.String())
		}
	}
}

// belowThreshold reports whether qty sits strictly below the threshold.
// A nil threshold disables the signal entirely.
func belowThreshold(qty decimal.Decimal, threshold *decimal.Decimal) bool {
	if threshold == nil {
		return false
	}
	return qty.LessThan(*threshold)
}
