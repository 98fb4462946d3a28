package orderflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/crumb/internal/ledger"
	"github.com/roach88/crumb/internal/recipe"
	"github.com/roach88/crumb/internal/store"
	"github.com/roach88/crumb/internal/units"
)

// LineItem is one entry on an order: either a recipe reference with an
// ordered quantity, or a free-form custom item. Custom items carry no
// ingredient linkage and are skipped by deduction.
type LineItem struct {
	RecipeID string // empty for custom items
	Name     string
	Quantity int
}

// Order is the coordinator's view of an order: an identity and its line
// items. Everything else about orders lives outside this engine.
type Order struct {
	ID    string
	Items []LineItem
}

// TransitionResult reports what a status transition did to inventory.
// Committed is false on replays and on transitions the coordinator does
// not act on.
type TransitionResult struct {
	Committed            bool
	OverdraftIngredients []string
	LowStockSignals      []string
}

// Coordinator turns order status transitions into inventory effects:
// exactly-once deduction when an order reaches the deduction status, and
// an exactly-once compensating restock when it is cancelled afterwards.
//
// Idempotency is carried by the per-order deduction marker, which commits
// in the same store transaction as the stock writes. Replaying either
// transition is a no-op.
type Coordinator struct {
	store  *store.Store
	ledger *ledger.Ledger
	clock  ledger.Sequencer

	deductAt   Status
	maxRetries int
	backoff    time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDeductionStatus sets the status whose transition triggers stock
// deduction. Defaults to Confirmed.
func WithDeductionStatus(s Status) Option {
	return func(c *Coordinator) { c.deductAt = s }
}

// WithRetry bounds the retry loop on store contention.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *Coordinator) {
		c.maxRetries = maxRetries
		c.backoff = backoff
	}
}

// NewCoordinator builds a Coordinator over the given store and ledger.
func NewCoordinator(s *store.Store, l *ledger.Ledger, clock ledger.Sequencer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      s,
		ledger:     l,
		clock:      clock,
		deductAt:   StatusConfirmed,
		maxRetries: 3,
		backoff:    25 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnStatusTransition applies the inventory side effects of moving order
// from one status to another. Transitions into the deduction status
// deduct stock; transitions into Cancelled restock whatever the order
// deducted; everything else is a no-op.
//
// An advisory *InsufficientStockError may be returned alongside a
// committed result: the deduction has already landed and the error only
// names the ingredients that went negative.
func (c *Coordinator) OnStatusTransition(ctx context.Context, order Order, from, to Status) (TransitionResult, error) {
	switch to {
	case c.deductAt:
		return c.deduct(ctx, order)
	case StatusCancelled:
		return c.restock(ctx, order)
	default:
		return TransitionResult{}, nil
	}
}

func (c *Coordinator) deduct(ctx context.Context, order Order) (TransitionResult, error) {
	demands, ids, err := c.explode(ctx, order)
	if err != nil {
		return TransitionResult{}, err
	}

	release := c.ledger.LockIngredients(ids)
	defer release()

	adjustments := make([]ledger.Adjustment, 0, len(ids))
	for _, id := range ids {
		adjustments = append(adjustments, ledger.Adjustment{
			IngredientID: id,
			Delta:        demands[id].Neg(),
		})
	}

	results, updates, err := c.ledger.PrepareStockUpdates(ctx, adjustments, ledger.ReasonOrder)
	if err != nil {
		return TransitionResult{}, err
	}

	marker := store.MarkerRow{
		OrderID:     order.ID,
		State:       store.MarkerDeducted,
		DeductedSeq: c.clock.Next(),
	}
	for _, r := range results {
		if !r.Tracked {
			continue
		}
		marker.Lines = append(marker.Lines, store.MarkerLineRow{
			IngredientID: r.IngredientID,
			Amount:       demands[r.IngredientID],
			Overdraft:    r.Overdraft,
		})
	}

	var inserted bool
	err = c.withRetry(ctx, order.ID, func() error {
		var err error
		inserted, err = c.store.ApplyDeduction(ctx, marker, updates)
		return err
	})
	if err != nil {
		return TransitionResult{}, err
	}
	if !inserted {
		// Replay: the order already deducted.
		return TransitionResult{}, nil
	}

	result := TransitionResult{Committed: true}
	for _, r := range results {
		if r.Overdraft {
			result.OverdraftIngredients = append(result.OverdraftIngredients, r.IngredientID)
			slog.Warn("order deduction overdrew ingredient",
				"order_id", order.ID,
				"ingredient_id", r.IngredientID,
				"quantity", r.NewQuantity.String())
		}
		if r.CrossedLow {
			result.LowStockSignals = append(result.LowStockSignals, r.IngredientID)
			slog.Info("ingredient crossed low-stock threshold",
				"order_id", order.ID,
				"ingredient_id", r.IngredientID,
				"quantity", r.NewQuantity.String())
		}
	}

	if len(result.OverdraftIngredients) > 0 {
		return result, &InsufficientStockError{
			OrderID:       order.ID,
			IngredientIDs: result.OverdraftIngredients,
		}
	}
	return result, nil
}

func (c *Coordinator) restock(ctx context.Context, order Order) (TransitionResult, error) {
	marker, err := c.store.ReadMarker(ctx, order.ID)
	if errors.Is(err, sql.ErrNoRows) {
		// Cancelled before any deduction: nothing to compensate.
		return TransitionResult{}, nil
	}
	if err != nil {
		return TransitionResult{}, err
	}
	if marker.State == store.MarkerRestocked {
		return TransitionResult{}, nil
	}

	ids := make([]string, 0, len(marker.Lines))
	for _, line := range marker.Lines {
		ids = append(ids, line.IngredientID)
	}

	release := c.ledger.LockIngredients(ids)
	defer release()

	adjustments := make([]ledger.Adjustment, 0, len(marker.Lines))
	for _, line := range marker.Lines {
		adjustments = append(adjustments, ledger.Adjustment{
			IngredientID: line.IngredientID,
			Delta:        line.Amount,
		})
	}

	_, updates, err := c.ledger.PrepareStockUpdates(ctx, adjustments, ledger.ReasonRestock)
	if err != nil {
		return TransitionResult{}, err
	}

	var updated bool
	err = c.withRetry(ctx, order.ID, func() error {
		var err error
		updated, err = c.store.ApplyRestock(ctx, order.ID, c.clock.Next(), updates)
		return err
	})
	if err != nil {
		return TransitionResult{}, err
	}

	return TransitionResult{Committed: updated}, nil
}

// explode expands the order's recipe lines into merged per-ingredient
// demand in usage units. The returned ids are sorted; lock acquisition
// and adjustment order both follow them.
func (c *Coordinator) explode(ctx context.Context, order Order) (map[string]decimal.Decimal, []string, error) {
	demands := make(map[string]decimal.Decimal)
	ingredients := make(map[string]store.IngredientRow)

	for _, item := range order.Items {
		if item.RecipeID == "" {
			continue
		}
		if item.Quantity <= 0 {
			return nil, nil, fmt.Errorf("order %s: item %q has non-positive quantity %d",
				order.ID, item.RecipeID, item.Quantity)
		}

		rec, err := c.store.ReadRecipe(ctx, item.RecipeID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, &recipe.NotFoundError{RecipeID: item.RecipeID}
		}
		if err != nil {
			return nil, nil, err
		}

		ordered := decimal.NewFromInt(int64(item.Quantity))
		for _, line := range rec.Lines {
			ing, ok := ingredients[line.IngredientID]
			if !ok {
				ing, err = c.store.ReadIngredient(ctx, line.IngredientID)
				if errors.Is(err, sql.ErrNoRows) {
					return nil, nil, &recipe.MissingIngredientError{
						RecipeID:     item.RecipeID,
						IngredientID: line.IngredientID,
					}
				}
				if err != nil {
					return nil, nil, err
				}
				ingredients[line.IngredientID] = ing
			}

			qty, err := units.ConvertSymbols(line.Quantity, line.Unit, ing.UsageUnit, ing.Density)
			if err != nil {
				return nil, nil, fmt.Errorf("order %s recipe %s line %d (%s): %w",
					order.ID, item.RecipeID, line.Position, line.IngredientID, err)
			}
			demands[line.IngredientID] = demands[line.IngredientID].Add(qty.Mul(ordered))
		}
	}

	ids := make([]string, 0, len(demands))
	for id := range demands {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return demands, ids, nil
}

// withRetry runs fn, retrying on store lock contention with linear
// backoff until maxRetries is exhausted, then surfaces the contention as
// a ConcurrencyConflictError.
func (c *Coordinator) withRetry(ctx context.Context, orderID string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
		err = fn()
		if err == nil || !store.IsBusy(err) {
			return err
		}
	}
	return &ConcurrencyConflictError{OrderID: orderID, Attempts: c.maxRetries + 1, Err: err}
}
