package orderflow

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crumb/internal/ledger"
	"github.com/roach88/crumb/internal/recipe"
	"github.com/roach88/crumb/internal/store"
	"github.com/roach88/crumb/internal/testutil"
)

type fixture struct {
	store  *store.Store
	ledger *ledger.Ledger
	coord  *Coordinator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := testutil.NewDeterministicClock()
	l := ledger.New(s, clock, testutil.NewSeqIDGenerator("ing"))
	return &fixture{
		store:  s,
		ledger: l,
		coord:  NewCoordinator(s, l, clock, opts...),
	}
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func (f *fixture) tracked(t *testing.T, name, unit, stock string) store.IngredientRow {
	t.Helper()
	row, err := f.ledger.Create(context.Background(), ledger.IngredientCreate{
		Name: name, UsageUnit: unit, Cost: dec(t, "0.01"),
		Tracked: true, InitialStock: dec(t, stock),
	})
	require.NoError(t, err)
	return row
}

func (f *fixture) recipe(t *testing.T, id string, lines ...store.RecipeLineRow) {
	t.Helper()
	require.NoError(t, f.store.InsertRecipe(context.Background(), store.RecipeRow{
		ID: id, Name: "recipe " + id, YieldCount: 1, Lines: lines,
	}))
}

func line(t *testing.T, ingredientID, qty, unit string, pos int) store.RecipeLineRow {
	t.Helper()
	return store.RecipeLineRow{Position: pos, IngredientID: ingredientID, Quantity: dec(t, qty), Unit: unit}
}

func (f *fixture) stock(t *testing.T, id string) string {
	t.Helper()
	qty, err := f.ledger.GetStock(context.Background(), id)
	require.NoError(t, err)
	return qty.String()
}

func TestDeductOnConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flour := f.tracked(t, "flour", "g", "5000")
	sugar := f.tracked(t, "sugar", "g", "3000")
	f.recipe(t, "rec-1", line(t, flour.ID, "250", "g", 0), line(t, sugar.ID, "125", "g", 1))

	order := Order{ID: "ord-1", Items: []LineItem{{RecipeID: "rec-1", Quantity: 2}}}
	res, err := f.coord.OnStatusTransition(ctx, order, StatusNewOnline, StatusConfirmed)
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Empty(t, res.OverdraftIngredients)

	assert.Equal(t, "4500", f.stock(t, flour.ID))
	assert.Equal(t, "2750", f.stock(t, sugar.ID))

	marker, err := f.store.ReadMarker(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, store.MarkerDeducted, marker.State)
	require.Len(t, marker.Lines, 2)
	assert.Equal(t, "500", marker.Lines[0].Amount.String())
	assert.Equal(t, "250", marker.Lines[1].Amount.String())
}

func TestDeductReplayIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flour := f.tracked(t, "flour", "g", "5000")
	f.recipe(t, "rec-1", line(t, flour.ID, "250", "g", 0))
	order := Order{ID: "ord-1", Items: []LineItem{{RecipeID: "rec-1", Quantity: 1}}}

	res, err := f.coord.OnStatusTransition(ctx, order, StatusNewOnline, StatusConfirmed)
	require.NoError(t, err)
	assert.True(t, res.Committed)

	res, err = f.coord.OnStatusTransition(ctx, order, StatusNewOnline, StatusConfirmed)
	require.NoError(t, err)
	assert.False(t, res.Committed)

	assert.Equal(t, "4750", f.stock(t, flour.ID))

	movements, err := f.store.ReadAllMovements(ctx)
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestCancelRestocksExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flour := f.tracked(t, "flour", "g", "5000")
	f.recipe(t, "rec-1", line(t, flour.ID, "250", "g", 0))
	order := Order{ID: "ord-1", Items: []LineItem{{RecipeID: "rec-1", Quantity: 2}}}

	_, err := f.coord.OnStatusTransition(ctx, order, StatusNewOnline, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, "4500", f.stock(t, flour.ID))

	res, err := f.coord.OnStatusTransition(ctx, order, StatusConfirmed, StatusCancelled)
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, "5000", f.stock(t, flour.ID))

	// Cancelling again must not double-restock.
	res, err = f.coord.OnStatusTransition(ctx, order, StatusConfirmed, StatusCancelled)
	require.NoError(t, err)
	assert.False(t, res.Committed)
	assert.Equal(t, "5000", f.stock(t, flour.ID))

	marker, err := f.store.ReadMarker(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, store.MarkerRestocked, marker.State)
}

func TestCancelBeforeDeduction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flour := f.tracked(t, "flour", "g", "5000")
	f.recipe(t, "rec-1", line(t, flour.ID, "250", "g", 0))
	order := Order{ID: "ord-1", Items: []LineItem{{RecipeID: "rec-1", Quantity: 1}}}

	res, err := f.coord.OnStatusTransition(ctx, order, StatusQuoted, StatusCancelled)
	require.NoError(t, err)
	assert.False(t, res.Committed)
	assert.Equal(t, "5000", f.stock(t, flour.ID))
}

func TestNonDeductionTransitionsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flour := f.tracked(t, "flour", "g", "5000")
	f.recipe(t, "rec-1", line(t, flour.ID, "250", "g", 0))
	order := Order{ID: "ord-1", Items: []LineItem{{RecipeID: "rec-1", Quantity: 1}}}

	for _, to := range []Status{StatusQuoted, StatusPreparing, StatusReadyForFulfillment, StatusCompleted} {
		res, err := f.coord.OnStatusTransition(ctx, order, StatusNewOnline, to)
		require.NoError(t, err)
		assert.False(t, res.Committed, "transition to %s must not touch stock", to)
	}
	assert.Equal(t, "5000", f.stock(t, flour.ID))
}

func TestCustomDeductionStatus(t *testing.T) {
	f := newFixture(t, WithDeductionStatus(StatusPreparing))
	ctx := context.Background()

	flour := f.tracked(t, "flour", "g", "5000")
	f.recipe(t, "rec-1", line(t, flour.ID, "250", "g", 0))
	order := Order{ID: "ord-1", Items: []LineItem{{RecipeID: "rec-1", Quantity: 1}}}

	res, err := f.coord.OnStatusTransition(ctx, order, StatusNewOnline, StatusConfirmed)
	require.NoError(t, err)
	assert.False(t, res.Committed)

	res, err = f.coord.OnStatusTransition(ctx, order, StatusConfirmed, StatusPreparing)
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, "4750", f.stock(t, flour.ID))
}

func TestAdvisoryInsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flour := f.tracked(t, "flour", "g", "100")
	f.recipe(t, "rec-1", line(t, flour.ID, "250", "g", 0))
	order := Order{ID: "ord-1", Items: []LineItem{{RecipeID: "rec-1", Quantity: 1}}}

	res, err := f.coord.OnStatusTransition(ctx, order, StatusNewOnline, StatusConfirmed)

	// The deduction commits; the error is advisory.
	require.Error(t, err)
	assert.True(t, IsInsufficientStock(err))
	assert.True(t, res.Committed)
	assert.Equal(t, []string{flour.ID}, res.OverdraftIngredients)
	assert.Equal(t, "-150", f.stock(t, flour.ID))

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "ord-1", insufficient.OrderID)
	assert.Equal(t, []string{flour.ID}, insufficient.IngredientIDs)

	marker, err := f.store.ReadMarker(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, marker.Lines, 1)
	assert.True(t, marker.Lines[0].Overdraft)
}

func TestUntrackedIngredientsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flour := f.tracked(t, "flour", "g", "5000")
	salt, err := f.ledger.Create(ctx, ledger.IngredientCreate{
		Name: "salt", UsageUnit: "g", Cost: dec(t, "0.001"),
	})
	require.NoError(t, err)
	f.recipe(t, "rec-1", line(t, flour.ID, "250", "g", 0), line(t, salt.ID, "5", "g", 1))
	order := Order{ID: "ord-1", Items: []LineItem{{RecipeID: "rec-1", Quantity: 1}}}

	res, err := f.coord.OnStatusTransition(ctx, order, StatusNewOnline, StatusConfirmed)
	require.NoError(t, err)
	assert.True(t, res.Committed)

	// Only the tracked ingredient is recorded, so a restock can never
	// add stock that was never deducted.
	marker, err := f.store.ReadMarker(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, marker.Lines, 1)
	assert.Equal(t, flour.ID, marker.Lines[0].IngredientID)

	_, err = f.coord.OnStatusTransition(ctx, order, StatusConfirmed, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, "5000", f.stock(t, flour.ID))
}

func TestCustomItemsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flour := f.tracked(t, "flour", "g", "5000")
	f.recipe(t, "rec-1", line(t, flour.ID, "250", "g", 0))
	order := Order{ID: "ord-1", Items: []LineItem{
		{RecipeID: "rec-1", Quantity: 1},
		{Name: "gift note", Quantity: 1},
	}}

	res, err := f.coord.OnStatusTransition(ctx, order, StatusNewOnline, StatusConfirmed)
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, "4750", f.stock(t, flour.ID))
}

func TestDemandsMergeAcrossItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flour := f.tracked(t, "flour", "g", "5000")
	f.recipe(t, "rec-1", line(t, flour.ID, "250", "g", 0))
	f.recipe(t, "rec-2", line(t, flour.ID, "100", "g", 0))
	order := Order{ID: "ord-1", Items: []LineItem{
		{RecipeID: "rec-1", Quantity: 2},
		{RecipeID: "rec-2", Quantity: 3},
	}}

	res, err := f.coord.OnStatusTransition(ctx, order, StatusNewOnline, StatusConfirmed)
	require.NoError(t, err)
	assert.True(t, res.Committed)

	// 2*250 + 3*100 merged into one 800 g deduction.
	assert.Equal(t, "4200", f.stock(t, flour.ID))
	movements, err := f.store.ReadMovements(ctx, flour.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, "-800", movements[0].Delta.String())
}

func TestDeductLineUnitsConvert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flour := f.tracked(t, "flour", "g", "5000")
	f.recipe(t, "rec-1", line(t, flour.ID, "1.5", "kg", 0))
	order := Order{ID: "ord-1", Items: []LineItem{{RecipeID: "rec-1", Quantity: 1}}}

	_, err := f.coord.OnStatusTransition(ctx, order, StatusNewOnline, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, "3500", f.stock(t, flour.ID))
}

func TestDeductUnknownRecipe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := Order{ID: "ord-1", Items: []LineItem{{RecipeID: "ghost", Quantity: 1}}}
	_, err := f.coord.OnStatusTransition(ctx, order, StatusNewOnline, StatusConfirmed)
	require.Error(t, err)
	assert.True(t, recipe.IsNotFound(err))
}

func TestDeductRejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flour := f.tracked(t, "flour", "g", "5000")
	f.recipe(t, "rec-1", line(t, flour.ID, "250", "g", 0))
	order := Order{ID: "ord-1", Items: []LineItem{{RecipeID: "rec-1", Quantity: 0}}}

	_, err := f.coord.OnStatusTransition(ctx, order, StatusNewOnline, StatusConfirmed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-positive quantity")
	assert.Equal(t, "5000", f.stock(t, flour.ID))
}

// Concurrent replays of the same transition race on the marker insert;
// exactly one may win.
func TestConcurrentDeductionCommitsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flour := f.tracked(t, "flour", "g", "5000")
	f.recipe(t, "rec-1", line(t, flour.ID, "250", "g", 0))
	order := Order{ID: "ord-1", Items: []LineItem{{RecipeID: "rec-1", Quantity: 1}}}

	const workers = 8
	var wg sync.WaitGroup
	committed := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.coord.OnStatusTransition(ctx, order, StatusNewOnline, StatusConfirmed)
			if err == nil && res.Committed {
				committed <- true
			}
		}()
	}
	wg.Wait()
	close(committed)

	var wins int
	for range committed {
		wins++
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, "4750", f.stock(t, flour.ID))
}
