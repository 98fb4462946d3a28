package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crumb/internal/store"
	"github.com/roach88/crumb/internal/testutil"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, testutil.NewDeterministicClock(), testutil.NewSeqIDGenerator("ing"))
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func decPtr(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d := dec(t, s)
	return &d
}

func TestCreate(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{
		Name:      "flour",
		UsageUnit: "grams",
		Cost:      dec(t, "0.002"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ing-1", row.ID)
	assert.Equal(t, "g", row.UsageUnit, "aliases resolve to the canonical symbol")
	assert.EqualValues(t, 1, row.Revision)
	assert.True(t, row.QuantityOnHand.IsZero())
	assert.False(t, row.Tracked)
}

func TestCreateTrackedWithInitialStock(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{
		Name:              "butter",
		UsageUnit:         "g",
		Cost:              dec(t, "0.012"),
		Tracked:           true,
		InitialStock:      dec(t, "300"),
		LowStockThreshold: decPtr(t, "500"),
	})
	require.NoError(t, err)
	assert.Equal(t, "300", row.QuantityOnHand.String())
	assert.True(t, row.BelowThreshold, "initial stock below the threshold sets the edge state")

	// Initial stock is opening state, not a movement.
	movements, err := l.store.ReadAllMovements(ctx)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestCreateRejectsUnknownUnitAndNegativeCost(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	_, err := l.Create(ctx, IngredientCreate{Name: "x", UsageUnit: "slug"})
	assert.Error(t, err)

	_, err = l.Create(ctx, IngredientCreate{Name: "x", UsageUnit: "g", Cost: dec(t, "-1")})
	assert.True(t, IsInvalidCost(err))
}

func TestGetMissing(t *testing.T) {
	l := newLedger(t)

	_, err := l.Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestSetCost(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{Name: "flour", UsageUnit: "g", Cost: dec(t, "0.002")})
	require.NoError(t, err)

	var changes []CostChange
	l.Subscribe(func(c CostChange) { changes = append(changes, c) })

	revision, err := l.SetCost(ctx, row.ID, dec(t, "0.0025"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, revision)

	cost, rev, err := l.GetCost(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.0025", cost.String())
	assert.EqualValues(t, 2, rev)

	require.Len(t, changes, 1)
	assert.Equal(t, row.ID, changes[0].IngredientID)
	assert.EqualValues(t, 2, changes[0].Revision)
}

func TestSetCostNegativeRejectedBeforeWrite(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{Name: "flour", UsageUnit: "g", Cost: dec(t, "0.002")})
	require.NoError(t, err)

	var emitted bool
	l.Subscribe(func(CostChange) { emitted = true })

	_, err = l.SetCost(ctx, row.ID, dec(t, "-0.01"))
	assert.True(t, IsInvalidCost(err))
	assert.False(t, emitted)

	cost, rev, err := l.GetCost(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.002", cost.String())
	assert.EqualValues(t, 1, rev)
}

func TestDeriveCost(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{Name: "flour", UsageUnit: "g"})
	require.NoError(t, err)

	// A 1 kg bag for 2.00 -> 0.002 per gram.
	cost, revision, err := l.DeriveCost(ctx, row.ID, dec(t, "2.00"), dec(t, "1"), "kg")
	require.NoError(t, err)
	assert.Equal(t, "0.002", cost.String())
	assert.EqualValues(t, 2, revision)
}

func TestDeriveCostCrossDimension(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	// Honey costed per gram, purchased by the liter.
	row, err := l.Create(ctx, IngredientCreate{
		Name:      "honey",
		UsageUnit: "g",
		Density:   decPtr(t, "1.42"),
	})
	require.NoError(t, err)

	// 1 l = 1420 g; 7.10 / 1420 = 0.005 per gram.
	cost, _, err := l.DeriveCost(ctx, row.ID, dec(t, "7.10"), dec(t, "1"), "l")
	require.NoError(t, err)
	assert.Equal(t, "0.005", cost.String())

	// Without a density the same purchase cannot resolve.
	milk, err := l.Create(ctx, IngredientCreate{Name: "milk", UsageUnit: "ml"})
	require.NoError(t, err)
	_, _, err = l.DeriveCost(ctx, milk.ID, dec(t, "1.20"), dec(t, "1"), "kg")
	assert.Error(t, err)
}

func TestDeriveCostRejectsNonPositiveQuantity(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{Name: "flour", UsageUnit: "g"})
	require.NoError(t, err)

	_, _, err = l.DeriveCost(ctx, row.ID, dec(t, "2.00"), dec(t, "0"), "kg")
	assert.True(t, IsInvalidCost(err))
}

func TestAdjustStock(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{
		Name: "flour", UsageUnit: "g", Tracked: true, InitialStock: dec(t, "5000"),
	})
	require.NoError(t, err)

	res, err := l.AdjustStock(ctx, row.ID, dec(t, "-1200"), ReasonManual)
	require.NoError(t, err)
	assert.True(t, res.Tracked)
	assert.Equal(t, "3800", res.NewQuantity.String())
	assert.EqualValues(t, 2, res.Revision)
	assert.False(t, res.Overdraft)

	movements, err := l.store.ReadMovements(ctx, row.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.EqualValues(t, 1, movements[0].Seq)
	assert.Equal(t, "-1200", movements[0].Delta.String())
	assert.Equal(t, ReasonManual, movements[0].Reason)
	assert.Equal(t, "3800", movements[0].ResultingQty.String())
}

func TestAdjustStockUntrackedNoOp(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{Name: "salt", UsageUnit: "g"})
	require.NoError(t, err)

	res, err := l.AdjustStock(ctx, row.ID, dec(t, "-100"), ReasonManual)
	require.NoError(t, err)
	assert.False(t, res.Tracked)

	movements, err := l.store.ReadMovements(ctx, row.ID)
	require.NoError(t, err)
	assert.Empty(t, movements)

	_, err = l.GetStock(ctx, row.ID)
	assert.True(t, IsUntracked(err))
}

func TestAdjustStockOverdraftCommits(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{
		Name: "flour", UsageUnit: "g", Tracked: true, InitialStock: dec(t, "100"),
	})
	require.NoError(t, err)

	res, err := l.AdjustStock(ctx, row.ID, dec(t, "-250"), ReasonManual)
	require.NoError(t, err)
	assert.True(t, res.Overdraft)
	assert.Equal(t, "-150", res.NewQuantity.String())

	// The negative balance is durable, never clamped.
	qty, err := l.GetStock(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "-150", qty.String())
}

func TestLowStockCrossingFiresOnce(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{
		Name: "vanilla", UsageUnit: "ml", Tracked: true,
		InitialStock:      dec(t, "100"),
		LowStockThreshold: decPtr(t, "50"),
	})
	require.NoError(t, err)

	res, err := l.AdjustStock(ctx, row.ID, dec(t, "-60"), ReasonManual)
	require.NoError(t, err)
	assert.True(t, res.CrossedLow, "dropping from 100 to 40 crosses 50")

	res, err = l.AdjustStock(ctx, row.ID, dec(t, "-10"), ReasonManual)
	require.NoError(t, err)
	assert.False(t, res.CrossedLow, "already below: no second signal")

	res, err = l.AdjustStock(ctx, row.ID, dec(t, "30"), ReasonManual)
	require.NoError(t, err)
	assert.False(t, res.CrossedLow, "recovering above resets the detector quietly")

	res, err = l.AdjustStock(ctx, row.ID, dec(t, "-11"), ReasonManual)
	require.NoError(t, err)
	assert.True(t, res.CrossedLow, "a fresh drop below fires again")

	low, err := l.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, row.ID, low[0].ID)
}

func TestAdjustStockBatchAllOrNothing(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	flour, err := l.Create(ctx, IngredientCreate{
		Name: "flour", UsageUnit: "g", Tracked: true, InitialStock: dec(t, "1000"),
	})
	require.NoError(t, err)

	_, err = l.AdjustStockBatch(ctx, []Adjustment{
		{IngredientID: flour.ID, Delta: dec(t, "-100")},
		{IngredientID: "ghost", Delta: dec(t, "-100")},
	}, ReasonOrder)
	assert.True(t, IsNotFound(err))

	// The valid half of the failed batch must not have landed.
	qty, err := l.GetStock(ctx, flour.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000", qty.String())
}

func TestAdjustStockBatchRejectsDuplicates(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	flour, err := l.Create(ctx, IngredientCreate{
		Name: "flour", UsageUnit: "g", Tracked: true, InitialStock: dec(t, "1000"),
	})
	require.NoError(t, err)

	_, err = l.AdjustStockBatch(ctx, []Adjustment{
		{IngredientID: flour.ID, Delta: dec(t, "-100")},
		{IngredientID: flour.ID, Delta: dec(t, "-200")},
	}, ReasonOrder)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate ingredient")
}

func TestDeleteReferenced(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{Name: "flour", UsageUnit: "g"})
	require.NoError(t, err)

	require.NoError(t, l.store.InsertRecipe(ctx, store.RecipeRow{
		ID: "rec-1", Name: "bread", YieldCount: 1,
		Lines: []store.RecipeLineRow{{Position: 0, IngredientID: row.ID, Quantity: dec(t, "500"), Unit: "g"}},
	}))

	err = l.Delete(ctx, row.ID)
	assert.True(t, IsReferenced(err))

	require.NoError(t, l.store.DeleteRecipe(ctx, "rec-1"))
	require.NoError(t, l.Delete(ctx, row.ID))
	_, err = l.Get(ctx, row.ID)
	assert.True(t, IsNotFound(err))
}

func TestUpdateProfile(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{Name: "flour", UsageUnit: "g"})
	require.NoError(t, err)

	row.Name = "bread flour"
	row.LowStockThreshold = decPtr(t, "250")
	require.NoError(t, l.UpdateProfile(ctx, row))

	got, err := l.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "bread flour", got.Name)
	require.NotNil(t, got.LowStockThreshold)
	assert.Equal(t, "250", got.LowStockThreshold.String())
}

func TestCreateRejectsNonPositiveDensity(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	// A zero density would divide by zero in every cross-dimension
	// conversion downstream; it can never be stored.
	_, err := l.Create(ctx, IngredientCreate{
		Name: "honey", UsageUnit: "g", Density: decPtr(t, "0"),
	})
	assert.True(t, IsInvalidDensity(err))

	_, err = l.Create(ctx, IngredientCreate{
		Name: "honey", UsageUnit: "g", Density: decPtr(t, "-1.42"),
	})
	assert.True(t, IsInvalidDensity(err))
}

func TestUpdateProfileRejectsNonPositiveDensity(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{Name: "honey", UsageUnit: "g", Density: decPtr(t, "1.42")})
	require.NoError(t, err)

	row.Density = decPtr(t, "0")
	err = l.UpdateProfile(ctx, row)
	assert.True(t, IsInvalidDensity(err))

	got, err := l.Get(ctx, row.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Density)
	assert.Equal(t, "1.42", got.Density.String(), "rejected update leaves the stored density alone")
}

func TestUpdateProfileRebasesUnitChange(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{
		Name: "flour", UsageUnit: "g", Cost: dec(t, "0.002"),
		Tracked: true, InitialStock: dec(t, "5000"),
	})
	require.NoError(t, err)

	var changes []CostChange
	l.Subscribe(func(c CostChange) { changes = append(changes, c) })

	row.UsageUnit = "kg"
	require.NoError(t, l.UpdateProfile(ctx, row))

	got, err := l.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "kg", got.UsageUnit)
	assert.Equal(t, "2", got.CostPerUnit.String(), "0.002 per g is 2 per kg")
	assert.Equal(t, "5", got.QuantityOnHand.String(), "5000 g is 5 kg")
	assert.EqualValues(t, 2, got.Revision)

	// Dependent recipes are invalidated through the usual channel.
	require.Len(t, changes, 1)
	assert.Equal(t, "2", changes[0].Cost.String())
	assert.EqualValues(t, 2, changes[0].Revision)
}

func TestUpdateProfileRebaseCrossDimension(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	row, err := l.Create(ctx, IngredientCreate{
		Name: "syrup", UsageUnit: "g", Cost: dec(t, "0.005"),
		Density: decPtr(t, "2"),
		Tracked: true, InitialStock: dec(t, "500"),
	})
	require.NoError(t, err)

	row.UsageUnit = "ml"
	require.NoError(t, l.UpdateProfile(ctx, row))

	got, err := l.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.01", got.CostPerUnit.String(), "1 ml weighs 2 g")
	assert.Equal(t, "250", got.QuantityOnHand.String())

	// Without a density the same change has no conversion path.
	milk, err := l.Create(ctx, IngredientCreate{Name: "milk", UsageUnit: "ml"})
	require.NoError(t, err)
	milk.UsageUnit = "g"
	err = l.UpdateProfile(ctx, milk)
	require.Error(t, err)

	unchanged, err := l.Get(ctx, milk.ID)
	require.NoError(t, err)
	assert.Equal(t, "ml", unchanged.UsageUnit)
	assert.EqualValues(t, 1, unchanged.Revision)
}

func TestSnapshot(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	a, err := l.Create(ctx, IngredientCreate{Name: "a", UsageUnit: "g"})
	require.NoError(t, err)
	b, err := l.Create(ctx, IngredientCreate{Name: "b", UsageUnit: "g"})
	require.NoError(t, err)

	_, err = l.SetCost(ctx, b.ID, dec(t, "1"))
	require.NoError(t, err)

	snap, err := l.Snapshot(ctx, []string{a.ID, b.ID, "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{a.ID: 1, b.ID: 2}, snap)
}
