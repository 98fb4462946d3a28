package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func insertTestIngredient(t *testing.T, s *Store, id, qty string) {
	t.Helper()
	require.NoError(t, s.InsertIngredient(context.Background(), IngredientRow{
		ID:             id,
		Name:           "ingredient " + id,
		UsageUnit:      "g",
		CostPerUnit:    dec(t, "0.01"),
		Tracked:        true,
		QuantityOnHand: dec(t, qty),
		Revision:       1,
	}))
}

func update(t *testing.T, id string, seq int64, delta, qty string) StockUpdate {
	t.Helper()
	return StockUpdate{
		IngredientID: id,
		Quantity:     dec(t, qty),
		Revision:     2,
		Movement: MovementRow{
			Seq:          seq,
			IngredientID: id,
			Delta:        dec(t, delta),
			Reason:       "order",
			ResultingQty: dec(t, qty),
		},
	}
}

func TestIngredientRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	density := dec(t, "1.42")
	threshold := dec(t, "500")
	in := IngredientRow{
		ID:                "ing-1",
		Name:              "honey",
		UsageUnit:         "g",
		CostPerUnit:       dec(t, "0.014"),
		Density:           &density,
		Tracked:           true,
		QuantityOnHand:    dec(t, "1200"),
		LowStockThreshold: &threshold,
		Revision:          1,
	}
	require.NoError(t, s.InsertIngredient(ctx, in))

	got, err := s.ReadIngredient(ctx, "ing-1")
	require.NoError(t, err)
	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.UsageUnit, got.UsageUnit)
	assert.True(t, got.CostPerUnit.Equal(in.CostPerUnit))
	require.NotNil(t, got.Density)
	assert.True(t, got.Density.Equal(density))
	require.NotNil(t, got.LowStockThreshold)
	assert.True(t, got.LowStockThreshold.Equal(threshold))
	assert.True(t, got.Tracked)
	assert.False(t, got.BelowThreshold)
	assert.EqualValues(t, 1, got.Revision)
}

func TestReadIngredientMissing(t *testing.T) {
	s := newStore(t)

	_, err := s.ReadIngredient(context.Background(), "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestApplyDeductionIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	insertTestIngredient(t, s, "ing-1", "1000")

	marker := MarkerRow{
		OrderID:     "ord-1",
		State:       MarkerDeducted,
		DeductedSeq: 2,
		Lines:       []MarkerLineRow{{IngredientID: "ing-1", Amount: dec(t, "400")}},
	}
	updates := []StockUpdate{update(t, "ing-1", 1, "-400", "600")}

	inserted, err := s.ApplyDeduction(ctx, marker, updates)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Replaying the same order must not touch stock again.
	marker.DeductedSeq = 5
	inserted, err = s.ApplyDeduction(ctx, marker, []StockUpdate{update(t, "ing-1", 4, "-400", "200")})
	require.NoError(t, err)
	assert.False(t, inserted)

	row, err := s.ReadIngredient(ctx, "ing-1")
	require.NoError(t, err)
	assert.Equal(t, "600", row.QuantityOnHand.String())

	movements, err := s.ReadAllMovements(ctx)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.EqualValues(t, 1, movements[0].Seq)

	got, err := s.ReadMarker(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, MarkerDeducted, got.State)
	assert.EqualValues(t, 2, got.DeductedSeq)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "400", got.Lines[0].Amount.String())
}

func TestApplyRestockStateGuard(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	insertTestIngredient(t, s, "ing-1", "1000")

	marker := MarkerRow{
		OrderID:     "ord-1",
		State:       MarkerDeducted,
		DeductedSeq: 2,
		Lines:       []MarkerLineRow{{IngredientID: "ing-1", Amount: dec(t, "400")}},
	}
	_, err := s.ApplyDeduction(ctx, marker, []StockUpdate{update(t, "ing-1", 1, "-400", "600")})
	require.NoError(t, err)

	restock := []StockUpdate{update(t, "ing-1", 3, "400", "1000")}
	updated, err := s.ApplyRestock(ctx, "ord-1", 4, restock)
	require.NoError(t, err)
	assert.True(t, updated)

	// Already restocked: the guard makes the replay a no-op.
	updated, err = s.ApplyRestock(ctx, "ord-1", 6, []StockUpdate{update(t, "ing-1", 5, "400", "1400")})
	require.NoError(t, err)
	assert.False(t, updated)

	// No marker at all behaves the same way.
	updated, err = s.ApplyRestock(ctx, "ord-2", 8, []StockUpdate{update(t, "ing-1", 7, "400", "1400")})
	require.NoError(t, err)
	assert.False(t, updated)

	row, err := s.ReadIngredient(ctx, "ing-1")
	require.NoError(t, err)
	assert.Equal(t, "1000", row.QuantityOnHand.String())

	got, err := s.ReadMarker(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, MarkerRestocked, got.State)
	require.NotNil(t, got.RestockedSeq)
	assert.EqualValues(t, 4, *got.RestockedSeq)
}

func TestMaxSeqCoversMarkers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	insertTestIngredient(t, s, "ing-1", "1000")

	seq, err := s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, seq)

	marker := MarkerRow{
		OrderID:     "ord-1",
		State:       MarkerDeducted,
		DeductedSeq: 9,
		Lines:       []MarkerLineRow{{IngredientID: "ing-1", Amount: dec(t, "100")}},
	}
	_, err = s.ApplyDeduction(ctx, marker, []StockUpdate{update(t, "ing-1", 8, "-100", "900")})
	require.NoError(t, err)

	// The marker seq is past the last movement and must win.
	seq, err = s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 9, seq)

	updated, err := s.ApplyRestock(ctx, "ord-1", 11, []StockUpdate{update(t, "ing-1", 10, "100", "1000")})
	require.NoError(t, err)
	require.True(t, updated)

	seq, err = s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 11, seq)
}

func TestReadLowStockIngredients(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	threshold := dec(t, "500")
	require.NoError(t, s.InsertIngredient(ctx, IngredientRow{
		ID: "ing-1", Name: "flour", UsageUnit: "g", CostPerUnit: dec(t, "0.002"),
		Tracked: true, QuantityOnHand: dec(t, "100"),
		LowStockThreshold: &threshold, BelowThreshold: true, Revision: 1,
	}))
	require.NoError(t, s.InsertIngredient(ctx, IngredientRow{
		ID: "ing-2", Name: "sugar", UsageUnit: "g", CostPerUnit: dec(t, "0.003"),
		Tracked: true, QuantityOnHand: dec(t, "900"),
		LowStockThreshold: &threshold, Revision: 1,
	}))

	rows, err := s.ReadLowStockIngredients(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ing-1", rows[0].ID)
}

func TestRecipeRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	insertTestIngredient(t, s, "ing-1", "1000")

	row := RecipeRow{
		ID:           "rec-1",
		Name:         "shortbread",
		YieldCount:   8,
		LaborMinutes: 20,
		Steps:        []string{"cream butter", "bake"},
		Lines: []RecipeLineRow{
			{Position: 0, IngredientID: "ing-1", Quantity: dec(t, "400"), Unit: "g"},
		},
	}
	require.NoError(t, s.InsertRecipe(ctx, row))

	got, err := s.ReadRecipe(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "shortbread", got.Name)
	assert.Equal(t, 8, got.YieldCount)
	assert.Equal(t, 20, got.LaborMinutes)
	assert.Equal(t, []string{"cream butter", "bake"}, got.Steps)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "ing-1", got.Lines[0].IngredientID)
	assert.True(t, got.CostStale, "a new recipe starts stale")
	assert.Nil(t, got.CachedCost)
}

func TestRecipeCostCacheAndStaleness(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	insertTestIngredient(t, s, "ing-1", "1000")
	require.NoError(t, s.InsertRecipe(ctx, RecipeRow{
		ID: "rec-1", Name: "x", YieldCount: 1,
		Lines: []RecipeLineRow{{Position: 0, IngredientID: "ing-1", Quantity: dec(t, "100"), Unit: "g"}},
	}))

	require.NoError(t, s.UpdateRecipeCost(ctx, "rec-1", dec(t, "1"), map[string]int64{"ing-1": 1}))

	got, err := s.ReadRecipe(ctx, "rec-1")
	require.NoError(t, err)
	assert.False(t, got.CostStale)
	require.NotNil(t, got.CachedCost)
	assert.Equal(t, "1", got.CachedCost.String())

	revs, err := s.RecipeCostRevisions(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ing-1": 1}, revs)

	n, err := s.MarkRecipesStale(ctx, "ing-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stale, err := s.StaleRecipeIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-1"}, stale)
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crumb.db")

	s, err := Open(path)
	require.NoError(t, err)
	insertTestIngredient(t, s, "ing-1", "1000")
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	row, err := s2.ReadIngredient(context.Background(), "ing-1")
	require.NoError(t, err)
	assert.Equal(t, "1000", row.QuantityOnHand.String())
}

func TestIsBusy(t *testing.T) {
	assert.False(t, IsBusy(nil))
	assert.False(t, IsBusy(sql.ErrNoRows))
}
