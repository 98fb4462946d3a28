package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/crumb/internal/ledger"
	"github.com/roach88/crumb/internal/orderflow"
	"github.com/roach88/crumb/internal/pricing"
	"github.com/roach88/crumb/internal/recipe"
	"github.com/roach88/crumb/internal/store"
)

// IDGenerator assigns identity to new ingredients and recipes.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// Engine is the single surface over the costing and inventory machinery:
// the ingredient ledger, the recipe cost aggregator, the pricing policy,
// and the order deduction coordinator, all sharing one store and one
// logical clock.
//
// Cost-change propagation is wired at construction: every committed
// ingredient cost mutation invalidates the cached cost of the recipes
// referencing it.
type Engine struct {
	store       *store.Store
	clock       *Clock
	ledger      *ledger.Ledger
	recipes     *recipe.Aggregator
	coordinator *orderflow.Coordinator

	ids          IDGenerator
	pricingCfg   pricing.Config
	deductAt     orderflow.Status
	retryLimit   int
	retryBackoff time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator replaces the UUIDv7 id generator. Tests use a
// FixedGenerator for deterministic traces.
func WithIDGenerator(ids IDGenerator) Option {
	return func(e *Engine) { e.ids = ids }
}

// WithClock replaces the logical clock. Overrides the resume-from-store
// behavior; tests use it to start from a known seq.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithDeductionStatus sets the order status that triggers stock
// deduction. Defaults to Confirmed.
func WithDeductionStatus(s orderflow.Status) Option {
	return func(e *Engine) { e.deductAt = s }
}

// WithRetry bounds the coordinator's retry loop on store contention.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(e *Engine) {
		e.retryLimit = maxRetries
		e.retryBackoff = backoff
	}
}

// WithPricingConfig sets the pricing policy used by PriceRecipe.
func WithPricingConfig(cfg pricing.Config) Option {
	return func(e *Engine) { e.pricingCfg = cfg }
}

// New assembles an Engine over an opened store. Unless WithClock is
// given, the logical clock resumes past the highest seq already
// persisted, so a reopened database never reuses a sequence number.
func New(ctx context.Context, s *store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:        s,
		ids:          UUIDv7Generator{},
		pricingCfg:   pricing.DefaultConfig(),
		deductAt:     orderflow.StatusConfirmed,
		retryLimit:   3,
		retryBackoff: 25 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.clock == nil {
		seq, err := s.MaxSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("resume clock: %w", err)
		}
		e.clock = NewClockAt(seq)
	}

	e.ledger = ledger.New(s, e.clock, e.ids)
	e.recipes = recipe.NewAggregator(s, e.ledger, e.ids)
	e.coordinator = orderflow.NewCoordinator(s, e.ledger, e.clock,
		orderflow.WithDeductionStatus(e.deductAt),
		orderflow.WithRetry(e.retryLimit, e.retryBackoff),
	)

	// Cost changes invalidate dependent recipe caches synchronously, so
	// a Cost read issued after SetCost returns never sees a stale total.
	e.ledger.Subscribe(func(change ledger.CostChange) {
		n, err := e.recipes.Invalidate(context.Background(), change.IngredientID)
		if err != nil {
			slog.Error("recipe cache invalidation failed",
				"ingredient_id", change.IngredientID,
				"error", err)
			return
		}
		if n > 0 {
			slog.Debug("recipe costs invalidated",
				"ingredient_id", change.IngredientID,
				"revision", change.Revision,
				"recipes", n)
		}
	})

	return e, nil
}

// Open opens (or creates) the database at path and assembles an Engine
// over it.
func Open(ctx context.Context, path string, opts ...Option) (*Engine, error) {
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	e, err := New(ctx, s, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return e, nil
}

// Close releases the underlying store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Ledger exposes ingredient cost and stock operations.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Recipes exposes recipe definition and cost aggregation operations.
func (e *Engine) Recipes() *recipe.Aggregator {
	return e.recipes
}

// Orders exposes the order status transition coordinator.
func (e *Engine) Orders() *orderflow.Coordinator {
	return e.coordinator
}

// Store exposes the underlying store for direct queries.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// PricingConfig returns the active pricing policy.
func (e *Engine) PricingConfig() pricing.Config {
	return e.pricingCfg
}

// PriceRecipe computes the recipe's current cost breakdown and a
// suggested price under the engine's pricing policy. The returned quote
// is full precision; round at the presentation boundary.
func (e *Engine) PriceRecipe(ctx context.Context, recipeID string) (recipe.CostBreakdown, pricing.Quote, error) {
	rec, err := e.recipes.Get(ctx, recipeID)
	if err != nil {
		return recipe.CostBreakdown{}, pricing.Quote{}, err
	}
	breakdown, err := e.recipes.Cost(ctx, recipeID)
	if err != nil {
		return recipe.CostBreakdown{}, pricing.Quote{}, err
	}
	quote, err := pricing.SuggestPrice(breakdown, rec.LaborMinutes, e.pricingCfg)
	if err != nil {
		return recipe.CostBreakdown{}, pricing.Quote{}, err
	}
	return breakdown, quote, nil
}
