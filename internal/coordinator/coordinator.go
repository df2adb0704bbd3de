// Package coordinator implements the Coordinator main loop of spec.md §4.5:
// a single cooperative tick sequence that reconciles fills, recovers naked
// exposure, reads market data, enforces the spread/drift guards, and
// reconciles the open ladder toward its desired shape. Grounded on
// _examples/original_source/arbitrage_bot.py's run() method for tick
// ordering and exception policy, and on internal/bootstrap/app.go's Runner
// interface for lifecycle wiring into cmd/arbmaker.
package coordinator

import (
	"context"
	"sync"
	"time"

	"arbmaker/internal/core"
	"arbmaker/internal/hedge"
	"arbmaker/internal/quote"
	"arbmaker/internal/reconcile"
	"arbmaker/internal/risk"

	"github.com/shopspring/decimal"
)

var bps = decimal.NewFromInt(10000)

// Coordinator drives the engine's main tick, per spec.md §4.5.
type Coordinator struct {
	state      *core.EngineState
	marketData core.MarketDataCache
	sync       *quote.Synchronizer
	reconciler *reconcile.FillReconciler
	hedger     *hedge.Hedger
	logger     core.ILogger
	cfg        core.StrategyConfig

	staleTTL time.Duration

	// feeMu guards minSpreadBps, one of the two fields spec.md §3 names as
	// mutable at runtime through a guarded setter (operator "spread" command).
	feeMu        sync.Mutex
	minSpreadBps decimal.Decimal

	// circuitBreaker is optional (nil unless SetCircuitBreaker is called by
	// cmd/arbmaker): when present, tracks realized PnL swings tick over
	// tick and halts new quoting once tripped, per internal/risk's own doc
	// comment ("the Coordinator may consult before recovering naked
	// exposure").
	circuitBreaker *risk.CircuitBreaker
	lastPnL        decimal.Decimal
}

// SetCircuitBreaker wires an ambient risk-escalation circuit breaker into
// the tick loop. Safe to call once before Run; nil is a valid no-op state.
func (c *Coordinator) SetCircuitBreaker(cb *risk.CircuitBreaker) {
	c.circuitBreaker = cb
}

// New builds a Coordinator wiring together the already-constructed
// components for one symbol pair.
func New(
	state *core.EngineState,
	marketData core.MarketDataCache,
	synchronizer *quote.Synchronizer,
	reconciler *reconcile.FillReconciler,
	hedger *hedge.Hedger,
	logger core.ILogger,
	cfg core.StrategyConfig,
	fee core.FeeConfig,
) *Coordinator {
	return &Coordinator{
		state:        state,
		marketData:   marketData,
		sync:         synchronizer,
		reconciler:   reconciler,
		hedger:       hedger,
		logger:       logger,
		cfg:          cfg,
		staleTTL:     cfg.PollInterval * 5,
		minSpreadBps: fee.MinSpreadBps,
	}
}

// SetMinSpreadBps updates the spread-guard threshold. Safe to call
// concurrently with Run (e.g. from the operator control channel's "spread"
// command); the next tick observes the new value.
func (c *Coordinator) SetMinSpreadBps(bpsValue decimal.Decimal) {
	c.feeMu.Lock()
	defer c.feeMu.Unlock()
	c.minSpreadBps = bpsValue
}

// Run implements bootstrap.Runner: it ticks until ctx is cancelled or the
// operator issues "stop" (state.Running() goes false). Any uncaught error
// from a tick logs and sleeps 5x poll_interval, per spec.md §4.5's
// exception policy, rather than terminating the loop. Exit behavior per
// spec.md §6: cancel all, log any residual naked exposure as CRITICAL.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator starting", "symbol_spot", c.cfg.SymbolSpot, "symbol_perp", c.cfg.SymbolPerp)
	for {
		select {
		case <-ctx.Done():
			c.shutdown(ctx)
			return nil
		default:
		}
		if !c.state.Running() {
			c.shutdown(ctx)
			return nil
		}

		c.safeTick(ctx)
	}
}

// shutdown implements spec.md §6's exit behavior: cancel every live order
// (hedging any discovered fills) and surface residual naked exposure.
func (c *Coordinator) shutdown(ctx context.Context) {
	c.sync.CancelAll(ctx)
	if exposure := c.state.Ledger().NakedExposure; exposure.IsPositive() {
		c.logger.Error("CRITICAL: residual naked exposure at shutdown", "naked_exposure", exposure.String())
	}
}

// safeTick runs one tick, converting a panic into the exception-policy sleep
// instead of crashing the loop. Always returns true; Run checks ctx itself.
func (c *Coordinator) safeTick(ctx context.Context) (keepRunning bool) {
	keepRunning = true
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("coordinator tick panicked", "recovered", r)
			c.sleep(ctx, c.cfg.PollInterval*5)
		}
	}()
	c.tick(ctx)
	return
}

// tick implements spec.md §4.5's exact 11-step sequence.
func (c *Coordinator) tick(ctx context.Context) {
	// Step 1: paused.
	if c.state.Paused() {
		c.sync.CancelAll(ctx)
		c.sleep(ctx, c.cfg.PollInterval)
		return
	}

	// Step 2: reconcile fills before acting on stale state.
	c.reconciler.Tick(ctx, c.cfg.SymbolSpot)

	if c.circuitBreakerTripped() {
		c.sync.CancelAll(ctx)
		c.sleep(ctx, c.cfg.PollInterval)
		return
	}

	// Step 3: naked-exposure recovery takes priority over opening new risk.
	if c.state.Ledger().NakedExposure.IsPositive() {
		if !c.hedger.TryRecover(ctx, c.cfg.SymbolPerp) {
			c.sync.CancelAll(ctx)
			c.sleep(ctx, c.cfg.PollInterval)
			return
		}
	}

	// Step 4: read market data.
	perpBid, okBid := c.marketData.PerpBid(c.cfg.SymbolPerp)
	spotBids, okBids := c.marketData.SpotBids(c.cfg.SymbolSpot, 5)
	if !okBid || !okBids || len(spotBids) == 0 {
		c.sleep(ctx, c.cfg.PollInterval)
		return
	}
	if c.marketData.IsStale(c.cfg.SymbolSpot, c.staleTTL) || c.marketData.IsStale(c.cfg.SymbolPerp, c.staleTTL) {
		c.sleep(ctx, c.cfg.PollInterval)
		return
	}

	// Step 5: spread guard — basis collapsed, exit even competitive quotes.
	if c.spreadGuardTriggered(perpBid) {
		c.sync.CancelAll(ctx)
		c.sleep(ctx, c.cfg.PollInterval)
		return
	}

	// Step 6: drift guard — prices walked up past our resting quotes.
	if c.driftGuardTriggered(spotBids) {
		c.sync.CancelAll(ctx)
		// fall through to re-quote below, per spec.md §4.5 step 6.
	}

	// Step 7: one-shot requote-all flag.
	if c.state.TakeRequoteAll() {
		c.sync.CancelAll(ctx)
	}

	// Step 8: compute desired ladder.
	desired := c.sync.Select(perpBid, spotBids)
	if desired == nil {
		// Empty result: keep any existing orders resting (spec.md §4.1
		// rationale — do not tear down a live ladder just because this
		// tick's gates failed transiently).
		c.sleep(ctx, c.cfg.PollInterval)
		return
	}

	// Step 9: reconcile live orders toward desired.
	if !c.sync.Sync(ctx, desired) {
		c.sleep(ctx, c.cfg.PollInterval)
		return
	}

	// Step 10: catch fills that landed between place and now.
	c.reconciler.Tick(ctx, c.cfg.SymbolSpot)

	// Step 11.
	c.sleep(ctx, c.cfg.PollInterval)
}

// circuitBreakerTripped feeds the realized-PnL swing since the last tick
// (quote-asset proxy: hedged proceeds minus filled cost) into the optional
// circuit breaker and reports whether it is now open.
func (c *Coordinator) circuitBreakerTripped() bool {
	if c.circuitBreaker == nil {
		return false
	}
	ledger := c.state.Ledger()
	pnl := ledger.TotalHedgedQuote.Sub(ledger.TotalFilledQuote)
	if delta := pnl.Sub(c.lastPnL); !delta.IsZero() {
		c.circuitBreaker.RecordTrade(delta)
		c.lastPnL = pnl
	}
	if c.circuitBreaker.IsTripped() {
		c.logger.Error("circuit breaker open, halting new quotes", "total_pnl", pnl.String())
		return true
	}
	return false
}

// spreadGuardTriggered reports whether any live order's basis has collapsed
// below min_spread, per spec.md §4.5 step 5.
func (c *Coordinator) spreadGuardTriggered(perpBid decimal.Decimal) bool {
	snapshot := c.state.Snapshot()
	minSpread := c.minSpreadFraction()
	for _, order := range snapshot.ActiveOrders {
		if !order.Price.IsPositive() {
			continue
		}
		spread := perpBid.Sub(order.Price).Div(order.Price)
		if spread.LessThan(minSpread) {
			return true
		}
	}
	return false
}

// driftGuardTriggered reports whether any live order now rests below the
// visible top-5 spot bid (the ladder has walked above it), per spec.md §4.5
// step 6 ("px < spot_bids[5].price").
func (c *Coordinator) driftGuardTriggered(spotBids []core.BookLevel) bool {
	if len(spotBids) < 5 {
		return false
	}
	floor := spotBids[4].Price
	snapshot := c.state.Snapshot()
	for _, order := range snapshot.ActiveOrders {
		if order.Price.LessThan(floor) {
			return true
		}
	}
	return false
}

func (c *Coordinator) minSpreadFraction() decimal.Decimal {
	c.feeMu.Lock()
	defer c.feeMu.Unlock()
	return c.minSpreadBps.Div(bps)
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
