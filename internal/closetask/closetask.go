// Package closetask implements CloseTask: the asynchronous inventory-unwind
// state machine of spec.md §4.4. It quotes only the passive ask-2/ask-3
// levels (never the top of book, to avoid a worst-slippage taker sell),
// buying back the matching perpetual quantity as each sell fills. Grounded
// on _examples/original_source/arbitrage_bot.py's
// _hedge_remaining_before_cancel (hedge-then-cancel ordering) and
// _cancel_and_replace_spot_order (post-cancel race-fill pull), generalized
// from the Python original's single order to the spec's two-level close
// ladder with its own distinct level weights.
package closetask

import (
	"context"
	"sync"
	"time"

	"arbmaker/internal/core"
	"arbmaker/internal/hedge"
	"arbmaker/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

var halfTick = decimal.NewFromFloat(0.5)
var bps = decimal.NewFromInt(10000)

// sellLeg tracks one close-side limit sell order across a round's inner
// poll loop.
type sellLeg struct {
	level     int
	orderID   string
	price     decimal.Decimal
	qty       decimal.Decimal
	accounted decimal.Decimal
}

// CloseTask unwinds existing inventory. Only one instance may be active at
// a time per spec.md §4.4/§5 — its mutex is the engine's distinct
// "close_task_lock".
type CloseTask struct {
	mu sync.Mutex

	venue  core.VenueGateway
	state  *core.EngineState
	hedger *hedge.Hedger
	logger core.ILogger
	cfg    core.StrategyConfig
	fee    core.FeeConfig

	active           bool
	paused           bool
	symbol           string
	remainingBase    decimal.Decimal
	spotSoldBase     decimal.Decimal
	perpBoughtBase   decimal.Decimal
	pendingHedgeBase decimal.Decimal
	roundsCompleted  int
	lastError        string
	finished         bool
}

// New builds an idle CloseTask bound to one run's venue/state/hedger.
func New(venue core.VenueGateway, state *core.EngineState, hedger *hedge.Hedger, logger core.ILogger, cfg core.StrategyConfig, fee core.FeeConfig) *CloseTask {
	return &CloseTask{venue: venue, state: state, hedger: hedger, logger: logger, cfg: cfg, fee: fee}
}

// Status is the guarded operator-facing snapshot, spec.md §4.4/§5.
func (c *CloseTask) Status() core.CloseStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return core.CloseStatus{
		Active:           c.active,
		Paused:           c.paused,
		Symbol:           c.symbol,
		RemainingBase:    c.remainingBase,
		SpotSoldBase:     c.spotSoldBase,
		PerpBoughtBase:   c.perpBoughtBase,
		PendingHedgeBase: c.pendingHedgeBase,
		RoundsCompleted:  c.roundsCompleted,
		LastError:        c.lastError,
		Finished:         c.finished,
	}
}

// Pause suspends round placement (the operator "pause_close" command). Any
// in-flight round finishes its cancel-and-flush before the pause takes
// effect on the next round boundary.
func (c *CloseTask) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume lifts a pause (the operator "resume_close" command).
func (c *CloseTask) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

// Run starts unwinding inventoryBase on symbol. The caller is responsible
// for spec.md §4.4's precondition: the engine paused and all open buy
// orders already cancelled (with any unhedged fills forwarded to the
// Hedger). Run blocks until termination (remaining exhausted, rounds
// exhausted, or ctx cancellation/FinishClose).
func (c *CloseTask) Run(ctx context.Context, symbol string, inventoryBase decimal.Decimal) {
	c.mu.Lock()
	c.active = true
	c.paused = false
	c.symbol = symbol
	c.remainingBase = inventoryBase
	c.spotSoldBase = decimal.Zero
	c.perpBoughtBase = decimal.Zero
	c.pendingHedgeBase = decimal.Zero
	c.roundsCompleted = 0
	c.finished = false
	c.mu.Unlock()

	for round := 0; round < c.cfg.MaxCloseRounds; round++ {
		c.mu.Lock()
		remaining := c.remainingBase
		active := c.active
		c.mu.Unlock()

		if !active || remaining.LessThanOrEqual(c.cfg.MinOrderQty) {
			break
		}
		select {
		case <-ctx.Done():
			c.finish(ctx)
			return
		default:
		}

		c.mu.Lock()
		paused := c.paused
		c.mu.Unlock()
		if paused {
			c.sleepPoll(ctx)
			continue
		}

		c.runRound(ctx)

		c.mu.Lock()
		c.roundsCompleted++
		c.mu.Unlock()
	}

	c.finish(ctx)
}

// runRound executes one close round: read depth, quote ask-2/ask-3, poll
// for fills up to close_round_max_wait, and cancel+flush at the end.
func (c *CloseTask) runRound(ctx context.Context) {
	asks, err := c.venue.GetSpotAsks(ctx, c.cfg.SymbolSpot, 5)
	if err != nil || len(asks) < 5 {
		c.sleepPoll(ctx)
		return
	}
	perpAsk, err := c.venue.GetFuturesBestAsk(ctx, c.cfg.SymbolPerp)
	if err != nil {
		c.sleepPoll(ctx)
		return
	}

	ask2, ask3 := asks[1], asks[2]
	minSpread := c.fee.MinSpreadBps.Add(c.cfg.CloseSpreadMarginBps).Div(bps)
	if !clearsSpread(ask2.Price, perpAsk, minSpread) || !clearsSpread(ask3.Price, perpAsk, minSpread) {
		c.sleepPoll(ctx)
		return
	}

	c.mu.Lock()
	remaining := c.remainingBase
	c.mu.Unlock()

	qty2 := c.sizeLeg(remaining, core.CloseLevelWeights[2], ask2.Price)
	qty3 := c.sizeLeg(remaining, core.CloseLevelWeights[3], ask3.Price)

	legs := make([]*sellLeg, 0, 2)
	if qty2.GreaterThanOrEqual(c.cfg.MinOrderQty) {
		if id, err := c.venue.PlaceSpotLimitSell(ctx, c.cfg.SymbolSpot, ask2.Price, qty2); err == nil {
			legs = append(legs, &sellLeg{level: 2, orderID: id, price: ask2.Price, qty: qty2})
		}
	}
	if qty3.GreaterThanOrEqual(c.cfg.MinOrderQty) {
		if id, err := c.venue.PlaceSpotLimitSell(ctx, c.cfg.SymbolSpot, ask3.Price, qty3); err == nil {
			legs = append(legs, &sellLeg{level: 3, orderID: id, price: ask3.Price, qty: qty3})
		}
	}

	if len(legs) == 0 {
		c.sleepPoll(ctx)
		return
	}

	deadline := time.Now().Add(c.cfg.CloseRoundMaxWait)
	for time.Now().Before(deadline) {
		if c.pollLegs(ctx, legs) {
			break // drift detected, break the inner loop and re-quote next round
		}
		if c.allFilled(legs) {
			break
		}
		c.sleepPoll(ctx)
	}

	c.cancelLegsAndFlush(ctx, legs)
}

// sizeLeg applies the §4.1-identical lot-floor/notional-raise to one close
// leg's share of remaining inventory.
func (c *CloseTask) sizeLeg(remaining, weight, price decimal.Decimal) decimal.Decimal {
	qty := tradingutils.FloorToStep(remaining.Mul(weight), c.cfg.LotSize)
	if qty.Mul(price).LessThan(c.cfg.MinNotionalQuote) {
		minLots := c.cfg.MinNotionalQuote.Div(price).Div(c.cfg.LotSize).Ceil()
		qty = minLots.Mul(c.cfg.LotSize)
	}
	return qty
}

func clearsSpread(price, perpAsk, minSpread decimal.Decimal) bool {
	if !price.IsPositive() {
		return false
	}
	spread := price.Sub(perpAsk).Div(price)
	return spread.GreaterThanOrEqual(minSpread)
}

// pollLegs pulls each leg's cumulative fill, hedges the incremental delta
// with a perpetual market buy, and reports whether drift was detected
// (quote now beyond ask_5 + half a tick).
func (c *CloseTask) pollLegs(ctx context.Context, legs []*sellLeg) bool {
	asks, err := c.venue.GetSpotAsks(ctx, c.cfg.SymbolSpot, 5)
	drifted := false
	if err == nil && len(asks) >= 5 {
		driftBound := asks[4].Price.Add(halfTick.Mul(c.cfg.TickSizeSpot))
		for _, leg := range legs {
			if leg.price.GreaterThan(driftBound) {
				drifted = true
			}
		}
	}

	for _, leg := range legs {
		filled, err := c.venue.GetOrderFilledQty(ctx, c.cfg.SymbolSpot, leg.orderID)
		if err != nil || filled.IsNegative() {
			continue
		}
		incremental := filled.Sub(leg.accounted)
		if incremental.IsPositive() {
			leg.accounted = filled
			c.settleFill(ctx, incremental)
		}
	}

	return drifted
}

func (c *CloseTask) allFilled(legs []*sellLeg) bool {
	for _, leg := range legs {
		if leg.accounted.LessThan(leg.qty) {
			return false
		}
	}
	return true
}

// settleFill records a confirmed spot sell fill and immediately buys back
// the matching perpetual quantity, floored to lot; any residual is folded
// into close_pending_hedge.
func (c *CloseTask) settleFill(ctx context.Context, qty decimal.Decimal) {
	c.mu.Lock()
	c.spotSoldBase = c.spotSoldBase.Add(qty)
	c.remainingBase = c.remainingBase.Sub(qty)
	if c.remainingBase.IsNegative() {
		c.remainingBase = decimal.Zero
	}
	c.mu.Unlock()

	hedgeQty := tradingutils.FloorToStep(qty, c.cfg.LotSize)
	residual := qty.Sub(hedgeQty)

	if hedgeQty.IsPositive() {
		orderID, _, _, err := c.venue.PlaceFuturesMarketBuy(ctx, c.cfg.SymbolPerp, hedgeQty)
		if err != nil {
			c.logger.Error("close-task perp buyback failed, folding into pending hedge", "qty", hedgeQty.String(), "error", err)
			c.mu.Lock()
			c.pendingHedgeBase = c.pendingHedgeBase.Add(hedgeQty)
			c.mu.Unlock()
		} else {
			c.mu.Lock()
			c.perpBoughtBase = c.perpBoughtBase.Add(hedgeQty)
			c.mu.Unlock()
			c.logger.Info("close-task perp buyback placed", "qty", hedgeQty.String(), "order_id", orderID)
		}
	}

	if residual.IsPositive() {
		c.mu.Lock()
		c.pendingHedgeBase = c.pendingHedgeBase.Add(residual)
		c.mu.Unlock()
	}
}

// cancelLegsAndFlush cancels any unfilled leg, does one final pull to catch
// a race fill, and flushes close_pending_hedge through one more perpetual
// buy, per spec.md §4.4 step 6.
func (c *CloseTask) cancelLegsAndFlush(ctx context.Context, legs []*sellLeg) {
	for _, leg := range legs {
		_ = c.venue.CancelOrder(ctx, c.cfg.SymbolSpot, leg.orderID)
		filled, err := c.venue.GetOrderFilledQty(ctx, c.cfg.SymbolSpot, leg.orderID)
		if err != nil || filled.IsNegative() {
			continue
		}
		incremental := filled.Sub(leg.accounted)
		if incremental.IsPositive() {
			leg.accounted = filled
			c.settleFill(ctx, incremental)
		}
	}

	c.mu.Lock()
	pending := c.pendingHedgeBase
	c.mu.Unlock()
	if pending.IsZero() {
		return
	}

	hedgeQty := tradingutils.FloorToStep(pending, c.cfg.LotSize)
	if hedgeQty.IsZero() {
		return
	}
	orderID, _, _, err := c.venue.PlaceFuturesMarketBuy(ctx, c.cfg.SymbolPerp, hedgeQty)
	if err != nil {
		c.logger.Error("close-task flush buyback failed", "qty", hedgeQty.String(), "error", err)
		return
	}
	c.mu.Lock()
	c.perpBoughtBase = c.perpBoughtBase.Add(hedgeQty)
	c.pendingHedgeBase = c.pendingHedgeBase.Sub(hedgeQty)
	c.mu.Unlock()
	c.logger.Info("close-task pending hedge flushed", "qty", hedgeQty.String(), "order_id", orderID)
}

// finish terminates the task: any residual close_pending_hedge transfers to
// naked_exposure so the main loop's recovery path handles it, per spec.md
// §4.4's termination clause.
func (c *CloseTask) finish(ctx context.Context) {
	c.mu.Lock()
	residual := c.pendingHedgeBase
	c.pendingHedgeBase = decimal.Zero
	c.active = false
	c.finished = true
	c.mu.Unlock()

	if residual.IsPositive() {
		c.state.MutateLedger(func(l *core.Ledger) {
			l.NakedExposure = l.NakedExposure.Add(residual)
		})
	}
}

// FinishClose is the operator-initiated finish_close command: cancel
// nothing further (rounds already stop placing once inactive), fold
// whatever remains, and publish a summary via Status().
func (c *CloseTask) FinishClose(ctx context.Context) core.CloseStatus {
	c.finish(ctx)
	return c.Status()
}

func (c *CloseTask) sleepPoll(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.PollInterval):
	}
}
