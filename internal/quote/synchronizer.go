// Package quote implements the QuoteSynchronizer: each tick it computes the
// desired three-level passive buy ladder and converges the live order set
// toward it with minimal churn. Grounded on
// _examples/original_source/arbitrage_bot.py's _calc_order_qty/_select_level
// (level sizing) and _need_reprice/_cancel_and_replace_spot_order
// (reconciliation), generalized from the Python original's single-order
// model to the spec's three-level ladder.
package quote

import (
	"context"
	"sort"
	"sync"
	"time"

	"arbmaker/internal/core"
	"arbmaker/internal/hedge"
	"arbmaker/pkg/tradingutils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var bps = decimal.NewFromInt(10000)

// Synchronizer owns the open buy ladder: selecting its desired shape each
// tick and reconciling live orders toward it.
type Synchronizer struct {
	venue   core.VenueGateway
	state   *core.EngineState
	hedger  *hedge.Hedger
	journal core.JournalWriter
	logger  core.ILogger
	cfg     core.StrategyConfig
	fee     core.FeeConfig

	// liveMu guards the two fields spec.md §3 calls out as mutable at
	// runtime through a guarded setter (operator "budget"/"spread"
	// commands): everything else in cfg/fee is fixed for the run.
	liveMu          sync.Mutex
	totalBudgetBase decimal.Decimal
	minSpreadBps    decimal.Decimal
}

// New builds a Synchronizer for the open ladder on one symbol pair. journal
// may be nil (as in unit tests that don't assert on trade history); a live
// deployment wires its internal/journal.Store so cancelAndCapture's
// reprice-driven partial fills are recorded the same way
// FillReconciler.Tick's regular fills are.
func New(venue core.VenueGateway, state *core.EngineState, hedger *hedge.Hedger, journal core.JournalWriter, logger core.ILogger, cfg core.StrategyConfig, fee core.FeeConfig) *Synchronizer {
	return &Synchronizer{
		venue: venue, state: state, hedger: hedger, journal: journal, logger: logger, cfg: cfg, fee: fee,
		totalBudgetBase: cfg.TotalBudgetBase,
		minSpreadBps:    fee.MinSpreadBps,
	}
}

// SetTotalBudgetBase updates the live budget ceiling, the operator "budget"
// command's target, per spec.md §6's guarded-setter note.
func (s *Synchronizer) SetTotalBudgetBase(v decimal.Decimal) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	s.totalBudgetBase = v
}

// SetMinSpreadBps updates the live profitability gate, the operator "spread"
// command's target.
func (s *Synchronizer) SetMinSpreadBps(v decimal.Decimal) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	s.minSpreadBps = v
}

func (s *Synchronizer) liveBudgetAndSpread() (decimal.Decimal, decimal.Decimal) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return s.totalBudgetBase, s.minSpreadBps
}

// Select computes the desired ladder per spec.md §4.1. It returns nil
// (an all-or-nothing abort) the moment any of the three levels fails its
// spread/notional/min-qty gate — partial ladders are never returned.
func (s *Synchronizer) Select(perpBid decimal.Decimal, spotBids []core.BookLevel) []core.DesiredQuote {
	totalBudgetBase, minSpreadBps := s.liveBudgetAndSpread()
	ledger := s.state.Ledger()
	remaining := totalBudgetBase.Sub(ledger.TotalFilledBase)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	cycle := totalBudgetBase.Mul(s.cfg.CycleBudgetFraction)
	if cycle.GreaterThan(remaining) {
		cycle = remaining
	}

	desired := make([]core.DesiredQuote, 0, 3)

	for i := 1; i <= 3; i++ {
		idx := i - 1
		if i > len(spotBids) || !spotBids[idx].Price.IsPositive() {
			return nil
		}
		level := spotBids[idx]

		spread := perpBid.Sub(level.Price).Div(level.Price)
		minSpread := minSpreadBps.Div(bps)
		if spread.LessThan(minSpread) {
			return nil
		}

		qty := cycle.Mul(core.LevelWeights[i])
		maxQty := s.cfg.DepthConsumptionRatio.Mul(level.Size)
		if qty.GreaterThan(maxQty) {
			qty = maxQty
		}
		qty = tradingutils.FloorToStep(qty, s.cfg.LotSize)

		if qty.Mul(level.Price).LessThan(s.cfg.MinNotionalQuote) {
			minLots := s.cfg.MinNotionalQuote.Div(level.Price).Div(s.cfg.LotSize).Ceil()
			qty = minLots.Mul(s.cfg.LotSize)
		}

		if qty.LessThan(s.cfg.MinOrderQty) {
			return nil
		}

		desired = append(desired, core.DesiredQuote{LevelIndex: i, Price: level.Price, Qty: qty})
	}

	return desired
}

// Sync reconciles the live ladder toward desired, per spec.md §4.1's
// to_check/to_add algorithm. It returns false when a hedge failure or
// residual naked exposure forces a full-ladder cancel.
func (s *Synchronizer) Sync(ctx context.Context, desired []core.DesiredQuote) bool {
	desiredByLevel := make(map[int]core.DesiredQuote, len(desired))
	for _, d := range desired {
		desiredByLevel[d.LevelIndex] = d
	}

	toAdd := make(map[int]core.DesiredQuote)
	for lv, d := range desiredByLevel {
		if _, live := s.state.OrderAtLevel(lv); !live {
			toAdd[lv] = d
		}
	}

	var unhedgedTotal decimal.Decimal
	for lv, d := range desiredByLevel {
		orderID, live := s.state.OrderAtLevel(lv)
		if !live {
			continue
		}
		order, ok := s.state.Order(orderID)
		if !ok {
			continue
		}
		if s.needsReprice(order.Price, order.Qty, d.Price, d.Qty) {
			unhedged := s.cancelAndCapture(ctx, orderID)
			unhedgedTotal = unhedgedTotal.Add(unhedged)
			toAdd[lv] = d
		}
	}

	if unhedgedTotal.IsPositive() {
		ok, _ := s.hedger.TryHedge(ctx, s.cfg.SymbolPerp, unhedgedTotal)
		if !ok {
			s.cancelAll(ctx)
			return false
		}
	}

	if s.state.Ledger().NakedExposure.GreaterThanOrEqual(s.cfg.LotSize) {
		s.cancelAll(ctx)
		return false
	}

	levels := make([]int, 0, len(toAdd))
	for lv := range toAdd {
		levels = append(levels, lv)
	}
	sort.Ints(levels)

	for _, lv := range levels {
		d := toAdd[lv]
		orderID, err := s.venue.PlaceSpotLimitBuy(ctx, s.cfg.SymbolSpot, d.Price, d.Qty)
		if err != nil {
			s.logger.Error("failed to place ladder order", "level", lv, "error", err)
			continue
		}
		s.state.AddOrder(&core.LevelOrder{
			LevelIndex: lv,
			OrderID:    orderID,
			Price:      d.Price,
			Qty:        d.Qty,
			CreatedAt:  time.Now(),
		})
	}

	return true
}

// needsReprice implements spec.md §4.1's threshold test: a price move past
// max(reprice_threshold_bps, reprice_tick_floor ticks) or a quantity move
// past half a lot.
func (s *Synchronizer) needsReprice(oldPrice, oldQty, newPrice, newQty decimal.Decimal) bool {
	priceDelta := newPrice.Sub(oldPrice).Abs()
	bpsThreshold := s.cfg.RepriceThresholdBps.Mul(oldPrice).Div(bps)
	tickThreshold := decimal.NewFromInt(s.cfg.RepriceTickFloor).Mul(s.cfg.TickSizeSpot)
	threshold := bpsThreshold
	if tickThreshold.GreaterThan(threshold) {
		threshold = tickThreshold
	}
	if priceDelta.GreaterThanOrEqual(threshold) {
		return true
	}

	qtyDelta := newQty.Sub(oldQty).Abs()
	return qtyDelta.GreaterThanOrEqual(s.cfg.LotSize.Div(decimal.NewFromInt(2)))
}

// cancelAndCapture cancels orderID and returns any fill that landed before
// the cancel took effect but has not yet been hedged.
func (s *Synchronizer) cancelAndCapture(ctx context.Context, orderID string) decimal.Decimal {
	order, ok := s.state.Order(orderID)
	if !ok {
		return decimal.Zero
	}

	_ = s.venue.CancelOrder(ctx, s.cfg.SymbolSpot, orderID)
	finalFilled, err := s.venue.GetOrderFilledQty(ctx, s.cfg.SymbolSpot, orderID)
	if err != nil || finalFilled.IsNegative() {
		finalFilled = order.AccountedQty
	}

	// Credit any fill that landed between the last reconciler tick and this
	// cancel before RemoveOrder discards the record, mirroring
	// FillReconciler.Tick's step-3 accounting (spec.md §4.2/§4.6) — otherwise
	// this quantity gets hedged (TotalHedgedBase) without ever being
	// credited to TotalFilledBase, understating Select's budget consumption.
	newAccounted := finalFilled.Sub(order.AccountedQty)
	if newAccounted.IsPositive() {
		s.state.MutateLedger(func(l *core.Ledger) {
			l.TotalFilledBase = l.TotalFilledBase.Add(newAccounted)
			l.TotalFilledQuote = l.TotalFilledQuote.Add(newAccounted.Mul(order.Price))
		})
		s.recordJournal(ctx, orderID, order.LevelIndex, order.Price, newAccounted)
	}

	s.state.RemoveOrder(orderID)

	unhedged := finalFilled.Sub(order.HedgedQty)
	if unhedged.IsNegative() {
		return decimal.Zero
	}
	return unhedged
}

// recordJournal writes one immutable fill row for a reprice-cancel's
// newly-observed quantity, the same shape FillReconciler.recordJournal
// writes for its own fills.
func (s *Synchronizer) recordJournal(ctx context.Context, orderID string, levelIndex int, price, qty decimal.Decimal) {
	if s.journal == nil {
		return
	}
	_ = s.journal.RecordFill(ctx, core.JournalRecord{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		LevelIdx:  levelIndex,
		Side:      core.SideBuy,
		Qty:       qty,
		Price:     price,
		Venue:     "spot",
		Timestamp: time.Now(),
	})
}

// cancelAll tears down the entire live ladder, folding any residual fills
// into naked exposure via the Hedger.
func (s *Synchronizer) cancelAll(ctx context.Context) {
	s.CancelAll(ctx)
}

// CancelAll is the exported full-ladder teardown the Coordinator invokes for
// spec.md §4.5's "cancel all, hedge" steps (pause, naked-exposure recovery
// failure, spread guard, drift guard, requote_all_levels). It reports
// whether the resulting hedge attempt succeeded.
func (s *Synchronizer) CancelAll(ctx context.Context) bool {
	var unhedgedTotal decimal.Decimal
	for _, id := range s.state.AllOrderIDs() {
		unhedgedTotal = unhedgedTotal.Add(s.cancelAndCapture(ctx, id))
	}
	if unhedgedTotal.IsPositive() {
		ok, _ := s.hedger.TryHedge(ctx, s.cfg.SymbolPerp, unhedgedTotal)
		return ok
	}
	return true
}
