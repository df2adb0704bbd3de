// Package hedge implements the Hedger: given a base quantity that needs
// covering, it executes a perpetual market sell (or, during recovery, the
// same) and folds anything it cannot place into naked_exposure rather than
// ever blocking the caller. Grounded on
// _examples/original_source/arbitrage_bot.py's _try_hedge/
// _try_recover_naked_exposure, reworked onto pkg/retry's fixed-backoff
// policy instead of a raw time.Sleep loop, in the teacher's manner of
// wrapping venue calls with pkg/retry.
package hedge

import (
	"context"
	"sync"
	"time"

	"arbmaker/internal/core"
	apperrors "arbmaker/pkg/errors"
	"arbmaker/pkg/retry"
	"arbmaker/pkg/telemetry"
	"arbmaker/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// hedgeBackoff is spec.md §4.3's fixed 150ms retry delay.
const hedgeBackoff = 150 * time.Millisecond

// Hedger covers filled spot quantity with a perpetual short, guarded by its
// own lock (spec.md §5's "hedge_lock", distinct from EngineState's lock and
// CloseTask's lock).
type Hedger struct {
	mu sync.Mutex

	venue    core.VenueGateway
	state    *core.EngineState
	notifier core.Notifier
	logger   core.ILogger
	cfg      core.StrategyConfig
}

// New builds a Hedger bound to a running EngineState — the Coordinator owns
// exactly one per run.
func New(venue core.VenueGateway, state *core.EngineState, notifier core.Notifier, logger core.ILogger, cfg core.StrategyConfig) *Hedger {
	return &Hedger{venue: venue, state: state, notifier: notifier, logger: logger, cfg: cfg}
}

// TryHedge implements spec.md §4.3's try_hedge(qty) → (ok, hedged_base)
// contract: qty is folded against any outstanding naked_exposure, floored to
// lot, and the residual is always carried forward — success or failure.
func (h *Hedger) TryHedge(ctx context.Context, symbol string, qty decimal.Decimal) (bool, decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if qty.Sign() <= 0 {
		return true, decimal.Zero
	}

	naked := h.state.Ledger().NakedExposure
	totalToHedge := qty.Add(naked)

	hedgeQty := tradingutils.FloorToStep(totalToHedge, h.cfg.LotSize)
	residual := totalToHedge.Sub(hedgeQty)

	if hedgeQty.LessThan(h.cfg.LotSize) {
		h.setNakedExposure(totalToHedge)
		return true, decimal.Zero
	}

	var hedgeID string
	var avgPrice decimal.Decimal
	var hasAvgPrice bool

	err := retry.Do(ctx, retry.FixedPolicy(h.cfg.MaxRetry, hedgeBackoff), apperrors.IsTransient, func() error {
		var placeErr error
		hedgeID, avgPrice, hasAvgPrice, placeErr = h.venue.PlaceFuturesMarketSell(ctx, symbol, hedgeQty)
		return placeErr
	})

	if err != nil {
		if apperrors.IsNotionalTooSmall(err) {
			h.logger.Warn("hedge notional too small, accumulating", "qty", hedgeQty.String())
			h.setNakedExposure(totalToHedge)
			return false, decimal.Zero
		}
		h.logger.Error("hedge failed after retries, carrying as naked exposure", "qty", hedgeQty.String(), "error", err)
		h.setNakedExposure(totalToHedge)
		if h.notifier != nil {
			h.notifier.Notify(ctx, "critical", "hedge failed", "qty="+hedgeQty.String())
		}
		return false, decimal.Zero
	}

	h.state.MutateLedger(func(l *core.Ledger) {
		l.TotalHedgedBase = l.TotalHedgedBase.Add(hedgeQty)
		if hasAvgPrice {
			l.TotalHedgedQuote = l.TotalHedgedQuote.Add(hedgeQty.Mul(avgPrice))
			l.TotalHedgedBasePriced = l.TotalHedgedBasePriced.Add(hedgeQty)
		}
		l.NakedExposure = residual
	})

	if counter := telemetry.GetGlobalMetrics().HedgeAttemptsTotal; counter != nil {
		counter.Add(ctx, 1)
	}
	h.logger.Info("hedge placed", "qty", hedgeQty.String(), "order_id", hedgeID, "price", avgPrice.String())
	if h.notifier != nil {
		h.notifier.Notify(ctx, "info", "hedge placed", "qty="+hedgeQty.String())
	}

	return true, hedgeQty
}

// TryRecover implements spec.md §4.3's naked-exposure recovery path: floor
// to lot, retry, and zero out unrecoverable dust rather than wedging the
// engine on a sub-lot residual the venue will never let through.
func (h *Hedger) TryRecover(ctx context.Context, symbol string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	naked := h.state.Ledger().NakedExposure
	if naked.Sign() <= 0 {
		return true
	}

	hedgeQty := tradingutils.FloorToStep(naked, h.cfg.LotSize)
	if hedgeQty.LessThan(h.cfg.LotSize) {
		h.logger.Warn("naked exposure below lot size, zeroing as dust", "qty", naked.String())
		h.setNakedExposure(decimal.Zero)
		return true
	}

	var avgPrice decimal.Decimal
	var hasAvgPrice bool
	err := retry.Do(ctx, retry.FixedPolicy(h.cfg.MaxRetry, hedgeBackoff), apperrors.IsTransient, func() error {
		var placeErr error
		_, avgPrice, hasAvgPrice, placeErr = h.venue.PlaceFuturesMarketSell(ctx, symbol, hedgeQty)
		return placeErr
	})

	if err != nil {
		if apperrors.IsNotionalTooSmall(err) {
			h.logger.Warn("naked exposure recovery notional too small, zeroing as dust", "qty", hedgeQty.String())
			h.setNakedExposure(decimal.Zero)
			return true
		}
		h.logger.Error("naked exposure recovery failed, will retry next tick", "qty", hedgeQty.String(), "error", err)
		return false
	}

	h.state.MutateLedger(func(l *core.Ledger) {
		l.TotalHedgedBase = l.TotalHedgedBase.Add(hedgeQty)
		if hasAvgPrice {
			l.TotalHedgedQuote = l.TotalHedgedQuote.Add(hedgeQty.Mul(avgPrice))
			l.TotalHedgedBasePriced = l.TotalHedgedBasePriced.Add(hedgeQty)
		}
		l.NakedExposure = naked.Sub(hedgeQty)
	})
	return true
}

func (h *Hedger) setNakedExposure(v decimal.Decimal) {
	h.state.MutateLedger(func(l *core.Ledger) {
		l.NakedExposure = v
	})
	telemetry.GetGlobalMetrics().SetNakedExposure(h.cfg.SymbolPerp, mustFloat64(v))
}

func mustFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
