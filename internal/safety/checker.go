// Package safety provides the startup pre-flight checks run once by
// cmd/arbmaker before the Coordinator begins ticking. Adapted from the
// teacher's internal/safety/checker.go: the balance/leverage/profitability
// checks there are re-scoped to the narrower core.VenueGateway surface and
// spec.md §3's StrategyConfig/FeeConfig fields, since this engine no longer
// carries the teacher's grid-bot account/leverage model.
package safety

import (
	"context"
	"fmt"

	"arbmaker/internal/core"

	"github.com/shopspring/decimal"
)

// Checker validates configuration and venue reachability before the
// Coordinator is allowed to start, per spec.md §7's "Config error at
// startup: fatal, exit non-zero".
type Checker struct {
	logger core.ILogger
}

func NewChecker(logger core.ILogger) *Checker {
	return &Checker{logger: logger}
}

// CheckConfig validates StrategyConfig/FeeConfig sanity independent of any
// venue call.
func (c *Checker) CheckConfig(cfg core.StrategyConfig, fee core.FeeConfig) error {
	if cfg.SymbolSpot == "" || cfg.SymbolPerp == "" {
		return fmt.Errorf("symbol_spot and symbol_perp must both be set")
	}
	if cfg.LotSize.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("lot_size must be positive, got %s", cfg.LotSize)
	}
	if cfg.TotalBudgetBase.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("total_budget_base must be positive, got %s", cfg.TotalBudgetBase)
	}
	if cfg.CycleBudgetFraction.LessThanOrEqual(decimal.Zero) || cfg.CycleBudgetFraction.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("cycle_budget_fraction must be in (0,1], got %s", cfg.CycleBudgetFraction)
	}
	if cfg.DepthConsumptionRatio.LessThanOrEqual(decimal.Zero) || cfg.DepthConsumptionRatio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("depth_consumption_ratio must be in (0,1], got %s", cfg.DepthConsumptionRatio)
	}
	if cfg.MinOrderQty.LessThan(decimal.Zero) {
		return fmt.Errorf("min_order_qty cannot be negative")
	}
	if cfg.MinNotionalQuote.LessThan(decimal.Zero) {
		return fmt.Errorf("min_notional_quote cannot be negative")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if cfg.MaxRetry <= 0 {
		return fmt.Errorf("max_retry must be positive")
	}
	weightSum := decimal.Zero
	for _, w := range core.LevelWeights {
		weightSum = weightSum.Add(w)
	}
	if !weightSum.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("level weights must sum to 1.0, got %s", weightSum)
	}
	_ = fee // fee.MinSpreadBps may legitimately be negative (spec.md §3); no range check.
	return nil
}

// CheckVenueConnectivity performs basic read-only reachability checks
// against the venue before trading starts.
func (c *Checker) CheckVenueConnectivity(ctx context.Context, venue core.VenueGateway, cfg core.StrategyConfig) error {
	c.logger.Info("checking venue connectivity", "symbol_spot", cfg.SymbolSpot, "symbol_perp", cfg.SymbolPerp)

	bid, err := venue.GetFuturesBestBid(ctx, cfg.SymbolPerp)
	if err != nil {
		return fmt.Errorf("futures best bid unreachable: %w", err)
	}
	if bid.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("invalid futures bid received: %s", bid)
	}

	depth, err := venue.GetSpotDepth(ctx, cfg.SymbolSpot, 5)
	if err != nil {
		return fmt.Errorf("spot depth unreachable: %w", err)
	}
	if len(depth) == 0 {
		return fmt.Errorf("spot depth returned no levels for %s", cfg.SymbolSpot)
	}

	pos, err := venue.GetFuturesPosition(ctx, cfg.SymbolPerp)
	if err != nil {
		return fmt.Errorf("futures position unreachable: %w", err)
	}

	c.logger.Info("venue connectivity check passed",
		"futures_bid", bid, "spot_levels", len(depth), "futures_position", pos)
	return nil
}
