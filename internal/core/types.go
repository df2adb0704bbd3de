// Package core defines the domain model shared by every component of the
// arbitrage engine: the data model of spec.md §3 plus the external-collaborator
// interfaces (VenueGateway, FillEventStream, MarketDataCache, Notifier, ILogger)
// that the core components consume but do not implement themselves.
//
// Every value here is a plain Go type backed by github.com/shopspring/decimal.
// There is no generated-protobuf layer: the teacher this package is adapted
// from carried its domain model in internal/pb (absent from this repo's
// retrieval pack), so these are hand-written equivalents with the wrapper
// indirection removed.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide distinguishes buy/sell intent on a venue order.
type OrderSide int

const (
	SideBuy OrderSide = iota
	SideSell
)

func (s OrderSide) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// FillStatus mirrors the status enum FillEventStream reports (spec.md §6).
type FillStatus int

const (
	FillStatusNew FillStatus = iota
	FillStatusPartiallyFilled
	FillStatusFilled
	FillStatusCanceled
)

// LevelWeights is the fixed open-ladder weighting, spec.md §3.
var LevelWeights = map[int]decimal.Decimal{
	1: decimal.NewFromFloat(0.20),
	2: decimal.NewFromFloat(0.30),
	3: decimal.NewFromFloat(0.50),
}

// CloseLevelWeights is the close-side two-level weighting, spec.md §4.4.
// Distinct from LevelWeights per the "two-level vs three-level" open
// question decision recorded in SPEC_FULL.md — the open ladder keeps its
// own three-level weights regardless of how the close side splits.
var CloseLevelWeights = map[int]decimal.Decimal{
	2: decimal.NewFromFloat(0.3),
	3: decimal.NewFromFloat(0.7),
}

// StrategyConfig holds the immutable-per-run sizing parameters of spec.md §3.
// TotalBudgetBase and MinSpreadBps (in FeeConfig) are the two fields the spec
// calls out as mutable through a guarded setter; see internal/config.Config.
type StrategyConfig struct {
	SymbolSpot string
	SymbolPerp string

	TickSizeSpot decimal.Decimal
	LotSize      decimal.Decimal

	TotalBudgetBase     decimal.Decimal
	CycleBudgetFraction decimal.Decimal

	DepthConsumptionRatio decimal.Decimal

	MinOrderQty      decimal.Decimal
	MinNotionalQuote decimal.Decimal

	RepriceThresholdBps decimal.Decimal
	RepriceTickFloor    int64

	PollInterval time.Duration
	MaxRetry     int

	RestReconcileInterval      time.Duration
	RestReconcileIntervalCross time.Duration // tightened interval for cross-venue mode

	MaxCloseRounds       int
	CloseRoundMaxWait    time.Duration
	CloseSpreadMarginBps decimal.Decimal // open-question decision: defaults to 0 (parity with open side)
}

// FeeConfig holds the basis-point profitability gate of spec.md §3.
type FeeConfig struct {
	MinSpreadBps decimal.Decimal
}

// BookLevel is one (price, size) pair of a depth snapshot.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// LevelOrder is one live passive order, spec.md §3.
type LevelOrder struct {
	LevelIndex int
	OrderID    string
	Price      decimal.Decimal
	Qty        decimal.Decimal

	AccountedQty decimal.Decimal
	HedgedQty    decimal.Decimal

	CreatedAt time.Time
}

// Remaining returns Qty - AccountedQty, the quantity still unfilled.
func (o *LevelOrder) Remaining() decimal.Decimal {
	return o.Qty.Sub(o.AccountedQty)
}

// Unhedged returns AccountedQty - HedgedQty, the filled-but-not-yet-hedged quantity.
func (o *LevelOrder) Unhedged() decimal.Decimal {
	return o.AccountedQty.Sub(o.HedgedQty)
}

// DesiredQuote is one entry of QuoteSynchronizer's desired ladder.
type DesiredQuote struct {
	LevelIndex int
	Price      decimal.Decimal
	Qty        decimal.Decimal
}

// OrderClosed is the typed event FillReconciler emits instead of a stored
// callback reference, per spec.md §9 ("Shared mutable callback").
type OrderClosed struct {
	OrderID    string
	LevelIndex int
}

// FillEvent is one normalized event from FillEventStream, spec.md §6.
type FillEvent struct {
	OrderID       string
	CumFilledBase decimal.Decimal
	LastFilledPx  decimal.Decimal
	Status        FillStatus
}

// Ledger is the process-wide accounting record of spec.md §3.
type Ledger struct {
	TotalFilledBase  decimal.Decimal
	TotalFilledQuote decimal.Decimal

	TotalHedgedBase        decimal.Decimal
	TotalHedgedQuote       decimal.Decimal
	TotalHedgedBasePriced  decimal.Decimal

	NakedExposure decimal.Decimal
}

// CloseStatus is the guarded snapshot the CloseTask exposes to the operator
// control channel, spec.md §4.4 / §5.
type CloseStatus struct {
	Active           bool
	Paused           bool
	Symbol           string
	RemainingBase    decimal.Decimal
	SpotSoldBase     decimal.Decimal
	PerpBoughtBase   decimal.Decimal
	PendingHedgeBase decimal.Decimal
	RoundsCompleted  int
	LastError        string
	Finished         bool
}
