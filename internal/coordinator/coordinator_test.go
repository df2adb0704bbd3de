package coordinator

import (
	"context"
	"testing"
	"time"

	"arbmaker/internal/core"
	"arbmaker/internal/hedge"
	"arbmaker/internal/marketdata"
	"arbmaker/internal/quote"
	"arbmaker/internal/reconcile"
	"arbmaker/internal/venue"

	"github.com/shopspring/decimal"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                     {}
func (noopLogger) Info(string, ...interface{})                      {}
func (noopLogger) Warn(string, ...interface{})                      {}
func (noopLogger) Error(string, ...interface{})                     {}
func (noopLogger) Fatal(string, ...interface{})                     {}
func (l noopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l noopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

type fakeStream struct{}

func (fakeStream) TryDequeue() (core.FillEvent, bool) { return core.FillEvent{}, false }
func (fakeStream) Start(ctx context.Context) error     { return nil }
func (fakeStream) Stop() error                         { return nil }

// fakeMarketData lets tests control staleness/presence independently of the
// real websocket-backed MarketFeed.
type fakeMarketData struct {
	perpBid, perpAsk decimal.Decimal
	spotBids         []core.BookLevel
	present          bool
	stale            bool
}

func (f *fakeMarketData) PerpBid(string) (decimal.Decimal, bool) { return f.perpBid, f.present }
func (f *fakeMarketData) PerpAsk(string) (decimal.Decimal, bool) { return f.perpAsk, f.present }
func (f *fakeMarketData) SpotBids(string, int) ([]core.BookLevel, bool) {
	return f.spotBids, f.present
}
func (f *fakeMarketData) SpotAsks(string, int) ([]core.BookLevel, bool) { return nil, f.present }
func (f *fakeMarketData) IsStale(string, time.Duration) bool            { return f.stale }

func testConfig() (core.StrategyConfig, core.FeeConfig) {
	return core.StrategyConfig{
		SymbolSpot:            "BTCUSDT",
		SymbolPerp:            "BTCUSDT",
		TickSizeSpot:          decimal.NewFromFloat(0.01),
		LotSize:               decimal.NewFromFloat(0.001),
		TotalBudgetBase:       decimal.NewFromFloat(1.0),
		CycleBudgetFraction:   decimal.NewFromFloat(0.1),
		DepthConsumptionRatio: decimal.NewFromFloat(0.5),
		MinOrderQty:           decimal.NewFromFloat(0.0001),
		MinNotionalQuote:      decimal.NewFromFloat(5),
		RepriceThresholdBps:   decimal.NewFromFloat(5),
		RepriceTickFloor:      2,
		MaxRetry:              3,
		PollInterval:          time.Millisecond,
	}, core.FeeConfig{MinSpreadBps: decimal.NewFromFloat(10)}
}

func sampleSpotBids() []core.BookLevel {
	return []core.BookLevel{
		{Price: decimal.NewFromFloat(100.0), Size: decimal.NewFromFloat(10)},
		{Price: decimal.NewFromFloat(99.9), Size: decimal.NewFromFloat(10)},
		{Price: decimal.NewFromFloat(99.8), Size: decimal.NewFromFloat(10)},
		{Price: decimal.NewFromFloat(99.7), Size: decimal.NewFromFloat(10)},
		{Price: decimal.NewFromFloat(99.6), Size: decimal.NewFromFloat(10)},
	}
}

func newCoordinator(t *testing.T, md core.MarketDataCache) (*Coordinator, *venue.Mock, *core.EngineState) {
	t.Helper()
	cfg, fee := testConfig()
	state := core.NewEngineState()
	mock := venue.NewMock()
	mock.SetFuturesBestBid(decimal.NewFromFloat(101.0))
	h := hedge.New(mock, state, nil, noopLogger{}, cfg)
	r := reconcile.New(fakeStream{}, mock, state, h, nil, noopLogger{}, cfg, core.SideBuy)
	s := quote.New(mock, state, h, nil, noopLogger{}, cfg, fee)
	return New(state, md, s, r, h, noopLogger{}, cfg, fee), mock, state
}

func TestCoordinator_PlacesLadderOnHappyPathTick(t *testing.T) {
	md := &fakeMarketData{perpBid: decimal.NewFromFloat(101.0), spotBids: sampleSpotBids(), present: true}
	c, mock, state := newCoordinator(t, md)

	c.tick(context.Background())

	if mock.PlaceCalls != 3 {
		t.Fatalf("expected 3 ladder orders placed on the happy path, got %d", mock.PlaceCalls)
	}
	for _, lv := range []int{1, 2, 3} {
		if _, live := state.OrderAtLevel(lv); !live {
			t.Fatalf("expected level %d live after the tick", lv)
		}
	}
}

func TestCoordinator_PausedCancelsAllAndSkipsPlacement(t *testing.T) {
	md := &fakeMarketData{perpBid: decimal.NewFromFloat(101.0), spotBids: sampleSpotBids(), present: true}
	c, mock, state := newCoordinator(t, md)
	state.AddOrder(&core.LevelOrder{LevelIndex: 1, OrderID: "existing", Price: decimal.NewFromFloat(100), Qty: decimal.NewFromFloat(0.01)})
	state.SetPaused(true)

	c.tick(context.Background())

	if mock.PlaceCalls != 0 {
		t.Fatalf("a paused tick must not place new orders, got %d placements", mock.PlaceCalls)
	}
	if mock.CancelCalls == 0 {
		t.Fatal("a paused tick must cancel the existing ladder")
	}
}

func TestCoordinator_MissingMarketDataSkipsTickWithoutPanicking(t *testing.T) {
	md := &fakeMarketData{present: false}
	c, mock, _ := newCoordinator(t, md)

	c.tick(context.Background())

	if mock.PlaceCalls != 0 {
		t.Fatalf("expected no placement when market data is missing, got %d", mock.PlaceCalls)
	}
}

func TestCoordinator_SpreadGuardCancelsExistingLadder(t *testing.T) {
	md := &fakeMarketData{perpBid: decimal.NewFromFloat(100.001), spotBids: sampleSpotBids(), present: true}
	c, mock, state := newCoordinator(t, md)
	// A resting order whose basis has collapsed well below min_spread_bps.
	state.AddOrder(&core.LevelOrder{LevelIndex: 1, OrderID: "existing", Price: decimal.NewFromFloat(100), Qty: decimal.NewFromFloat(0.01)})

	c.tick(context.Background())

	if mock.CancelCalls == 0 {
		t.Fatal("expected the spread guard to cancel the existing ladder")
	}
	if mock.PlaceCalls != 0 {
		t.Fatalf("expected no new placement on the same tick the spread guard fires, got %d", mock.PlaceCalls)
	}
}

func TestCoordinator_DriftGuardCancelsThenReQuotesSameTick(t *testing.T) {
	md := &fakeMarketData{perpBid: decimal.NewFromFloat(101.0), spotBids: sampleSpotBids(), present: true}
	c, mock, state := newCoordinator(t, md)
	// Resting order priced below spot_bids[5] (99.6): the ladder walked up past it.
	state.AddOrder(&core.LevelOrder{LevelIndex: 1, OrderID: "stale", Price: decimal.NewFromFloat(99.0), Qty: decimal.NewFromFloat(0.01)})

	c.tick(context.Background())

	if mock.CancelCalls == 0 {
		t.Fatal("expected the drift guard to cancel the stale order")
	}
	if mock.PlaceCalls != 3 {
		t.Fatalf("expected the drift guard to fall through to a fresh 3-level quote, got %d placements", mock.PlaceCalls)
	}
}

func TestCoordinator_RequoteAllFlagForcesFullCancel(t *testing.T) {
	md := &fakeMarketData{perpBid: decimal.NewFromFloat(101.0), spotBids: sampleSpotBids(), present: true}
	c, mock, state := newCoordinator(t, md)
	state.AddOrder(&core.LevelOrder{LevelIndex: 2, OrderID: "existing", Price: decimal.NewFromFloat(99.9), Qty: decimal.NewFromFloat(0.003)})
	state.SetRequoteAll(true)

	c.tick(context.Background())

	if mock.CancelCalls == 0 {
		t.Fatal("expected requote_all_levels to force a full cancel")
	}
	if state.TakeRequoteAll() {
		t.Fatal("requote_all_levels must be cleared by the tick that consumes it")
	}
}

func TestCoordinator_SetMinSpreadBpsIsGuardedAndLive(t *testing.T) {
	md := &fakeMarketData{perpBid: decimal.NewFromFloat(101.0), spotBids: sampleSpotBids(), present: true}
	c, _, _ := newCoordinator(t, md)

	c.SetMinSpreadBps(decimal.NewFromFloat(9999))
	if !c.minSpreadFraction().Equal(decimal.NewFromFloat(9999).Div(bps)) {
		t.Fatal("expected the updated spread threshold to take effect immediately")
	}
}

// real MarketFeed satisfies core.MarketDataCache; compile-time assertion
// that the Coordinator can be wired against the production implementation.
var _ core.MarketDataCache = (*marketdata.MarketFeed)(nil)
