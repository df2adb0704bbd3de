package closetask

import (
	"context"
	"testing"
	"time"

	"arbmaker/internal/core"
	"arbmaker/internal/hedge"
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

func testConfig() (core.StrategyConfig, core.FeeConfig) {
	return core.StrategyConfig{
		SymbolSpot:           "BTCUSDT",
		SymbolPerp:           "BTCUSDT",
		TickSizeSpot:         decimal.NewFromFloat(0.01),
		LotSize:              decimal.NewFromFloat(0.001),
		MinOrderQty:          decimal.NewFromFloat(0.001),
		MinNotionalQuote:     decimal.NewFromFloat(5),
		MaxRetry:             3,
		MaxCloseRounds:       200,
		CloseRoundMaxWait:    10 * time.Millisecond,
		PollInterval:         time.Millisecond,
		CloseSpreadMarginBps: decimal.Zero,
	}, core.FeeConfig{MinSpreadBps: decimal.NewFromFloat(10)}
}

func newTask() (*CloseTask, *venue.Mock, *core.EngineState) {
	cfg, fee := testConfig()
	state := core.NewEngineState()
	mock := venue.NewMock()
	h := hedge.New(mock, state, nil, noopLogger{}, cfg)
	return New(mock, state, h, noopLogger{}, cfg, fee), mock, state
}

func TestCloseTask_SizeLegFloorsAndRaisesToNotionalFloor(t *testing.T) {
	ct, _, _ := newTask()
	// remaining*weight alone is worth only 0.3 quote at this price, well
	// below the 5-quote notional floor, so sizeLeg must raise it.
	qty := ct.sizeLeg(decimal.NewFromFloat(0.01), decimal.NewFromFloat(0.3), decimal.NewFromFloat(100))
	if !qty.Equal(decimal.NewFromFloat(0.05)) {
		t.Fatalf("expected qty raised to 0.05 to clear the notional floor, got %s", qty)
	}
}

func TestCloseTask_SettleFillBuysBackAndReducesRemaining(t *testing.T) {
	ct, mock, _ := newTask()
	ct.remainingBase = decimal.NewFromFloat(0.01)

	ct.settleFill(context.Background(), decimal.NewFromFloat(0.002))

	if !ct.spotSoldBase.Equal(decimal.NewFromFloat(0.002)) {
		t.Fatalf("expected spot_sold_base 0.002, got %s", ct.spotSoldBase)
	}
	if !ct.remainingBase.Equal(decimal.NewFromFloat(0.008)) {
		t.Fatalf("expected remaining_base 0.008, got %s", ct.remainingBase)
	}
	if !ct.perpBoughtBase.Equal(decimal.NewFromFloat(0.002)) {
		t.Fatalf("expected perp_bought_base 0.002, got %s", ct.perpBoughtBase)
	}
	position, _ := mock.GetFuturesPosition(context.Background(), "BTCUSDT")
	if !position.Equal(decimal.NewFromFloat(0.002)) {
		t.Fatalf("expected the perpetual position to reflect the buyback, got %s", position)
	}
}

func TestCloseTask_SettleFillFoldsSubLotResidualIntoPendingHedge(t *testing.T) {
	ct, _, _ := newTask()
	ct.remainingBase = decimal.NewFromFloat(0.01)

	// 0.0015 floors to 0.001 at lot size 0.001, leaving a 0.0005 residual.
	ct.settleFill(context.Background(), decimal.NewFromFloat(0.0015))

	if !ct.pendingHedgeBase.Equal(decimal.NewFromFloat(0.0005)) {
		t.Fatalf("expected 0.0005 pending hedge residual, got %s", ct.pendingHedgeBase)
	}
}

func TestCloseTask_CancelLegsAndFlushCatchesRaceFill(t *testing.T) {
	ct, mock, _ := newTask()
	ct.remainingBase = decimal.NewFromFloat(0.01)

	orderID, _ := mock.PlaceSpotLimitSell(context.Background(), "BTCUSDT", decimal.NewFromFloat(100), decimal.NewFromFloat(0.005))
	leg := &sellLeg{level: 2, orderID: orderID, price: decimal.NewFromFloat(100), qty: decimal.NewFromFloat(0.005)}

	// Simulate a fill landing exactly as the cancel races it.
	mock.FillOrder(orderID, decimal.NewFromFloat(0.003))

	ct.cancelLegsAndFlush(context.Background(), []*sellLeg{leg})

	if !ct.spotSoldBase.Equal(decimal.NewFromFloat(0.003)) {
		t.Fatalf("expected the race fill to be captured, spot_sold_base=%s", ct.spotSoldBase)
	}
	if mock.CancelCalls != 1 {
		t.Fatalf("expected the leg to be cancelled, got %d cancel calls", mock.CancelCalls)
	}
}

func TestCloseTask_FinishFoldsPendingHedgeIntoNakedExposure(t *testing.T) {
	ct, _, state := newTask()
	ct.pendingHedgeBase = decimal.NewFromFloat(0.0007)

	ct.finish(context.Background())

	if !state.Ledger().NakedExposure.Equal(decimal.NewFromFloat(0.0007)) {
		t.Fatalf("expected pending hedge folded into naked exposure, got %s", state.Ledger().NakedExposure)
	}
	status := ct.Status()
	if !status.Finished || status.Active {
		t.Fatalf("expected task marked finished and inactive, got %+v", status)
	}
}

func TestCloseTask_RunTerminatesImmediatelyBelowMinOrderQty(t *testing.T) {
	ct, mock, _ := newTask()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ct.Run(ctx, "BTCUSDT", decimal.NewFromFloat(0.0001)) // already below min_order_qty

	if mock.PlaceCalls != 0 {
		t.Fatalf("expected no orders placed when starting below min_order_qty, got %d", mock.PlaceCalls)
	}
	status := ct.Status()
	if !status.Finished {
		t.Fatal("expected the task to finish")
	}
}

func TestCloseTask_ClearsSpreadHelper(t *testing.T) {
	if clearsSpread(decimal.Zero, decimal.NewFromFloat(100), decimal.NewFromFloat(0.001)) {
		t.Fatal("a non-positive price must never clear the spread gate")
	}
	if !clearsSpread(decimal.NewFromFloat(101), decimal.NewFromFloat(100), decimal.NewFromFloat(0.001)) {
		t.Fatal("a 1% spread against a 0.1% floor must clear")
	}
}
