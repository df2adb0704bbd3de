package reconcile

import (
	"context"
	"testing"
	"time"

	"arbmaker/internal/core"
	"arbmaker/internal/hedge"
	"arbmaker/internal/venue"

	"github.com/shopspring/decimal"
)

type fakeStream struct {
	events []core.FillEvent
}

func (f *fakeStream) TryDequeue() (core.FillEvent, bool) {
	if len(f.events) == 0 {
		return core.FillEvent{}, false
	}
	e := f.events[0]
	f.events = f.events[1:]
	return e, true
}
func (f *fakeStream) Start(ctx context.Context) error { return nil }
func (f *fakeStream) Stop() error                     { return nil }

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                     {}
func (noopLogger) Info(string, ...interface{})                      {}
func (noopLogger) Warn(string, ...interface{})                      {}
func (noopLogger) Error(string, ...interface{})                     {}
func (noopLogger) Fatal(string, ...interface{})                     {}
func (l noopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l noopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

func testConfig() core.StrategyConfig {
	return core.StrategyConfig{
		SymbolSpot:            "BTCUSDT",
		SymbolPerp:            "BTCUSDT",
		LotSize:               decimal.NewFromFloat(0.001),
		MaxRetry:              3,
		RestReconcileInterval: time.Hour,
	}
}

func TestFillReconciler_PushFillAccountedAndHedged(t *testing.T) {
	state := core.NewEngineState()
	state.AddOrder(&core.LevelOrder{LevelIndex: 2, OrderID: "ord-1", Price: decimal.NewFromInt(100), Qty: decimal.NewFromFloat(0.002)})

	mock := venue.NewMock()
	mock.SetFuturesBestBid(decimal.NewFromInt(100))
	h := hedge.New(mock, state, nil, noopLogger{}, testConfig())
	stream := &fakeStream{events: []core.FillEvent{{OrderID: "ord-1", CumFilledBase: decimal.NewFromFloat(0.001), Status: core.FillStatusPartiallyFilled}}}

	r := New(stream, mock, state, h, nil, noopLogger{}, testConfig(), core.SideBuy)
	closed := r.Tick(context.Background(), "BTCUSDT")
	if len(closed) != 0 {
		t.Fatalf("partial fill must not close the order, got %v", closed)
	}

	order, ok := state.Order("ord-1")
	if !ok {
		t.Fatal("order should still be live")
	}
	if !order.AccountedQty.Equal(decimal.NewFromFloat(0.001)) {
		t.Fatalf("expected accounted_qty 0.001, got %s", order.AccountedQty)
	}
	if !order.HedgedQty.Equal(decimal.NewFromFloat(0.001)) {
		t.Fatalf("expected hedged_qty 0.001, got %s", order.HedgedQty)
	}
}

func TestFillReconciler_FullFillClosesOrderAndRequotesLevel1(t *testing.T) {
	state := core.NewEngineState()
	state.AddOrder(&core.LevelOrder{LevelIndex: 1, OrderID: "ord-1", Price: decimal.NewFromInt(100), Qty: decimal.NewFromFloat(0.001)})

	mock := venue.NewMock()
	mock.SetFuturesBestBid(decimal.NewFromInt(100))
	h := hedge.New(mock, state, nil, noopLogger{}, testConfig())
	stream := &fakeStream{events: []core.FillEvent{{OrderID: "ord-1", CumFilledBase: decimal.NewFromFloat(0.001), Status: core.FillStatusFilled}}}

	r := New(stream, mock, state, h, nil, noopLogger{}, testConfig(), core.SideBuy)
	closed := r.Tick(context.Background(), "BTCUSDT")

	if len(closed) != 1 || closed[0].OrderID != "ord-1" {
		t.Fatalf("expected ord-1 to close, got %v", closed)
	}
	if !state.TakeRequoteAll() {
		t.Fatal("closing a level-1 order must set requote_all_levels")
	}
	if _, ok := state.Order("ord-1"); ok {
		t.Fatal("closed order must be removed from active state")
	}
}

func TestFillReconciler_CumulativeNotIncremental(t *testing.T) {
	state := core.NewEngineState()
	state.AddOrder(&core.LevelOrder{LevelIndex: 3, OrderID: "ord-1", Price: decimal.NewFromInt(100), Qty: decimal.NewFromFloat(0.005)})

	mock := venue.NewMock()
	mock.SetFuturesBestBid(decimal.NewFromInt(100))
	h := hedge.New(mock, state, nil, noopLogger{}, testConfig())
	// Two push events in the queue: an out-of-date one followed by the
	// current cumulative value. The reconciler must keep the max, not sum them.
	stream := &fakeStream{events: []core.FillEvent{
		{OrderID: "ord-1", CumFilledBase: decimal.NewFromFloat(0.001)},
		{OrderID: "ord-1", CumFilledBase: decimal.NewFromFloat(0.003)},
	}}

	r := New(stream, mock, state, h, nil, noopLogger{}, testConfig(), core.SideBuy)
	r.Tick(context.Background(), "BTCUSDT")

	order, _ := state.Order("ord-1")
	if !order.AccountedQty.Equal(decimal.NewFromFloat(0.003)) {
		t.Fatalf("expected accounted_qty to track the max cumulative value 0.003, got %s", order.AccountedQty)
	}
}

func TestFillReconciler_GapCheckFoldsIntoNakedExposure(t *testing.T) {
	state := core.NewEngineState()
	state.MutateLedger(func(l *core.Ledger) {
		l.TotalFilledBase = decimal.NewFromFloat(0.01)
		l.TotalHedgedBase = decimal.NewFromFloat(0.005)
	})

	mock := venue.NewMock()
	h := hedge.New(mock, state, nil, noopLogger{}, testConfig())
	r := New(&fakeStream{}, mock, state, h, nil, noopLogger{}, testConfig(), core.SideBuy)

	r.maybeGapCheck()

	if !state.Ledger().NakedExposure.Equal(decimal.NewFromFloat(0.005)) {
		t.Fatalf("expected the 0.005 gap folded into naked exposure, got %s", state.Ledger().NakedExposure)
	}
}
