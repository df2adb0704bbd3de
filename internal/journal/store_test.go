package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"arbmaker/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "trades.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordFillAndRecentTrades(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := core.JournalRecord{
		ID:        uuid.NewString(),
		OrderID:   "order-1",
		LevelIdx:  1,
		Side:      core.SideBuy,
		Qty:       decimal.NewFromFloat(0.01),
		Price:     decimal.NewFromFloat(100),
		Venue:     "spot",
		Timestamp: time.Now(),
	}
	if err := store.RecordFill(ctx, rec); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}

	recent, err := store.RecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 row, got %d", len(recent))
	}
	if recent[0].OrderID != "order-1" || recent[0].Side != core.SideBuy {
		t.Fatalf("unexpected row: %+v", recent[0])
	}
	if !recent[0].Qty.Equal(decimal.NewFromFloat(0.01)) {
		t.Fatalf("expected qty 0.01, got %s", recent[0].Qty)
	}
}

func TestStore_PnLSummaryAggregatesBuySellSeparately(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_ = store.RecordFill(ctx, core.JournalRecord{
		ID: uuid.NewString(), OrderID: "o1", Side: core.SideBuy,
		Qty: decimal.NewFromFloat(0.02), Price: decimal.NewFromFloat(100), Venue: "spot", Timestamp: time.Now(),
	})
	_ = store.RecordFill(ctx, core.JournalRecord{
		ID: uuid.NewString(), OrderID: "o2", Side: core.SideSell,
		Qty: decimal.NewFromFloat(0.02), Price: decimal.NewFromFloat(101), Venue: "perp", Timestamp: time.Now(),
	})

	summary, err := store.PnLSummary(ctx)
	if err != nil {
		t.Fatalf("PnLSummary: %v", err)
	}
	if summary.FillCount != 1 || summary.HedgeCount != 1 {
		t.Fatalf("expected 1 fill and 1 hedge, got %+v", summary)
	}
}

func TestStore_RecentTradesRespectsLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = store.RecordFill(ctx, core.JournalRecord{
			ID: uuid.NewString(), OrderID: "o", Side: core.SideBuy,
			Qty: decimal.NewFromFloat(0.01), Price: decimal.NewFromFloat(100), Venue: "spot", Timestamp: time.Now(),
		})
	}

	recent, err := store.RecentTrades(ctx, 2)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(recent))
	}
}
