package marketdata

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMarketFeed_IsStaleBeforeAnyUpdate(t *testing.T) {
	mf := &MarketFeed{}
	if !mf.IsStale("BTCUSDT", time.Second) {
		t.Fatal("a feed with no updates must report stale")
	}
}

func TestMarketFeed_PerpTickerUpdate(t *testing.T) {
	mf := &MarketFeed{}
	mf.handlePerpTicker([]byte(`{"b":"100.5","a":"100.7"}`))

	bid, ok := mf.PerpBid("BTCUSDT")
	if !ok || !bid.Equal(decimal.NewFromFloat(100.5)) {
		t.Fatalf("unexpected bid: %s ok=%v", bid, ok)
	}
	ask, ok := mf.PerpAsk("BTCUSDT")
	if !ok || !ask.Equal(decimal.NewFromFloat(100.7)) {
		t.Fatalf("unexpected ask: %s ok=%v", ask, ok)
	}
	if mf.IsStale("BTCUSDT", time.Minute) {
		t.Fatal("feed just updated must not be stale")
	}
}

func TestMarketFeed_SpotDepthUpdate(t *testing.T) {
	mf := &MarketFeed{}
	mf.handleSpotDepth([]byte(`{"b":[["100.0","1.0"],["99.9","2.0"]],"a":[["100.1","1.5"]]}`))

	bids, ok := mf.SpotBids("BTCUSDT", 5)
	if !ok || len(bids) != 2 {
		t.Fatalf("expected 2 bid levels, got %d ok=%v", len(bids), ok)
	}
	asks, ok := mf.SpotAsks("BTCUSDT", 5)
	if !ok || len(asks) != 1 {
		t.Fatalf("expected 1 ask level, got %d ok=%v", len(asks), ok)
	}
}

func TestMarketFeed_DepthCappedAtN(t *testing.T) {
	mf := &MarketFeed{}
	mf.handleSpotDepth([]byte(`{"b":[["100.0","1.0"],["99.9","2.0"],["99.8","3.0"]],"a":[]}`))

	bids, _ := mf.SpotBids("BTCUSDT", 2)
	if len(bids) != 2 {
		t.Fatalf("expected depth capped at 2, got %d", len(bids))
	}
}

func TestMarketFeed_MalformedMessageIgnored(t *testing.T) {
	mf := &MarketFeed{}
	mf.handlePerpTicker([]byte(`not-json`))
	if _, ok := mf.PerpBid("BTCUSDT"); ok {
		t.Fatal("malformed ticker message must not populate the cache")
	}
}
