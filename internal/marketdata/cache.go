// Package marketdata provides a thread-safe MarketDataCache fed by
// WebSocket ticker/depth streams.
package marketdata

import (
	"encoding/json"
	"sync"
	"time"

	"arbmaker/internal/core"
	"arbmaker/pkg/websocket"

	"github.com/shopspring/decimal"
)

// MarketFeed is a thread-safe core.MarketDataCache fed by two WebSocket
// streams (perp best-bid/ask "bookTicker" and spot partial-depth), grounded
// on the teacher's now-deleted internal/risk/monitor.go kline-cache pattern
// (RWMutex-guarded map, staleness via last-updated timestamp) and
// pkg/websocket.Client's reconnect loop.
type MarketFeed struct {
	mu sync.RWMutex

	perpBid, perpAsk decimal.Decimal
	spotBids, spotAsks []core.BookLevel
	updatedAt          time.Time

	perpClient *websocket.Client
	spotClient *websocket.Client
}

// NewMarketFeed builds a feed listening on perpWSURL for best bid/ask and
// spotDepthWSURL for partial-depth updates, both scoped to a single symbol
// pair by the caller's stream URLs (Binance streams are symbol-scoped).
func NewMarketFeed(perpWSURL, spotDepthWSURL string, logger core.ILogger) *MarketFeed {
	mf := &MarketFeed{}
	mf.perpClient = websocket.NewClient(perpWSURL, mf.handlePerpTicker, logger)
	mf.spotClient = websocket.NewClient(spotDepthWSURL, mf.handleSpotDepth, logger)
	return mf
}

func (mf *MarketFeed) Start() {
	mf.perpClient.Start()
	mf.spotClient.Start()
}

func (mf *MarketFeed) Stop() {
	mf.perpClient.Stop()
	mf.spotClient.Stop()
}

type bookTickerMessage struct {
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
}

func (mf *MarketFeed) handlePerpTicker(message []byte) {
	var msg bookTickerMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}
	bid, errB := decimal.NewFromString(msg.BidPrice)
	ask, errA := decimal.NewFromString(msg.AskPrice)
	if errB != nil || errA != nil {
		return
	}

	mf.mu.Lock()
	mf.perpBid = bid
	mf.perpAsk = ask
	mf.updatedAt = time.Now()
	mf.mu.Unlock()
}

type depthMessage struct {
	Bids [][2]string `json:"b"`
	Asks [][2]string `json:"a"`
}

func (mf *MarketFeed) handleSpotDepth(message []byte) {
	var msg depthMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}
	bids, errB := parseLevels(msg.Bids)
	asks, errA := parseLevels(msg.Asks)
	if errB != nil || errA != nil {
		return
	}

	mf.mu.Lock()
	mf.spotBids = bids
	mf.spotAsks = asks
	mf.updatedAt = time.Now()
	mf.mu.Unlock()
}

func parseLevels(raw [][2]string) ([]core.BookLevel, error) {
	levels := make([]core.BookLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, err
		}
		size, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, core.BookLevel{Price: price, Size: size})
	}
	return levels, nil
}

func capLevels(levels []core.BookLevel, n int) []core.BookLevel {
	if n >= len(levels) {
		out := make([]core.BookLevel, len(levels))
		copy(out, levels)
		return out
	}
	out := make([]core.BookLevel, n)
	copy(out, levels[:n])
	return out
}

func (mf *MarketFeed) PerpBid(symbol string) (decimal.Decimal, bool) {
	mf.mu.RLock()
	defer mf.mu.RUnlock()
	return mf.perpBid, !mf.perpBid.IsZero()
}

func (mf *MarketFeed) PerpAsk(symbol string) (decimal.Decimal, bool) {
	mf.mu.RLock()
	defer mf.mu.RUnlock()
	return mf.perpAsk, !mf.perpAsk.IsZero()
}

func (mf *MarketFeed) SpotBids(symbol string, n int) ([]core.BookLevel, bool) {
	mf.mu.RLock()
	defer mf.mu.RUnlock()
	if len(mf.spotBids) == 0 {
		return nil, false
	}
	return capLevels(mf.spotBids, n), true
}

func (mf *MarketFeed) SpotAsks(symbol string, n int) ([]core.BookLevel, bool) {
	mf.mu.RLock()
	defer mf.mu.RUnlock()
	if len(mf.spotAsks) == 0 {
		return nil, false
	}
	return capLevels(mf.spotAsks, n), true
}

// IsStale reports whether the last update is older than ttl — spec.md §4.5's
// "pause trading when market data is stale" guard.
func (mf *MarketFeed) IsStale(symbol string, ttl time.Duration) bool {
	mf.mu.RLock()
	defer mf.mu.RUnlock()
	if mf.updatedAt.IsZero() {
		return true
	}
	return time.Since(mf.updatedAt) > ttl
}

var _ core.MarketDataCache = (*MarketFeed)(nil)
