package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ILogger is the structured logging contract every component is injected
// with. Grounded on the teacher's internal/core/interfaces.go ILogger —
// kept byte-for-byte the same shape since it has no protobuf dependency.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// VenueGateway is the polymorphic external collaborator of spec.md §6.
// A single-venue implementation and a split spot/perp composite both
// satisfy this one contract; the core never type-switches on which.
type VenueGateway interface {
	GetFuturesBestBid(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetFuturesBestAsk(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetSpotDepth(ctx context.Context, symbol string, n int) ([]BookLevel, error)
	GetSpotAsks(ctx context.Context, symbol string, n int) ([]BookLevel, error)

	PlaceSpotLimitBuy(ctx context.Context, symbol string, price, qty decimal.Decimal) (string, error)
	PlaceSpotLimitSell(ctx context.Context, symbol string, price, qty decimal.Decimal) (string, error)
	// CancelOrder is idempotent: "unknown order" is reported as a nil error,
	// not apperrors.ErrUnknownOrder, per spec.md §6/§7.
	CancelOrder(ctx context.Context, symbol string, orderID string) error

	// GetOrderFilledQty returns cumulative filled base, or a negative
	// sentinel when the order is unknown to the venue (already purged).
	GetOrderFilledQty(ctx context.Context, symbol string, orderID string) (decimal.Decimal, error)

	// PlaceFuturesMarketSell returns the order id and, when the venue
	// reports one synchronously, the average fill price (zero if unknown —
	// callers must check hasAvgPrice).
	PlaceFuturesMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (orderID string, avgPrice decimal.Decimal, hasAvgPrice bool, err error)
	PlaceFuturesMarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (orderID string, avgPrice decimal.Decimal, hasAvgPrice bool, err error)

	GetFuturesPosition(ctx context.Context, symbol string) (decimal.Decimal, error)

	// InternalTransfer is optional; implementations that don't support it
	// return apperrors.ErrNotSupported.
	InternalTransfer(ctx context.Context, asset string, amount decimal.Decimal, direction string) error
}

// FillEventStream is the lazy, restartable, non-blocking-dequeue event
// source of spec.md §6.
type FillEventStream interface {
	// TryDequeue returns the next buffered event without blocking. ok is
	// false when the queue is currently empty (not an error condition).
	TryDequeue() (event FillEvent, ok bool)
	Start(ctx context.Context) error
	Stop() error
}

// MarketDataCache is the thread-safe shared bid/ask and depth snapshot of
// spec.md §1/§2.
type MarketDataCache interface {
	PerpBid(symbol string) (decimal.Decimal, bool)
	PerpAsk(symbol string) (decimal.Decimal, bool)
	SpotBids(symbol string, n int) ([]BookLevel, bool)
	SpotAsks(symbol string, n int) ([]BookLevel, bool)
	IsStale(symbol string, ttl time.Duration) bool
}

// Notifier is the fire-and-forget notification sink of spec.md §9
// ("Notifications are fire-and-forget tasks; the core never awaits them").
type Notifier interface {
	Notify(ctx context.Context, level string, title, body string)
}

// JournalWriter is the append-only trade-journal port spec.md §1 names as
// an external collaborator ("Persistent trade logging").
type JournalWriter interface {
	RecordFill(ctx context.Context, rec JournalRecord) error
}

// JournalRecord is one append-only trade-journal entry, grounded on
// original_source/trade_logger.py's record shape.
type JournalRecord struct {
	ID        string
	OrderID   string
	LevelIdx  int
	Side      OrderSide
	Qty       decimal.Decimal
	Price     decimal.Decimal
	Venue     string
	Timestamp time.Time
}
