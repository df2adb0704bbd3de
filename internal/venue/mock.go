// Package venue provides VenueGateway implementations: a deterministic
// in-memory fake used by every other package's tests, and a real
// split-venue Binance spot+perp REST client. Grounded on the teacher's
// internal/mock/exchange.go (in-memory fake shape) and
// internal/exchange/binance/binance.go + internal/exchange/base
// (HMAC-signing / error-mapping / BaseAdapter pattern), adapted to the
// narrower core.VenueGateway contract and plain decimal.Decimal types.
package venue

import (
	"context"
	"fmt"
	"sync"

	"arbmaker/internal/core"
	apperrors "arbmaker/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Mock is a deterministic, in-memory core.VenueGateway fake. All state is
// pre-seeded or driven by test helpers (SetFuturesBestBid, FillOrder, ...);
// nothing here talks to the network. Grounded on internal/mock/exchange.go.
type Mock struct {
	mu sync.Mutex

	futBid, futAsk decimal.Decimal
	spotBids       []core.BookLevel
	spotAsks       []core.BookLevel

	orders map[string]*mockOrder

	position decimal.Decimal

	// NotionalFloor, if set, causes PlaceFuturesMarketSell/Buy to return
	// apperrors.ErrNotionalTooSmall when qty*price is below it.
	NotionalFloor decimal.Decimal

	// FailNextHedge, if > 0, makes the next N hedge placements return a
	// transient error instead of succeeding (used to test Hedger retries).
	FailNextHedge int

	PlaceCalls  int
	CancelCalls int
}

type mockOrder struct {
	symbol    string
	side      core.OrderSide
	price     decimal.Decimal
	qty       decimal.Decimal
	filled    decimal.Decimal
	purged    bool
	cancelled bool
}

// NewMock returns a Mock with zeroed books; call the setters before use.
func NewMock() *Mock {
	return &Mock{orders: make(map[string]*mockOrder)}
}

func (m *Mock) SetFuturesBestBid(p decimal.Decimal) { m.mu.Lock(); m.futBid = p; m.mu.Unlock() }
func (m *Mock) SetFuturesBestAsk(p decimal.Decimal) { m.mu.Lock(); m.futAsk = p; m.mu.Unlock() }
func (m *Mock) SetSpotBids(levels []core.BookLevel)  { m.mu.Lock(); m.spotBids = levels; m.mu.Unlock() }
func (m *Mock) SetSpotAsks(levels []core.BookLevel)  { m.mu.Lock(); m.spotAsks = levels; m.mu.Unlock() }

// FillOrder advances an order's cumulative filled quantity (capped at qty).
func (m *Mock) FillOrder(orderID string, cumFilled decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return
	}
	if cumFilled.GreaterThan(o.qty) {
		cumFilled = o.qty
	}
	o.filled = cumFilled
}

// PurgeOrder marks an order as no longer known to the venue, so
// GetOrderFilledQty returns the sentinel negative value for it.
func (m *Mock) PurgeOrder(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		o.purged = true
	}
}

func (m *Mock) GetFuturesBestBid(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.futBid, nil
}

func (m *Mock) GetFuturesBestAsk(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.futAsk, nil
}

func (m *Mock) GetSpotDepth(ctx context.Context, symbol string, n int) ([]core.BookLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return capLevels(m.spotBids, n), nil
}

func (m *Mock) GetSpotAsks(ctx context.Context, symbol string, n int) ([]core.BookLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return capLevels(m.spotAsks, n), nil
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

func (m *Mock) PlaceSpotLimitBuy(ctx context.Context, symbol string, price, qty decimal.Decimal) (string, error) {
	return m.place(symbol, core.SideBuy, price, qty), nil
}

func (m *Mock) PlaceSpotLimitSell(ctx context.Context, symbol string, price, qty decimal.Decimal) (string, error) {
	return m.place(symbol, core.SideSell, price, qty), nil
}

func (m *Mock) place(symbol string, side core.OrderSide, price, qty decimal.Decimal) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlaceCalls++
	id := uuid.NewString()
	m.orders[id] = &mockOrder{symbol: symbol, side: side, price: price, qty: qty}
	return id
}

func (m *Mock) CancelOrder(ctx context.Context, symbol string, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls++
	// Idempotent: cancelling an unknown/already-purged order is success,
	// per spec.md §6/§7. The order record is kept (not deleted) so a
	// GetOrderFilledQty racing the cancel still observes its last known
	// fill, matching a real exchange's post-cancel order query.
	if o, ok := m.orders[orderID]; ok {
		o.cancelled = true
	}
	return nil
}

func (m *Mock) GetOrderFilledQty(ctx context.Context, symbol string, orderID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.purged {
		return decimal.NewFromInt(-1), nil
	}
	return o.filled, nil
}

func (m *Mock) PlaceFuturesMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (string, decimal.Decimal, bool, error) {
	return m.placeFutures(symbol, core.SideSell, qty)
}

func (m *Mock) PlaceFuturesMarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (string, decimal.Decimal, bool, error) {
	return m.placeFutures(symbol, core.SideBuy, qty)
}

func (m *Mock) placeFutures(symbol string, side core.OrderSide, qty decimal.Decimal) (string, decimal.Decimal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlaceCalls++

	if m.FailNextHedge > 0 {
		m.FailNextHedge--
		return "", decimal.Zero, false, apperrors.ErrNetwork
	}

	price := m.futBid
	if price.IsZero() {
		price = m.futAsk
	}
	if !m.NotionalFloor.IsZero() && qty.Mul(price).LessThan(m.NotionalFloor) {
		return "", decimal.Zero, false, apperrors.ErrNotionalTooSmall
	}

	if side == core.SideBuy {
		m.position = m.position.Add(qty)
	} else {
		m.position = m.position.Sub(qty)
	}
	return uuid.NewString(), price, true, nil
}

func (m *Mock) GetFuturesPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position, nil
}

func (m *Mock) InternalTransfer(ctx context.Context, asset string, amount decimal.Decimal, direction string) error {
	return fmt.Errorf("%w: mock venue", apperrors.ErrNotSupported)
}

var _ core.VenueGateway = (*Mock)(nil)
