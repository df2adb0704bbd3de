package venue

import (
	"context"

	"arbmaker/internal/core"

	"github.com/shopspring/decimal"
)

// Composite routes spot-market calls to one RESTClient and futures-market
// calls to another, satisfying the single core.VenueGateway contract without
// the core ever knowing two accounts/endpoints are involved. Grounded on
// the teacher's exchange-adapter composition in internal/exchange/base,
// generalized here to a two-venue split instead of a single adapter.
type Composite struct {
	Spot *RESTClient
	Perp *RESTClient
}

// NewComposite builds a gateway that reads/writes spot orders through spot
// and futures hedges/positions through perp.
func NewComposite(spot, perp *RESTClient) *Composite {
	return &Composite{Spot: spot, Perp: perp}
}

func (c *Composite) GetFuturesBestBid(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return c.Perp.BestBid(ctx, symbol)
}

func (c *Composite) GetFuturesBestAsk(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return c.Perp.BestAsk(ctx, symbol)
}

func (c *Composite) GetSpotDepth(ctx context.Context, symbol string, n int) ([]core.BookLevel, error) {
	bids, _, err := c.Spot.Depth(ctx, symbol, n)
	return bids, err
}

func (c *Composite) GetSpotAsks(ctx context.Context, symbol string, n int) ([]core.BookLevel, error) {
	_, asks, err := c.Spot.Depth(ctx, symbol, n)
	return asks, err
}

func (c *Composite) PlaceSpotLimitBuy(ctx context.Context, symbol string, price, qty decimal.Decimal) (string, error) {
	return c.Spot.PlaceLimit(ctx, symbol, core.SideBuy, price, qty)
}

func (c *Composite) PlaceSpotLimitSell(ctx context.Context, symbol string, price, qty decimal.Decimal) (string, error) {
	return c.Spot.PlaceLimit(ctx, symbol, core.SideSell, price, qty)
}

func (c *Composite) CancelOrder(ctx context.Context, symbol string, orderID string) error {
	return c.Spot.Cancel(ctx, symbol, orderID)
}

func (c *Composite) GetOrderFilledQty(ctx context.Context, symbol string, orderID string) (decimal.Decimal, error) {
	return c.Spot.FilledQty(ctx, symbol, orderID)
}

func (c *Composite) PlaceFuturesMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (string, decimal.Decimal, bool, error) {
	return c.Perp.MarketOrder(ctx, symbol, core.SideSell, qty)
}

func (c *Composite) PlaceFuturesMarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (string, decimal.Decimal, bool, error) {
	return c.Perp.MarketOrder(ctx, symbol, core.SideBuy, qty)
}

func (c *Composite) GetFuturesPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return c.Perp.Position(ctx, symbol)
}

func (c *Composite) InternalTransfer(ctx context.Context, asset string, amount decimal.Decimal, direction string) error {
	return c.Spot.InternalTransfer(ctx, asset, amount, direction)
}

var _ core.VenueGateway = (*Composite)(nil)
