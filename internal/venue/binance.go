package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"arbmaker/internal/core"
	apperrors "arbmaker/pkg/errors"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultTimeout = 10 * time.Second

// RESTClient is a signed Binance REST client serving one market (spot or
// USDT-margined perpetual futures), selected by baseURL/orderEndpoint at
// construction. Grounded on the teacher's internal/exchange/binance/binance.go
// (HMAC-SHA256 signing, error-code mapping) and internal/exchange/base's
// BaseAdapter (single ExecuteRequest chokepoint, rate limiting), adapted to
// return plain decimal.Decimal values instead of pb.* wrapper types.
type RESTClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	secretKey  string
	limiter    *rate.Limiter
	logger     core.ILogger

	lastHedgeAvgPrice decimal.Decimal
}

// NewRESTClient builds a client against baseURL (e.g.
// "https://api.binance.com" for spot, "https://fapi.binance.com" for
// futures), rate limited to limit requests/sec.
func NewRESTClient(baseURL, apiKey, secretKey string, limit rate.Limit, logger core.ILogger) *RESTClient {
	return &RESTClient{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		secretKey:  secretKey,
		limiter:    rate.NewLimiter(limit, int(limit)+1),
		logger:     logger,
	}
}

func (c *RESTClient) sign(params url.Values) url.Values {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(params.Encode()))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return params
}

// execute sends a signed request and maps non-2xx bodies to apperrors, per
// the teacher's parseError Binance error-code table.
func (c *RESTClient) execute(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if signed {
		params = c.sign(params)
	}

	reqURL := c.baseURL + path
	var req *http.Request
	var err error
	if method == http.MethodGet || method == http.MethodDelete {
		reqURL += "?" + params.Encode()
		req, err = http.NewRequestWithContext(ctx, method, reqURL, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.parseError(resp.StatusCode, body)
	}
	return body, nil
}

// parseError maps a Binance error response to the apperrors taxonomy,
// grounded on binance.go's code table.
func (c *RESTClient) parseError(status int, body []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg   string `json:"msg"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch apiErr.Code {
	case -2015:
		return apperrors.ErrAuthenticationFailed
	case -2010:
		if strings.Contains(strings.ToLower(apiErr.Msg), "notional") {
			return apperrors.ErrNotionalTooSmall
		}
		return apperrors.ErrInsufficientFunds
	case -1003:
		return apperrors.ErrRateLimitExceeded
	case -1121:
		return apperrors.ErrInvalidSymbol
	case -2012, -2011:
		return apperrors.ErrUnknownOrder
	case -1013:
		return apperrors.ErrInvalidOrderParameter
	}

	if status >= 500 {
		return apperrors.ErrExchangeMaintenance
	}
	return fmt.Errorf("binance error %d: %s", apiErr.Code, apiErr.Msg)
}

// --- core.VenueGateway-shaped primitives, shared by spot and perp roles ---

func (c *RESTClient) BestBid(ctx context.Context, symbol string) (decimal.Decimal, error) {
	body, err := c.execute(ctx, http.MethodGet, "/api/v3/ticker/bookTicker", url.Values{"symbol": {symbol}}, false)
	if err != nil {
		return decimal.Zero, err
	}
	var out struct {
		BidPrice string `json:"bidPrice"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(out.BidPrice)
}

func (c *RESTClient) BestAsk(ctx context.Context, symbol string) (decimal.Decimal, error) {
	body, err := c.execute(ctx, http.MethodGet, "/api/v3/ticker/bookTicker", url.Values{"symbol": {symbol}}, false)
	if err != nil {
		return decimal.Zero, err
	}
	var out struct {
		AskPrice string `json:"askPrice"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(out.AskPrice)
}

func (c *RESTClient) Depth(ctx context.Context, symbol string, n int) ([]core.BookLevel, []core.BookLevel, error) {
	body, err := c.execute(ctx, http.MethodGet, "/api/v3/depth", url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(n)}}, false)
	if err != nil {
		return nil, nil, err
	}
	var out struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, nil, err
	}
	bids, err := toLevels(out.Bids)
	if err != nil {
		return nil, nil, err
	}
	asks, err := toLevels(out.Asks)
	if err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

func toLevels(raw [][2]string) ([]core.BookLevel, error) {
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

func (c *RESTClient) PlaceLimit(ctx context.Context, symbol string, side core.OrderSide, price, qty decimal.Decimal) (string, error) {
	params := url.Values{
		"symbol":      {symbol},
		"side":        {side.String()},
		"type":        {"LIMIT"},
		"timeInForce": {"GTC"},
		"price":       {price.String()},
		"quantity":    {qty.String()},
	}
	body, err := c.execute(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return "", err
	}
	var out struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return strconv.FormatInt(out.OrderID, 10), nil
}

func (c *RESTClient) Cancel(ctx context.Context, symbol, orderID string) error {
	params := url.Values{"symbol": {symbol}, "orderId": {orderID}}
	_, err := c.execute(ctx, http.MethodDelete, "/api/v3/order", params, true)
	if apperrors.IsUnknownOrder(err) {
		return nil
	}
	return err
}

func (c *RESTClient) FilledQty(ctx context.Context, symbol, orderID string) (decimal.Decimal, error) {
	params := url.Values{"symbol": {symbol}, "orderId": {orderID}}
	body, err := c.execute(ctx, http.MethodGet, "/api/v3/order", params, true)
	if err != nil {
		if apperrors.IsUnknownOrder(err) {
			return decimal.NewFromInt(-1), nil
		}
		return decimal.Zero, err
	}
	var out struct {
		ExecutedQty string `json:"executedQty"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(out.ExecutedQty)
}

func (c *RESTClient) MarketOrder(ctx context.Context, symbol string, side core.OrderSide, qty decimal.Decimal) (string, decimal.Decimal, bool, error) {
	params := url.Values{
		"symbol":   {symbol},
		"side":     {side.String()},
		"type":     {"MARKET"},
		"quantity": {qty.String()},
	}
	body, err := c.execute(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return "", decimal.Zero, false, err
	}
	var out struct {
		OrderID int64  `json:"orderId"`
		Fills   []struct {
			Price string `json:"price"`
			Qty   string `json:"qty"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return strconv.FormatInt(out.OrderID, 10), decimal.Zero, false, nil
	}
	if len(out.Fills) == 0 {
		return strconv.FormatInt(out.OrderID, 10), decimal.Zero, false, nil
	}

	totalQty, totalQuote := decimal.Zero, decimal.Zero
	for _, f := range out.Fills {
		price, perr := decimal.NewFromString(f.Price)
		qtyFill, qerr := decimal.NewFromString(f.Qty)
		if perr != nil || qerr != nil {
			continue
		}
		totalQty = totalQty.Add(qtyFill)
		totalQuote = totalQuote.Add(price.Mul(qtyFill))
	}
	if totalQty.IsZero() {
		return strconv.FormatInt(out.OrderID, 10), decimal.Zero, false, nil
	}
	avgPrice := totalQuote.Div(totalQty)
	c.lastHedgeAvgPrice = avgPrice
	return strconv.FormatInt(out.OrderID, 10), avgPrice, true, nil
}

// InternalTransfer moves funds between spot and margin/futures wallets via
// Binance's universal transfer endpoint. direction is a Binance transfer
// type string (e.g. "MAIN_UMFUTURE", "UMFUTURE_MAIN").
func (c *RESTClient) InternalTransfer(ctx context.Context, asset string, amount decimal.Decimal, direction string) error {
	params := url.Values{
		"asset":  {asset},
		"amount": {amount.String()},
		"type":   {direction},
	}
	_, err := c.execute(ctx, http.MethodPost, "/sapi/v1/asset/transfer", params, true)
	return err
}

func (c *RESTClient) Position(ctx context.Context, symbol string) (decimal.Decimal, error) {
	body, err := c.execute(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{"symbol": {symbol}}, true)
	if err != nil {
		return decimal.Zero, err
	}
	var out []struct {
		PositionAmt string `json:"positionAmt"`
	}
	if err := json.Unmarshal(body, &out); err != nil || len(out) == 0 {
		return decimal.Zero, err
	}
	return decimal.NewFromString(out[0].PositionAmt)
}
