package venue

import (
	"context"
	"encoding/json"
	"sync"

	"arbmaker/internal/core"
	"arbmaker/pkg/websocket"

	"github.com/shopspring/decimal"
)

// FillStream consumes Binance's spot user-data WebSocket stream and exposes
// executionReport fills through the non-blocking core.FillEventStream
// contract. Grounded on spec.md §6's "push: FillEventStream.try_dequeue()
// never blocks" and the teacher's pkg/websocket.Client reconnect loop;
// the listen-key lifecycle itself is out of scope for this adapter (the
// caller supplies a ready wsURL, refreshed out of band).
type FillStream struct {
	client *websocket.Client

	mu    sync.Mutex
	queue []core.FillEvent
}

// NewFillStream builds a stream against wsURL (a Binance user-data stream
// URL, listen-key included), symbol filtering all reports to spotSymbol.
func NewFillStream(wsURL, spotSymbol string, logger core.ILogger) *FillStream {
	fs := &FillStream{}
	fs.client = websocket.NewClient(wsURL, fs.handle(spotSymbol), logger)
	return fs
}

// executionReport is the subset of Binance's user-data executionReport
// payload this adapter cares about.
type executionReport struct {
	EventType  string `json:"e"`
	Symbol     string `json:"s"`
	OrderID    int64  `json:"i"`
	Side       string `json:"S"`
	ExecutedQty string `json:"z"` // cumulative filled qty
	LastPrice  string `json:"L"` // last executed price
	Status     string `json:"X"`
}

func (fs *FillStream) handle(spotSymbol string) websocket.MessageHandler {
	return func(message []byte) {
		var report executionReport
		if err := json.Unmarshal(message, &report); err != nil {
			return
		}
		if report.EventType != "executionReport" || report.Symbol != spotSymbol {
			return
		}

		cumQty, err := decimal.NewFromString(report.ExecutedQty)
		if err != nil {
			return
		}
		price, err := decimal.NewFromString(report.LastPrice)
		if err != nil {
			price = decimal.Zero
		}

		status := core.FillStatusNew
		switch report.Status {
		case "PARTIALLY_FILLED":
			status = core.FillStatusPartiallyFilled
		case "FILLED":
			status = core.FillStatusFilled
		case "CANCELED", "EXPIRED", "REJECTED":
			status = core.FillStatusCanceled
		}

		event := core.FillEvent{
			OrderID:       formatOrderID(report.OrderID),
			CumFilledBase: cumQty,
			LastFilledPx:  price,
			Status:        status,
		}

		fs.mu.Lock()
		fs.queue = append(fs.queue, event)
		fs.mu.Unlock()
	}
}

// TryDequeue pops the oldest buffered fill event, if any.
func (fs *FillStream) TryDequeue() (core.FillEvent, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.queue) == 0 {
		return core.FillEvent{}, false
	}
	event := fs.queue[0]
	fs.queue = fs.queue[1:]
	return event, true
}

func (fs *FillStream) Start(ctx context.Context) error {
	fs.client.Start()
	return nil
}

func (fs *FillStream) Stop() error {
	fs.client.Stop()
	return nil
}

func formatOrderID(id int64) string {
	if id == 0 {
		return ""
	}
	return decimal.NewFromInt(id).String()
}

var _ core.FillEventStream = (*FillStream)(nil)
