package feed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

// bookTickerMsg is Binance's @bookTicker stream payload: best bid/ask for
// one symbol, pushed on every change.
type bookTickerMsg struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
}

// NewBinance builds a reference feed reading Binance's best-bid/ask
// ticker stream for the given base symbol (e.g. "BTC" -> btcusdt).
func NewBinance(baseURL, symbol string, logger *slog.Logger) Feed {
	stream := strings.ToLower(symbol) + "usdt@bookTicker"
	url := fmt.Sprintf("%s/ws/%s", strings.TrimRight(baseURL, "/"), stream)

	parse := func(data []byte) (types.MidPrice, bool) {
		var m bookTickerMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return types.MidPrice{}, false
		}
		if m.BidPrice == "" || m.AskPrice == "" {
			return types.MidPrice{}, false
		}
		bid, err1 := decimal.NewFromString(m.BidPrice)
		ask, err2 := decimal.NewFromString(m.AskPrice)
		if err1 != nil || err2 != nil {
			return types.MidPrice{}, false
		}
		mid := bid.Add(ask).Div(decimal.NewFromInt(2))
		return types.MidPrice{Mid: mid, BestBid: bid, BestAsk: ask}, true
	}

	// Binance's single raw-stream endpoint (/ws/<stream>) pushes ticks
	// without a client subscribe frame; the stream name is already in the
	// URL path.
	return newWSFeed("binance", url, func(conn *websocket.Conn) error { return nil }, parse, logger)
}
