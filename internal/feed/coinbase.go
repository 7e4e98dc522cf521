package feed

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

type cbSubscribeMsg struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type cbTickerMsg struct {
	Type    string `json:"type"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
	Price   string `json:"price"`
}

// NewCoinbase builds a reference feed reading Coinbase Exchange's ticker
// channel for the given base symbol (e.g. "BTC" -> BTC-USD).
func NewCoinbase(wsURL, symbol string, logger *slog.Logger) Feed {
	product := strings.ToUpper(symbol) + "-USD"

	subscribe := func(conn *websocket.Conn) error {
		msg := cbSubscribeMsg{Type: "subscribe", ProductIDs: []string{product}, Channels: []string{"ticker"}}
		return conn.WriteJSON(msg)
	}

	parse := func(data []byte) (types.MidPrice, bool) {
		var m cbTickerMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return types.MidPrice{}, false
		}
		if m.Type != "ticker" || m.BestBid == "" || m.BestAsk == "" {
			return types.MidPrice{}, false
		}
		bid, err1 := decimal.NewFromString(m.BestBid)
		ask, err2 := decimal.NewFromString(m.BestAsk)
		if err1 != nil || err2 != nil {
			return types.MidPrice{}, false
		}
		mid := bid.Add(ask).Div(decimal.NewFromInt(2))
		return types.MidPrice{Mid: mid, BestBid: bid, BestAsk: ask}, true
	}

	return newWSFeed("coinbase", wsURL, subscribe, parse, logger)
}
