package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

const (
	localReadTimeout  = 30 * time.Second
	localWriteTimeout = 10 * time.Second
	localPingInterval = 15 * time.Second
	deltaBufferSize   = 256
	eventBufferSize   = 64
)

// wireLevel/wireDelta/wireAccountEvent describe the local venue's WS
// message shapes. Prices and sizes travel as strings so they decode
// exactly into decimal.Decimal.
type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wireDelta struct {
	Type          string      `json:"type"`
	MarketID      string      `json:"market_id"`
	Bids          []wireLevel `json:"bids"`
	Asks          []wireLevel `json:"asks"`
	UpdateID      uint64      `json:"update_id"`
	LastUpdateID  uint64      `json:"last_update_id"`
}

type wireTrackedOrder struct {
	OrderID   string `json:"order_id"`
	MarketID  string `json:"market_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Remaining string `json:"remaining"`
}

type wireFill struct {
	OrderID   string `json:"order_id"`
	MarketID  string `json:"market_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Remaining string `json:"remaining"`
}

type wireAccountEvent struct {
	Type    string             `json:"type"`
	Places  []wireTrackedOrder `json:"places"`
	Fills   []wireFill         `json:"fills"`
	Cancels []string           `json:"cancels"`
}

// LocalStream is the WebSocket transport shared by the orderbook maintainer
// and the account stream: one connection per stream kind, with
// fixed-interval reconnect via backoff.
type LocalStream struct {
	url       string
	streamKind string // "book" or "account"
	marketID  string
	accountID string

	connMu sync.Mutex
	conn   *websocket.Conn

	deltaCh   chan types.OrderbookDelta
	accountCh chan types.AccountEvent

	logger *slog.Logger
}

// NewBookStream opens a stream of orderbook deltas for one market.
func NewBookStream(wsURL, marketID string, logger *slog.Logger) *LocalStream {
	return &LocalStream{
		url:        wsURL,
		streamKind: "book",
		marketID:   marketID,
		deltaCh:    make(chan types.OrderbookDelta, deltaBufferSize),
		logger:     logger.With("component", "venue_ws_book"),
	}
}

// NewAccountStream opens a stream of account updates for one account.
func NewAccountStream(wsURL, accountID string, logger *slog.Logger) *LocalStream {
	return &LocalStream{
		url:        wsURL,
		streamKind: "account",
		accountID:  accountID,
		accountCh:  make(chan types.AccountEvent, eventBufferSize),
		logger:     logger.With("component", "venue_ws_account"),
	}
}

// Deltas returns the orderbook delta channel (book streams only).
func (s *LocalStream) Deltas() <-chan types.OrderbookDelta { return s.deltaCh }

// AccountEvents returns the account event channel (account streams only).
func (s *LocalStream) AccountEvents() <-chan types.AccountEvent { return s.accountCh }

// Run connects and maintains the connection until ctx is cancelled,
// reconnecting after a fixed 3s delay (not exponential — the local venue
// is expected to recover fast).
func (s *LocalStream) Run(ctx context.Context) error {
	reconnectDelay := backoff.NewConstantBackOff(3 * time.Second)

	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("local venue stream disconnected, reconnecting", "error", err, "delay", 3*time.Second)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay.NextBackOff()):
		}
	}
}

func (s *LocalStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.sendSubscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("local venue stream connected", "kind", s.streamKind)

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(localReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.dispatch(msg)
	}
}

func (s *LocalStream) sendSubscribe() error {
	switch s.streamKind {
	case "book":
		return s.writeJSON(map[string]any{
			"operation": "subscribe",
			"channel":   "book",
			"market_id": s.marketID,
		})
	default:
		return s.writeJSON(map[string]any{
			"operation":  "subscribe",
			"channel":    "account",
			"account_id": s.accountID,
		})
	}
}

func (s *LocalStream) dispatch(data []byte) {
	switch s.streamKind {
	case "book":
		var w wireDelta
		if err := json.Unmarshal(data, &w); err != nil {
			s.logger.Debug("ignoring malformed book message", "error", err)
			return
		}
		delta := types.OrderbookDelta{
			MarketID: s.marketID,
			Bids:     toLevels(w.Bids),
			Asks:     toLevels(w.Asks),
			UpdateID: w.UpdateID,
		}
		select {
		case s.deltaCh <- delta:
		default:
			s.logger.Warn("book delta channel full, dropping")
		}
	default:
		var w wireAccountEvent
		if err := json.Unmarshal(data, &w); err != nil {
			s.logger.Debug("ignoring malformed account message", "error", err)
			return
		}
		evt := types.AccountEvent{
			Places:  toTrackedOrders(w.Places),
			Fills:   toFills(w.Fills),
			Cancels: w.Cancels,
		}
		select {
		case s.accountCh <- evt:
		default:
			s.logger.Warn("account event channel full, dropping")
		}
	}
}

func (s *LocalStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(localPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *LocalStream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(localWriteTimeout))
	return s.conn.WriteJSON(v)
}

func (s *LocalStream) writeMessage(msgType int, data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(localWriteTimeout))
	return s.conn.WriteMessage(msgType, data)
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func toLevels(ws []wireLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(ws))
	for _, w := range ws {
		out = append(out, types.PriceLevel{Price: mustDecimal(w.Price), Size: mustDecimal(w.Size)})
	}
	return out
}

func toTrackedOrders(ws []wireTrackedOrder) []types.TrackedOrder {
	out := make([]types.TrackedOrder, 0, len(ws))
	for _, w := range ws {
		out = append(out, types.TrackedOrder{
			CachedOrder: types.CachedOrder{
				OrderID: w.OrderID,
				Side:    types.Side(w.Side),
				Price:   mustDecimal(w.Price),
				Size:    mustDecimal(w.Size),
			},
			MarketID:  w.MarketID,
			Remaining: mustDecimal(w.Remaining),
		})
	}
	return out
}

func toFills(ws []wireFill) []types.AccountFill {
	out := make([]types.AccountFill, 0, len(ws))
	for _, w := range ws {
		out = append(out, types.AccountFill{
			OrderID:   w.OrderID,
			MarketID:  w.MarketID,
			Side:      types.Side(w.Side),
			Price:     mustDecimal(w.Price),
			Quantity:  mustDecimal(w.Quantity),
			Remaining: mustDecimal(w.Remaining),
		})
	}
	return out
}
