package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"perpmm/pkg/types"
)

const (
	pingInterval    = 30 * time.Second
	pongTimeout     = 10 * time.Second
	staleThreshold  = 60 * time.Second
	staleCheckEvery = 10 * time.Second
	reconnectDelay  = 3 * time.Second
)

// parseFunc turns one raw WS message into a MidPrice sample. It returns
// ok=false for messages that aren't price ticks (control frames,
// subscription acks) — these are silently dropped, never fatal.
type parseFunc func(data []byte) (types.MidPrice, bool)

// wsFeed is the shared heartbeat/reconnect/staleness machinery behind the
// binance and coinbase reference feeds.
type wsFeed struct {
	name      string
	url       string
	subscribe func(conn *websocket.Conn) error
	parse     parseFunc

	connMu sync.Mutex
	conn   *websocket.Conn

	mu      sync.Mutex
	latest  types.MidPrice
	hasLast bool
	lastMsg time.Time

	cbMu sync.Mutex
	cb   func(types.MidPrice)

	logger *slog.Logger
}

func newWSFeed(name, url string, subscribe func(conn *websocket.Conn) error, parse parseFunc, logger *slog.Logger) *wsFeed {
	return &wsFeed{
		name:      name,
		url:       url,
		subscribe: subscribe,
		parse:     parse,
		logger:    logger.With("component", "feed_"+name),
	}
}

func (f *wsFeed) OnPrice(cb func(types.MidPrice)) {
	f.cbMu.Lock()
	f.cb = cb
	f.cbMu.Unlock()
}

func (f *wsFeed) Latest() (types.MidPrice, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.hasLast
}

func (f *wsFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *wsFeed) Run(ctx context.Context) error {
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("reference feed disconnected, reconnecting", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *wsFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.mu.Lock()
	f.lastMsg = time.Now()
	f.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		f.mu.Lock()
		f.lastMsg = time.Now()
		f.mu.Unlock()
		return nil
	})

	if f.subscribe != nil {
		if err := f.subscribe(conn); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	f.logger.Info("reference feed connected")

	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	staleErrCh := make(chan error, 1)
	go f.heartbeatLoop(heartbeatCtx, conn, staleErrCh)

	readErrCh := make(chan error, 1)
	go f.readLoop(heartbeatCtx, conn, readErrCh)

	select {
	case err := <-staleErrCh:
		return err
	case err := <-readErrCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *wsFeed) readLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			errCh <- fmt.Errorf("read: %w", err)
			return
		}

		f.mu.Lock()
		f.lastMsg = time.Now()
		f.mu.Unlock()

		sample, ok := f.parse(msg)
		if !ok {
			continue
		}
		sample.TimestampMs = time.Now().UnixMilli()
		if !sample.Valid() {
			continue
		}

		f.mu.Lock()
		f.latest = sample
		f.hasLast = true
		f.mu.Unlock()

		f.cbMu.Lock()
		cb := f.cb
		f.cbMu.Unlock()
		if cb != nil {
			cb(sample)
		}
	}
}

// heartbeatLoop sends a ping every pingInterval and independently checks
// for staleness every staleCheckEvery; either condition forces a
// reconnect.
func (f *wsFeed) heartbeatLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()
	staleTicker := time.NewTicker(staleCheckEvery)
	defer staleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(pongTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				errCh <- fmt.Errorf("ping: %w", err)
				return
			}
		case <-staleTicker.C:
			f.mu.Lock()
			since := time.Since(f.lastMsg)
			f.mu.Unlock()
			if since >= staleThreshold {
				errCh <- fmt.Errorf("no message for %s, forcing reconnect", since)
				return
			}
		}
	}
}
