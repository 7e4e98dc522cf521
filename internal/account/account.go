// Package account implements the account stream: ingests placement,
// fill, and cancel events, maintains a mirror of open orders, and
// delivers exactly-once fill callbacks.
package account

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"perpmm/pkg/types"
)

// Source is the account-update WebSocket subscription; Run blocks until
// ctx is cancelled.
type Source interface {
	Run(ctx context.Context) error
	AccountEvents() <-chan types.AccountEvent
}

// SnapshotFetcher re-fetches the authoritative user snapshot used to
// reseed tracked orders after a reconnect.
type SnapshotFetcher interface {
	UserSnapshot(ctx context.Context, accountID string) (types.UserSnapshot, error)
}

// Stream mirrors the local venue's view of one account's open orders and
// delivers fill events.
type Stream struct {
	accountID string
	fetcher   SnapshotFetcher
	newSrc    func() Source
	logger    *slog.Logger

	mu     sync.Mutex
	orders map[string]types.TrackedOrder // order_id -> order

	onFillMu sync.Mutex
	onFill   func(types.FillEvent)
}

// New builds a Stream. newSrc constructs a fresh Source per
// (re)connection attempt.
func New(accountID string, fetcher SnapshotFetcher, newSrc func() Source, logger *slog.Logger) *Stream {
	return &Stream{
		accountID: accountID,
		fetcher:   fetcher,
		newSrc:    newSrc,
		orders:    make(map[string]types.TrackedOrder),
		logger:    logger.With("component", "account_stream"),
	}
}

// SetOnFill registers the fill callback.
func (s *Stream) SetOnFill(cb func(types.FillEvent)) {
	s.onFillMu.Lock()
	s.onFill = cb
	s.onFillMu.Unlock()
}

// SyncOrders reseeds the tracked-order mirror from an authoritative
// snapshot, discarding whatever was previously tracked.
func (s *Stream) SyncOrders(snap types.UserSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[string]types.TrackedOrder, len(snap.Orders))
	for _, o := range snap.Orders {
		s.orders[o.OrderID] = o
	}
}

// OrdersForMarket returns the currently tracked orders for one market.
func (s *Stream) OrdersForMarket(marketID string) []types.TrackedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TrackedOrder, 0, len(s.orders))
	for _, o := range s.orders {
		if o.MarketID == marketID {
			out = append(out, o)
		}
	}
	return out
}

// Run drives the connect/reconnect loop: on every (re)connection, the
// user snapshot is re-fetched and tracked orders reseeded before
// processing further events.
func (s *Stream) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.connectOnce(ctx); err != nil {
			s.logger.Warn("account stream ended, reconnecting", "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

func (s *Stream) connectOnce(ctx context.Context) error {
	snap, err := s.fetcher.UserSnapshot(ctx, s.accountID)
	if err != nil {
		return err
	}
	s.SyncOrders(snap)

	src := s.newSrc()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(runCtx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case evt, ok := <-src.AccountEvents():
			if !ok {
				return nil
			}
			s.apply(evt)
		}
	}
}

// apply processes one account event's places/fills/cancels sections.
func (s *Stream) apply(evt types.AccountEvent) {
	s.mu.Lock()
	for _, o := range evt.Places {
		s.orders[o.OrderID] = o
	}
	for _, id := range evt.Cancels {
		delete(s.orders, id)
	}
	var fills []types.FillEvent
	for _, f := range evt.Fills {
		if f.Quantity.Sign() <= 0 {
			continue
		}
		fills = append(fills, types.FillEvent{
			Side:      f.Side,
			Size:      f.Quantity,
			Price:     f.Price,
			MarketID:  f.MarketID,
			OrderID:   f.OrderID,
			Remaining: f.Remaining,
		})
		if f.Remaining.Sign() <= 0 {
			delete(s.orders, f.OrderID)
		} else if existing, ok := s.orders[f.OrderID]; ok {
			existing.Size = f.Remaining
			existing.Remaining = f.Remaining
			s.orders[f.OrderID] = existing
		}
	}
	s.mu.Unlock()

	if len(fills) == 0 {
		return
	}
	s.onFillMu.Lock()
	cb := s.onFill
	s.onFillMu.Unlock()
	if cb == nil {
		return
	}
	for _, f := range fills {
		cb(f)
	}
}
