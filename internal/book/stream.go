package book

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"perpmm/pkg/types"
)

const (
	staleCheckEvery = 10 * time.Second
	staleThreshold  = 60 * time.Second
)

// Snapshotter fetches the authoritative REST snapshot (handshake step 3).
type Snapshotter interface {
	OrderbookSnapshot(ctx context.Context, symbol string) (types.OrderbookSnapshot, error)
}

// DeltaSource is the delta subscription (handshake step 2); Run blocks
// until ctx is cancelled, Deltas() yields inbound updates.
type DeltaSource interface {
	Run(ctx context.Context) error
	Deltas() <-chan types.OrderbookDelta
}

// Stream drives one Book through repeated snapshot-plus-buffered-deltas
// handshakes: run on startup and again whenever the staleness check
// trips.
type Stream struct {
	symbol string
	book   *Book
	rest   Snapshotter
	newSrc func() DeltaSource
	logger *slog.Logger

	mu      sync.Mutex
	lastMsg time.Time
}

// NewStream builds a driver. newSrc constructs a fresh DeltaSource for
// each handshake attempt (a fresh WS connection per reconnect).
func NewStream(symbol string, b *Book, rest Snapshotter, newSrc func() DeltaSource, logger *slog.Logger) *Stream {
	return &Stream{
		symbol: symbol,
		book:   b,
		rest:   rest,
		newSrc: newSrc,
		logger: logger.With("component", "book_stream"),
	}
}

// Run repeatedly performs the handshake until ctx is cancelled, force-
// resyncing on staleness or on delta-source failure.
func (s *Stream) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.handshakeOnce(ctx); err != nil {
			s.logger.Warn("local book handshake ended, retrying", "error", err)
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

func (s *Stream) handshakeOnce(ctx context.Context) error {
	s.book.Reset()

	src := s.newSrc()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- src.Run(runCtx) }()

	s.touch()

	// Buffer deltas until a snapshot is loaded.
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case d, ok := <-src.Deltas():
				if !ok {
					return
				}
				s.touch()
				s.book.BufferDelta(d)
			}
		}
	}()

	snap, err := s.rest.OrderbookSnapshot(ctx, s.symbol)
	if err != nil {
		return err
	}
	s.book.LoadSnapshot(snap)

	staleTicker := time.NewTicker(staleCheckEvery)
	defer staleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-runErrCh:
			return err
		case <-staleTicker.C:
			if time.Since(s.lastTouch()) >= staleThreshold {
				return errStale
			}
		}
	}
}

func (s *Stream) touch() {
	s.mu.Lock()
	s.lastMsg = time.Now()
	s.mu.Unlock()
}

func (s *Stream) lastTouch() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMsg
}

type staleErr struct{}

func (staleErr) Error() string { return "local book stream stale, forcing resync" }

var errStale = staleErr{}
