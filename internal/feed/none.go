package feed

import (
	"context"
	"sync"

	"perpmm/pkg/types"
)

// noneFeed is the reference_feed=none variant: there is no external
// reference venue. The orchestrator drives it directly by calling
// SetLocalMid with the local orderbook's own mid on every local-book
// update, giving zero reference offset by construction.
type noneFeed struct {
	mu      sync.Mutex
	latest  types.MidPrice
	hasLast bool

	cbMu sync.Mutex
	cb   func(types.MidPrice)
}

// NewNone builds the no-reference-feed variant.
func NewNone() Feed {
	return &noneFeed{}
}

func (f *noneFeed) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *noneFeed) Close() error { return nil }

func (f *noneFeed) Latest() (types.MidPrice, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.hasLast
}

func (f *noneFeed) OnPrice(cb func(types.MidPrice)) {
	f.cbMu.Lock()
	f.cb = cb
	f.cbMu.Unlock()
}

// SetLocalMid feeds the local book's own mid through as the "reference"
// sample, so the fair-price estimator's offset is always zero.
func (f *noneFeed) SetLocalMid(mid types.MidPrice) {
	f.mu.Lock()
	f.latest = mid
	f.hasLast = true
	f.mu.Unlock()

	f.cbMu.Lock()
	cb := f.cb
	f.cbMu.Unlock()
	if cb != nil {
		cb(mid)
	}
}
