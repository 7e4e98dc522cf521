// Package book implements the local orderbook stream: a
// snapshot-plus-buffered-deltas handshake that produces a consistent
// best-bid/best-ask and mid for the local venue, maintained over a
// WebSocket delta feed.
//
// The handshake opens the delta subscription first, buffers everything,
// loads the REST snapshot, then replays only the deltas newer than the
// snapshot.
package book

import (
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

// MaxLevels bounds each side of the book.
const MaxLevels = 100

// Book maintains one market's local order book.
type Book struct {
	mu sync.Mutex

	initialized bool
	bids        map[string]decimal.Decimal
	asks        map[string]decimal.Decimal
	pending     []types.OrderbookDelta
	lastUpdate  uint64

	onPrice func(types.MidPrice)
	onBook  func(bids, asks []types.PriceLevel)
}

// New creates an empty book. Call Reset before opening a new delta
// subscription (step 1 of the handshake).
func New() *Book {
	return &Book{
		bids: make(map[string]decimal.Decimal),
		asks: make(map[string]decimal.Decimal),
	}
}

// OnPrice registers the price-stream callback.
func (b *Book) OnPrice(cb func(types.MidPrice)) { b.onPrice = cb }

// OnBook registers the depth-stream callback.
func (b *Book) OnBook(cb func(bids, asks []types.PriceLevel)) { b.onBook = cb }

// Reset clears all state, preparing for a fresh snapshot-plus-buffered-
// deltas handshake.
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *Book) resetLocked() {
	for k := range b.bids {
		delete(b.bids, k)
	}
	for k := range b.asks {
		delete(b.asks, k)
	}
	b.pending = b.pending[:0]
	b.initialized = false
	b.lastUpdate = 0
}

// BufferDelta queues an inbound delta before the snapshot has loaded
// (handshake step 2). Once initialized, it is a thin wrapper over
// ApplyDelta.
func (b *Book) BufferDelta(delta types.OrderbookDelta) {
	b.mu.Lock()
	if !b.initialized {
		b.pending = append(b.pending, delta)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.ApplyDelta(delta)
}

// LoadSnapshot installs a REST snapshot as authoritative (handshake steps
// 3-5): replaces book state, then replays buffered deltas whose
// update_id is greater than the snapshot's.
func (b *Book) LoadSnapshot(snap types.OrderbookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetLocked()
	replaceSideLocked(b.bids, snap.Bids)
	replaceSideLocked(b.asks, snap.Asks)
	b.initialized = true
	b.lastUpdate = snap.UpdateID

	pending := b.pending
	b.pending = nil
	sort.Slice(pending, func(i, j int) bool { return pending[i].UpdateID < pending[j].UpdateID })
	for _, d := range pending {
		if d.UpdateID <= b.lastUpdate {
			continue
		}
		b.applyDeltaLocked(d)
	}

	b.emitLocked()
}

// ApplyDelta applies one already-in-order delta (handshake step 6):
// stale deltas (update_id <= lastUpdate) are dropped.
func (b *Book) ApplyDelta(delta types.OrderbookDelta) {
	b.mu.Lock()
	if !b.initialized {
		b.pending = append(b.pending, delta)
		b.mu.Unlock()
		return
	}
	if delta.UpdateID <= b.lastUpdate {
		b.mu.Unlock()
		return
	}
	b.applyDeltaLocked(delta)
	b.emitLocked()
	b.mu.Unlock()
}

func (b *Book) applyDeltaLocked(delta types.OrderbookDelta) {
	updateSideLocked(b.bids, delta.Bids)
	updateSideLocked(b.asks, delta.Asks)
	b.lastUpdate = delta.UpdateID
}

// emitLocked fires the registered callbacks with the current top-of-book
// and trimmed depth. Must be called with b.mu held.
func (b *Book) emitLocked() {
	bids := sortedSideLocked(b.bids, true)
	asks := sortedSideLocked(b.asks, false)

	if b.onBook != nil {
		b.onBook(bids, asks)
	}
	if b.onPrice == nil || len(bids) == 0 || len(asks) == 0 {
		return
	}
	bestBid := bids[0].Price
	bestAsk := asks[0].Price
	mid := bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
	b.onPrice(types.MidPrice{Mid: mid, BestBid: bestBid, BestAsk: bestAsk})
}

// Mid returns the current mid price, if both sides are non-empty.
func (b *Book) Mid() (types.MidPrice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bids := sortedSideLocked(b.bids, true)
	asks := sortedSideLocked(b.asks, false)
	if len(bids) == 0 || len(asks) == 0 {
		return types.MidPrice{}, false
	}
	bestBid := bids[0].Price
	bestAsk := asks[0].Price
	mid := bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
	return types.MidPrice{Mid: mid, BestBid: bestBid, BestAsk: bestAsk}, true
}

// BBO returns (best_bid, best_ask) if both sides are non-empty.
func (b *Book) BBO() (decimal.Decimal, decimal.Decimal, bool) {
	mid, ok := b.Mid()
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	return mid.BestBid, mid.BestAsk, true
}

// Initialized reports whether a snapshot has been loaded.
func (b *Book) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

func replaceSideLocked(target map[string]decimal.Decimal, levels []types.PriceLevel) {
	for k := range target {
		delete(target, k)
	}
	for _, lvl := range levels {
		if lvl.Size.Sign() <= 0 {
			continue
		}
		target[lvl.Price.String()] = lvl.Size
	}
}

func updateSideLocked(target map[string]decimal.Decimal, levels []types.PriceLevel) {
	for _, lvl := range levels {
		key := lvl.Price.String()
		if lvl.Size.Sign() <= 0 {
			delete(target, key)
			continue
		}
		target[key] = lvl.Size
	}
}

type sortedLevel struct {
	price decimal.Decimal
	size  decimal.Decimal
	key   string
}

func sortedSideLocked(source map[string]decimal.Decimal, descending bool) []types.PriceLevel {
	if len(source) == 0 {
		return nil
	}
	levels := make([]sortedLevel, 0, len(source))
	for key, size := range source {
		price, err := decimal.NewFromString(key)
		if err != nil {
			continue
		}
		levels = append(levels, sortedLevel{price: price, size: size, key: key})
	}
	sort.Slice(levels, func(i, j int) bool {
		cmp := levels[i].price.Cmp(levels[j].price)
		if cmp == 0 {
			return strings.Compare(levels[i].key, levels[j].key) < 0
		}
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})

	limit := len(levels)
	if limit > MaxLevels {
		limit = MaxLevels
	}
	out := make([]types.PriceLevel, limit)
	for i := 0; i < limit; i++ {
		out[i] = types.PriceLevel{Price: levels[i].price, Size: levels[i].size}
	}
	return out
}
