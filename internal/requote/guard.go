// Package requote implements the re-quote guard: a pure filter that
// suppresses order replacement when the live order is fresh enough or
// close enough to the proposed price.
package requote

import (
	"time"

	"github.com/shopspring/decimal"

	"perpmm/pkg/decimalx"
	"perpmm/pkg/types"
)

// LiveOrder is a resting order plus when it was first seen live.
type LiveOrder struct {
	types.CachedOrder
	FirstSeenMs int64
}

// Params carries the two thresholds the guard compares against.
type Params struct {
	MinOrderAgeMs       int64
	RequoteThresholdBps int
}

// Filter checks each proposed quote against the live order on the same
// side, if any: if that order is either fresher than MinOrderAgeMs or
// within RequoteThresholdBps of the proposed price, its price/size
// replace the proposal (a "keep").
func Filter(newQuotes []types.Quote, liveOrders []LiveOrder, now time.Time, p Params) []types.Quote {
	bySide := make(map[types.Side]LiveOrder, len(liveOrders))
	for _, o := range liveOrders {
		bySide[o.Side] = o
	}

	nowMs := now.UnixMilli()
	out := make([]types.Quote, len(newQuotes))
	for i, q := range newQuotes {
		live, ok := bySide[q.Side]
		if !ok {
			out[i] = q
			continue
		}
		ageMs := nowMs - live.FirstSeenMs
		diffBps := decimalx.DiffBps(live.Price, q.Price)
		threshold := decimal.NewFromInt(int64(p.RequoteThresholdBps))

		if ageMs < p.MinOrderAgeMs || diffBps.LessThanOrEqual(threshold) {
			out[i] = types.Quote{Side: live.Side, Price: live.Price, Size: live.Size}
			continue
		}
		out[i] = q
	}
	return out
}
