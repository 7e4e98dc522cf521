// Package orders implements the atomic order planner: the minimal
// cancel/place diff between desired quotes and live orders, submitted in
// bounded atomic batches.
package orders

import (
	"context"
	"fmt"
	"log/slog"

	"perpmm/pkg/types"
)

// Submitter submits one bounded chunk of atomic actions and returns
// per-action results in order.
type Submitter interface {
	SubmitAtomic(ctx context.Context, actions []types.AtomicAction) ([]types.AtomicResult, error)
}

// MaxAtomicActions bounds each submitted chunk.
const MaxAtomicActions = 4

// Planner computes and submits the cancel/place diff for one market.
type Planner struct {
	submitter Submitter
	logger    *slog.Logger
}

// New builds a Planner.
func New(submitter Submitter, logger *slog.Logger) *Planner {
	return &Planner{submitter: submitter, logger: logger.With("component", "order_planner")}
}

// diff computes the kept/places/cancels partition between live orders and
// the target quote set.
func diff(live []types.CachedOrder, target []types.Quote) (kept []types.CachedOrder, places []types.Quote, cancels []types.CachedOrder) {
	matchedLive := make(map[int]bool, len(live))

	for _, q := range target {
		matchedIdx := -1
		for i, o := range live {
			if matchedLive[i] {
				continue
			}
			if o.Matches(q) {
				matchedIdx = i
				break
			}
		}
		if matchedIdx >= 0 {
			matchedLive[matchedIdx] = true
			kept = append(kept, live[matchedIdx])
		} else {
			places = append(places, q)
		}
	}

	for i, o := range live {
		if !matchedLive[i] {
			cancels = append(cancels, o)
		}
	}
	return kept, places, cancels
}

// Reconcile diffs live orders against target quotes and submits the
// resulting cancels/places, returning the new live-order set (kept ∪
// placed). On submission failure it returns an error; the caller is
// expected to clear its cached orders and let the next periodic resync
// recover authoritative state.
func (p *Planner) Reconcile(ctx context.Context, live []types.CachedOrder, target []types.Quote, marketID string) ([]types.CachedOrder, error) {
	kept, places, cancels := diff(live, target)
	if len(places) == 0 && len(cancels) == 0 {
		return live, nil
	}

	actions := make([]types.AtomicAction, 0, len(cancels)+len(places))
	for _, c := range cancels {
		actions = append(actions, types.AtomicAction{Kind: types.ActionCancel, CancelOrderID: c.OrderID})
	}
	for _, pl := range places {
		actions = append(actions, types.AtomicAction{Kind: types.ActionPlace, Quote: pl})
	}

	placed, err := p.submitChunks(ctx, actions, places)
	if err != nil {
		return nil, err
	}

	result := make([]types.CachedOrder, 0, len(kept)+len(placed))
	result = append(result, kept...)
	result = append(result, placed...)
	return result, nil
}

// submitChunks submits actions in order, MaxAtomicActions at a time,
// strictly sequentially, and extracts newly placed orders by matching
// successful place results in order against the original place quotes.
func (p *Planner) submitChunks(ctx context.Context, actions []types.AtomicAction, places []types.Quote) ([]types.CachedOrder, error) {
	placeIdx := 0
	var placed []types.CachedOrder

	for start := 0; start < len(actions); start += MaxAtomicActions {
		end := start + MaxAtomicActions
		if end > len(actions) {
			end = len(actions)
		}
		chunk := actions[start:end]

		results, err := p.submitter.SubmitAtomic(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("submit atomic chunk [%d:%d): %w", start, end, err)
		}
		if len(results) != len(chunk) {
			return nil, fmt.Errorf("atomic chunk returned %d results for %d actions", len(results), len(chunk))
		}

		for i, a := range chunk {
			if a.Kind != types.ActionPlace {
				continue
			}
			res := results[i]
			q := places[placeIdx]
			placeIdx++
			if !res.Success {
				p.logger.Warn("place action failed", "side", q.Side, "price", q.Price.String(), "error", res.Err)
				continue
			}
			placed = append(placed, types.CachedOrder{OrderID: res.OrderID, Side: q.Side, Price: q.Price, Size: q.Size})
		}
	}
	return placed, nil
}

// CancelAll submits cancels for every live order, chunked the same way.
func (p *Planner) CancelAll(ctx context.Context, live []types.CachedOrder) error {
	if len(live) == 0 {
		return nil
	}
	actions := make([]types.AtomicAction, 0, len(live))
	for _, o := range live {
		actions = append(actions, types.AtomicAction{Kind: types.ActionCancel, CancelOrderID: o.OrderID})
	}
	_, err := p.submitChunks(ctx, actions, nil)
	return err
}
