package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSubmitter struct {
	calls   [][]types.AtomicAction
	nextID  int
	failOn  int // chunk index to fail, -1 = never
}

func (f *fakeSubmitter) SubmitAtomic(ctx context.Context, actions []types.AtomicAction) ([]types.AtomicResult, error) {
	idx := len(f.calls)
	f.calls = append(f.calls, actions)
	if f.failOn == idx {
		return nil, errors.New("submit failed")
	}
	results := make([]types.AtomicResult, len(actions))
	for i, a := range actions {
		if a.Kind == types.ActionPlace {
			f.nextID++
			results[i] = types.AtomicResult{Success: true, OrderID: fmt.Sprintf("new-%d", f.nextID)}
		} else {
			results[i] = types.AtomicResult{Success: true}
		}
	}
	return results, nil
}

func TestDiffNoChangeReturnsSameSet(t *testing.T) {
	t.Parallel()
	live := []types.CachedOrder{{OrderID: "o1", Side: types.Bid, Price: dec("100"), Size: dec("1")}}
	target := []types.Quote{{Side: types.Bid, Price: dec("100"), Size: dec("1")}}

	sub := &fakeSubmitter{failOn: -1}
	p := New(sub, discardLogger())
	result, err := p.Reconcile(context.Background(), live, target, "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.calls) != 0 {
		t.Fatalf("expected zero atomic submissions for a no-op diff, got %d", len(sub.calls))
	}
	if len(result) != 1 || result[0].OrderID != "o1" {
		t.Fatalf("expected unchanged live set, got %+v", result)
	}
}

func TestReconcilePlacesNewAndCancelsStale(t *testing.T) {
	t.Parallel()
	live := []types.CachedOrder{{OrderID: "stale", Side: types.Bid, Price: dec("90"), Size: dec("1")}}
	target := []types.Quote{{Side: types.Bid, Price: dec("100"), Size: dec("1")}}

	sub := &fakeSubmitter{failOn: -1}
	p := New(sub, discardLogger())
	result, err := p.Reconcile(context.Background(), live, target, "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 || result[0].Price.String() != "100" {
		t.Fatalf("expected new placed order at 100, got %+v", result)
	}

	// cancels-first ordering within the single chunk.
	if len(sub.calls) != 1 {
		t.Fatalf("expected single chunk, got %d", len(sub.calls))
	}
	chunk := sub.calls[0]
	if chunk[0].Kind != types.ActionCancel || chunk[1].Kind != types.ActionPlace {
		t.Fatalf("expected cancel before place in chunk: %+v", chunk)
	}
}

func TestRoundTripPlacementGrowsByExactlyP(t *testing.T) {
	t.Parallel()
	var target []types.Quote
	for i := 0; i < 6; i++ {
		target = append(target, types.Quote{Side: types.Bid, Price: dec(fmt.Sprintf("%d", 100+i)), Size: dec("1")})
	}
	sub := &fakeSubmitter{failOn: -1}
	p := New(sub, discardLogger())
	result, err := p.Reconcile(context.Background(), nil, target, "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 6 {
		t.Fatalf("expected 6 placed orders, got %d", len(result))
	}
	seen := map[string]bool{}
	for _, o := range result {
		if seen[o.OrderID] {
			t.Fatalf("duplicate order id %s", o.OrderID)
		}
		seen[o.OrderID] = true
	}
	// 6 places chunked at MaxAtomicActions=4 -> 2 chunks.
	if len(sub.calls) != 2 {
		t.Fatalf("expected 2 chunks for 6 places, got %d", len(sub.calls))
	}
}

func TestSubmissionFailurePropagatesError(t *testing.T) {
	t.Parallel()
	live := []types.CachedOrder{{OrderID: "o1", Side: types.Bid, Price: dec("90"), Size: dec("1")}}
	target := []types.Quote{{Side: types.Bid, Price: dec("100"), Size: dec("1")}}

	sub := &fakeSubmitter{failOn: 0}
	p := New(sub, discardLogger())
	if _, err := p.Reconcile(context.Background(), live, target, "BTC"); err == nil {
		t.Fatal("expected error from failed submission")
	}
}

func TestCancelAllChunked(t *testing.T) {
	t.Parallel()
	var live []types.CachedOrder
	for i := 0; i < 5; i++ {
		live = append(live, types.CachedOrder{OrderID: fmt.Sprintf("o%d", i), Side: types.Bid, Price: dec("100"), Size: dec("1")})
	}
	sub := &fakeSubmitter{failOn: -1}
	p := New(sub, discardLogger())
	if err := p.CancelAll(context.Background(), live); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.calls) != 2 {
		t.Fatalf("expected 2 chunks for 5 cancels, got %d", len(sub.calls))
	}
}
