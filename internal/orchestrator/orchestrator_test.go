package orchestrator

import (
	"testing"
	"time"

	"perpmm/internal/config"
	"perpmm/internal/feed"
	"perpmm/pkg/types"
)

func TestReferenceFeedPriorityBinancePrimary(t *testing.T) {
	t.Parallel()
	got := referenceFeedPriority(config.FeedBinance)
	want := []feed.Kind{feed.KindBinance, feed.KindCoinbase, feed.KindNone}
	assertFeedOrder(t, got, want)
}

func TestReferenceFeedPriorityCoinbasePrimary(t *testing.T) {
	t.Parallel()
	got := referenceFeedPriority(config.FeedCoinbase)
	want := []feed.Kind{feed.KindCoinbase, feed.KindBinance, feed.KindNone}
	assertFeedOrder(t, got, want)
}

func TestReferenceFeedPriorityNoneIsOnlyCandidate(t *testing.T) {
	t.Parallel()
	got := referenceFeedPriority(config.FeedNone)
	want := []feed.Kind{feed.KindNone}
	assertFeedOrder(t, got, want)
}

func assertFeedOrder(t *testing.T, got, want []feed.Kind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func newBareOrchestrator() *Orchestrator {
	return &Orchestrator{firstSeenMs: make(map[string]int64)}
}

func TestSetLiveOrdersStampsNewOrdersWithCurrentTime(t *testing.T) {
	t.Parallel()
	o := newBareOrchestrator()
	before := time.Now().UnixMilli()
	o.setLiveOrders([]types.CachedOrder{{OrderID: "o1"}})
	after := time.Now().UnixMilli()

	ts := o.firstSeen("o1")
	if ts < before || ts > after {
		t.Fatalf("expected first-seen timestamp in [%d,%d], got %d", before, after, ts)
	}
}

func TestSetLiveOrdersPreservesFirstSeenAcrossUpdates(t *testing.T) {
	t.Parallel()
	o := newBareOrchestrator()
	o.setLiveOrders([]types.CachedOrder{{OrderID: "o1"}})
	firstTs := o.firstSeen("o1")

	time.Sleep(5 * time.Millisecond)
	o.setLiveOrders([]types.CachedOrder{{OrderID: "o1"}, {OrderID: "o2"}})

	if ts := o.firstSeen("o1"); ts != firstTs {
		t.Fatalf("expected o1's first-seen timestamp to persist, got %d want %d", ts, firstTs)
	}
	if o.firstSeen("o2") < firstTs {
		t.Fatalf("expected o2's first-seen timestamp to be later than o1's")
	}
}

func TestSetLiveOrdersForgetsOrdersNoLongerPresent(t *testing.T) {
	t.Parallel()
	o := newBareOrchestrator()
	o.setLiveOrders([]types.CachedOrder{{OrderID: "o1"}})
	o.setLiveOrders(nil)

	if ts := o.firstSeen("o1"); ts != 0 {
		t.Fatalf("expected forgotten order to report zero first-seen, got %d", ts)
	}
}
