package venue

import "testing"

func TestToLevelsZeroesUnparsable(t *testing.T) {
	t.Parallel()
	levels := toLevels([]wireLevel{{Price: "100.5", Size: "2"}, {Price: "bogus", Size: "1"}})
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels (bad ones zero out, not drop), got %d", len(levels))
	}
	if !levels[1].Price.IsZero() {
		t.Fatalf("expected unparsable price to decode as zero, got %s", levels[1].Price)
	}
}

func TestToTrackedOrders(t *testing.T) {
	t.Parallel()
	got := toTrackedOrders([]wireTrackedOrder{
		{OrderID: "o1", MarketID: "BTC", Side: "bid", Price: "100", Size: "1", Remaining: "0.5"},
	})
	if len(got) != 1 {
		t.Fatalf("expected 1 tracked order, got %d", len(got))
	}
	if got[0].OrderID != "o1" || got[0].MarketID != "BTC" {
		t.Fatalf("unexpected tracked order: %+v", got[0])
	}
	if !got[0].Remaining.Equal(mustDecimal("0.5")) {
		t.Fatalf("remaining = %s, want 0.5", got[0].Remaining)
	}
}

func TestToFills(t *testing.T) {
	t.Parallel()
	got := toFills([]wireFill{
		{OrderID: "o1", MarketID: "BTC", Side: "ask", Price: "101", Quantity: "0.3", Remaining: "0.2"},
	})
	if len(got) != 1 || got[0].OrderID != "o1" {
		t.Fatalf("unexpected fills: %+v", got)
	}
}
