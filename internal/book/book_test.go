package book

import (
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

func lvl(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: dec(price), Size: dec(size)}
}

func TestBufferThenSnapshotReplaysNewerDeltas(t *testing.T) {
	t.Parallel()
	b := New()

	// Deltas arrive before the snapshot loads; all buffered.
	b.BufferDelta(types.OrderbookDelta{UpdateID: 5, Bids: []types.PriceLevel{lvl("99", "1")}})
	b.BufferDelta(types.OrderbookDelta{UpdateID: 10, Bids: []types.PriceLevel{lvl("100", "2")}})

	b.LoadSnapshot(types.OrderbookSnapshot{
		UpdateID: 7,
		Bids:     []types.PriceLevel{lvl("98", "3")},
		Asks:     []types.PriceLevel{lvl("101", "3")},
	})

	mid, ok := b.Mid()
	if !ok {
		t.Fatal("expected mid once both sides populated")
	}
	// update_id=5 <= snapshot's 7, dropped; update_id=10 > 7, replayed.
	if !mid.BestBid.Equal(dec("100")) {
		t.Fatalf("BestBid = %s, want 100 (delta 10 replayed, delta 5 dropped)", mid.BestBid)
	}
}

func TestApplyDeltaDropsStale(t *testing.T) {
	t.Parallel()
	b := New()
	b.LoadSnapshot(types.OrderbookSnapshot{
		UpdateID: 10,
		Bids:     []types.PriceLevel{lvl("100", "1")},
		Asks:     []types.PriceLevel{lvl("101", "1")},
	})

	b.ApplyDelta(types.OrderbookDelta{UpdateID: 10, Bids: []types.PriceLevel{lvl("105", "1")}})
	mid, _ := b.Mid()
	if !mid.BestBid.Equal(dec("100")) {
		t.Fatalf("stale delta (update_id == lastUpdate) should be dropped, got BestBid=%s", mid.BestBid)
	}

	b.ApplyDelta(types.OrderbookDelta{UpdateID: 11, Bids: []types.PriceLevel{lvl("105", "1")}})
	mid, _ = b.Mid()
	if !mid.BestBid.Equal(dec("105")) {
		t.Fatalf("fresh delta should apply, got BestBid=%s", mid.BestBid)
	}
}

func TestZeroSizeDeletesLevel(t *testing.T) {
	t.Parallel()
	b := New()
	b.LoadSnapshot(types.OrderbookSnapshot{
		UpdateID: 1,
		Bids:     []types.PriceLevel{lvl("100", "1"), lvl("99", "1")},
		Asks:     []types.PriceLevel{lvl("101", "1")},
	})
	b.ApplyDelta(types.OrderbookDelta{UpdateID: 2, Bids: []types.PriceLevel{lvl("100", "0")}})

	mid, ok := b.Mid()
	if !ok {
		t.Fatal("expected mid")
	}
	if !mid.BestBid.Equal(dec("99")) {
		t.Fatalf("BestBid = %s, want 99 after 100 deleted", mid.BestBid)
	}
}

func TestMidRequiresBothSidesNonEmpty(t *testing.T) {
	t.Parallel()
	b := New()
	b.LoadSnapshot(types.OrderbookSnapshot{UpdateID: 1, Bids: []types.PriceLevel{lvl("100", "1")}})
	if _, ok := b.Mid(); ok {
		t.Fatal("expected no mid with empty ask side")
	}
}

func TestDepthTrimToMaxLevels(t *testing.T) {
	t.Parallel()
	b := New()
	bids := make([]types.PriceLevel, 0, MaxLevels+20)
	for i := 0; i < MaxLevels+20; i++ {
		bids = append(bids, lvl(decimal.NewFromInt(int64(200-i)).String(), "1"))
	}
	b.LoadSnapshot(types.OrderbookSnapshot{
		UpdateID: 1,
		Bids:     bids,
		Asks:     []types.PriceLevel{lvl("300", "1")},
	})

	var seen []types.PriceLevel
	b.OnBook(func(bidsOut, asksOut []types.PriceLevel) { seen = bidsOut })
	b.ApplyDelta(types.OrderbookDelta{UpdateID: 2, Asks: []types.PriceLevel{lvl("301", "1")}})
	if len(seen) != MaxLevels {
		t.Fatalf("depth = %d, want %d", len(seen), MaxLevels)
	}
}
