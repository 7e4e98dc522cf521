package requote

import (
	"testing"
	"time"

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

func TestFilterKeepsFreshOrderRegardlessOfPrice(t *testing.T) {
	t.Parallel()
	now := time.UnixMilli(100000)
	live := []LiveOrder{{
		CachedOrder: types.CachedOrder{OrderID: "o1", Side: types.Bid, Price: dec("100"), Size: dec("1")},
		FirstSeenMs: now.UnixMilli() - 1000, // age 1s, below 10s min
	}}
	proposed := []types.Quote{{Side: types.Bid, Price: dec("200"), Size: dec("2")}}

	out := Filter(proposed, live, now, Params{MinOrderAgeMs: 10000, RequoteThresholdBps: 3})
	if !out[0].Price.Equal(dec("100")) || !out[0].Size.Equal(dec("1")) {
		t.Fatalf("expected kept live order, got %+v", out[0])
	}
}

func TestFilterKeepsCloseEnoughPrice(t *testing.T) {
	t.Parallel()
	now := time.UnixMilli(100000)
	live := []LiveOrder{{
		CachedOrder: types.CachedOrder{OrderID: "o1", Side: types.Bid, Price: dec("100.00"), Size: dec("1")},
		FirstSeenMs: now.UnixMilli() - 999999, // very old, age check doesn't apply
	}}
	proposed := []types.Quote{{Side: types.Bid, Price: dec("100.01"), Size: dec("2")}}

	out := Filter(proposed, live, now, Params{MinOrderAgeMs: 0, RequoteThresholdBps: 3})
	if !out[0].Price.Equal(dec("100.00")) {
		t.Fatalf("expected keep since diff is within threshold, got %+v", out[0])
	}
}

func TestFilterReplacesWhenOldAndFarAndAged(t *testing.T) {
	t.Parallel()
	now := time.UnixMilli(100000)
	live := []LiveOrder{{
		CachedOrder: types.CachedOrder{OrderID: "o1", Side: types.Bid, Price: dec("90"), Size: dec("1")},
		FirstSeenMs: now.UnixMilli() - 999999,
	}}
	proposed := []types.Quote{{Side: types.Bid, Price: dec("100"), Size: dec("2")}}

	out := Filter(proposed, live, now, Params{MinOrderAgeMs: 10000, RequoteThresholdBps: 3})
	if !out[0].Price.Equal(dec("100")) || !out[0].Size.Equal(dec("2")) {
		t.Fatalf("expected proposed quote to stand, got %+v", out[0])
	}
}

func TestFilterNoLiveOrderOnSidePassesThrough(t *testing.T) {
	t.Parallel()
	now := time.UnixMilli(100000)
	proposed := []types.Quote{{Side: types.Ask, Price: dec("101"), Size: dec("1")}}

	out := Filter(proposed, nil, now, Params{MinOrderAgeMs: 10000, RequoteThresholdBps: 3})
	if !out[0].Price.Equal(dec("101")) {
		t.Fatalf("expected proposed quote unchanged with no live order, got %+v", out[0])
	}
}
