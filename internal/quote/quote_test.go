package quote

import (
	"testing"

	"github.com/shopspring/decimal"

	"perpmm/internal/config"
	"perpmm/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func marketParams() types.MarketParams {
	return types.MarketParams{MarketID: "BTC", Symbol: "BTC", Tick: dec("0.01"), Lot: dec("0.001")}
}

func normalCtx(fair decimal.Decimal) types.QuotingContext {
	return types.QuotingContext{
		FairPrice:    fair,
		Position:     types.PositionState{SizeBase: decimal.Zero},
		AllowedSides: map[types.Side]bool{types.Bid: true, types.Ask: true},
	}
}

func TestQuotesNormalModeBothSides(t *testing.T) {
	t.Parallel()
	strategy := config.Defaults()
	strategy.SpreadBps = 10
	strategy.OrderSizeUSD = 100
	q := New(marketParams(), strategy)

	quotes := q.Quotes(normalCtx(dec("100000")), BBO{})
	if len(quotes) != 2 {
		t.Fatalf("expected bid+ask, got %d", len(quotes))
	}
	for _, qt := range quotes {
		if qt.Side == types.Bid && qt.Price.GreaterThanOrEqual(dec("100000")) {
			t.Fatalf("bid should be below fair price: %s", qt.Price)
		}
		if qt.Side == types.Ask && qt.Price.LessThanOrEqual(dec("100000")) {
			t.Fatalf("ask should be above fair price: %s", qt.Price)
		}
	}
}

func TestQuotesCloseModeOneSidedLong(t *testing.T) {
	t.Parallel()
	strategy := config.Defaults()
	q := New(marketParams(), strategy)

	ctx := types.QuotingContext{
		FairPrice:    dec("100000"),
		Position:     types.PositionState{SizeBase: dec("0.05"), IsLong: true, IsCloseMode: true},
		AllowedSides: map[types.Side]bool{types.Ask: true},
	}
	quotes := q.Quotes(ctx, BBO{})
	if len(quotes) != 1 || quotes[0].Side != types.Ask {
		t.Fatalf("expected single ask quote in close mode, got %+v", quotes)
	}
	if !quotes[0].Size.Equal(dec("0.05")) {
		t.Fatalf("close-mode size should equal |base_size|, got %s", quotes[0].Size)
	}
}

func TestQuotesZeroSizeProducesEmptySet(t *testing.T) {
	t.Parallel()
	strategy := config.Defaults()
	strategy.OrderSizeUSD = 0.0000001 // rounds to 0 after lot alignment
	q := New(marketParams(), strategy)

	quotes := q.Quotes(normalCtx(dec("100000")), BBO{})
	if len(quotes) != 0 {
		t.Fatalf("expected empty quote set for near-zero size, got %+v", quotes)
	}
}

func TestQuotesNoCrossClampBid(t *testing.T) {
	t.Parallel()
	strategy := config.Defaults()
	strategy.SpreadBps = 10 // bid_raw 99900 >= best_ask 99895, forces a cross
	q := New(marketParams(), strategy)

	bbo := BBO{BestBid: dec("99880"), BestAsk: dec("99895"), Known: true}
	quotes := q.Quotes(normalCtx(dec("100000")), bbo)

	for _, qt := range quotes {
		if qt.Side == types.Bid && qt.Price.GreaterThanOrEqual(bbo.BestAsk) {
			t.Fatalf("no-cross clamp failed: bid %s >= best_ask %s", qt.Price, bbo.BestAsk)
		}
		if qt.Side == types.Ask && qt.Price.LessThanOrEqual(bbo.BestBid) {
			t.Fatalf("no-cross clamp failed: ask %s <= best_bid %s", qt.Price, bbo.BestBid)
		}
	}
}

func TestQuotesDropsNonPositivePrice(t *testing.T) {
	t.Parallel()
	strategy := config.Defaults()
	strategy.SpreadBps = 1000000 // absurd spread drives bid below zero
	q := New(marketParams(), strategy)

	quotes := q.Quotes(normalCtx(dec("1")), BBO{})
	for _, qt := range quotes {
		if qt.Price.Sign() <= 0 {
			t.Fatalf("non-positive price should have been dropped: %+v", qt)
		}
	}
}

func TestQuotesAtMostOnePerSide(t *testing.T) {
	t.Parallel()
	strategy := config.Defaults()
	q := New(marketParams(), strategy)
	quotes := q.Quotes(normalCtx(dec("100000")), BBO{})

	seen := map[types.Side]int{}
	for _, qt := range quotes {
		seen[qt.Side]++
	}
	for side, n := range seen {
		if n > 1 {
			t.Fatalf("side %s produced %d quotes, want at most 1", side, n)
		}
	}
}
