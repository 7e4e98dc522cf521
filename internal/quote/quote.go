// Package quote implements the quoter: given a quoting context and the
// local book's BBO, produces tick/lot-aligned bid/ask quotes respecting
// no-cross and size policy. All arithmetic is exact decimal.
package quote

import (
	"github.com/shopspring/decimal"

	"perpmm/internal/config"
	"perpmm/pkg/decimalx"
	"perpmm/pkg/types"
)

// BBO is the local book's best bid/ask, if known.
type BBO struct {
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	Known   bool
}

// Quoter computes quotes for one market.
type Quoter struct {
	params   types.MarketParams
	strategy config.StrategyConfig
}

// New builds a Quoter bound to one market's tick/lot rules.
func New(params types.MarketParams, strategy config.StrategyConfig) *Quoter {
	return &Quoter{params: params, strategy: strategy}
}

// Quotes computes the desired bid/ask for the given context and BBO.
func (q *Quoter) Quotes(ctx types.QuotingContext, bbo BBO) []types.Quote {
	spreadBps := q.strategy.SpreadBps
	if ctx.Position.IsCloseMode {
		spreadBps = q.strategy.TakeProfitBps
	}
	spread := decimalx.BpsOf(ctx.FairPrice, spreadBps)

	size := q.size(ctx)
	if size.Sign() <= 0 {
		return nil
	}

	var out []types.Quote
	for _, side := range []types.Side{types.Bid, types.Ask} {
		if !ctx.Allows(side) {
			continue
		}
		price, ok := q.alignedPrice(side, ctx.FairPrice, spread, bbo)
		if !ok {
			continue
		}
		out = append(out, types.Quote{Side: side, Price: price, Size: size})
	}
	return out
}

// size implements step 2: close-mode size is the full reducing position;
// normal-mode size is order_size_usd / fair_price, both lot-aligned.
func (q *Quoter) size(ctx types.QuotingContext) decimal.Decimal {
	var raw decimal.Decimal
	if ctx.Position.IsCloseMode {
		raw = ctx.Position.SizeBase.Abs()
	} else {
		orderSizeUSD := decimal.NewFromFloat(q.strategy.OrderSizeUSD)
		if ctx.FairPrice.Sign() <= 0 {
			return decimal.Zero
		}
		raw = orderSizeUSD.Div(ctx.FairPrice)
	}
	return decimalx.FloorToStep(raw, q.params.Lot)
}

// alignedPrice implements step 3: raw offset, tick alignment, no-cross
// clamp, and the "price <= 0 is dropped" edge case.
func (q *Quoter) alignedPrice(side types.Side, fair, spread decimal.Decimal, bbo BBO) (decimal.Decimal, bool) {
	var price decimal.Decimal
	switch side {
	case types.Bid:
		raw := fair.Sub(spread)
		price = decimalx.FloorToStep(raw, q.params.Tick)
		if bbo.Known && price.GreaterThanOrEqual(bbo.BestAsk) {
			price = decimalx.FloorToStep(bbo.BestAsk.Sub(q.params.Tick), q.params.Tick)
		}
	case types.Ask:
		raw := fair.Add(spread)
		price = decimalx.CeilToStep(raw, q.params.Tick)
		if bbo.Known && price.LessThanOrEqual(bbo.BestBid) {
			price = decimalx.CeilToStep(bbo.BestBid.Add(q.params.Tick), q.params.Tick)
		}
	}
	if price.Sign() <= 0 {
		return decimal.Zero, false
	}
	return price, true
}
