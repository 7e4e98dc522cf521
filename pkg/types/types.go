// Package types defines the shared data model used across all packages of
// the market-making agent: price levels, quotes, tracked orders, and the
// quoting context handed from the position tracker to the quoter.
//
// Every price and size in this package is a github.com/shopspring/decimal
// value. Binary floating point is never used for quote computation — see
// the no-float-accumulation rule the agent is built around.
package types

import (
	"github.com/shopspring/decimal"
)

// Side is the direction of a quote or order.
type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// MidPrice is a timestamped price sample from either the reference feed or
// the local orderbook stream. Invariant: BestBid <= Mid <= BestAsk, all > 0.
type MidPrice struct {
	Mid         decimal.Decimal
	BestBid     decimal.Decimal
	BestAsk     decimal.Decimal
	TimestampMs int64
}

// Valid reports whether the sample satisfies the MidPrice invariant.
func (m MidPrice) Valid() bool {
	if m.Mid.Sign() <= 0 || m.BestBid.Sign() <= 0 || m.BestAsk.Sign() <= 0 {
		return false
	}
	return m.BestBid.LessThanOrEqual(m.Mid) && m.Mid.LessThanOrEqual(m.BestAsk)
}

// PriceLevel is one level of an orderbook side. A zero Size means "remove
// this level" when applied as a delta; it is never stored as a resting
// level in a book snapshot.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OffsetSample is one second's worth of (local_mid - ref_mid) observation
// feeding the fair-price estimator's circular buffer. At most one sample
// is recorded per wall-clock second.
type OffsetSample struct {
	Offset decimal.Decimal
	Second int64
}

// Quote is a single proposed resting order, already aligned to tick/lot.
type Quote struct {
	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// CachedOrder mirrors a live resting order on the local venue. Identity is
// OrderID; Side/Price/Size describe what is currently resting.
type CachedOrder struct {
	OrderID string
	Side    Side
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// Matches reports whether this cached order is an exact (side, price, size)
// match for q — the equality the Atomic Order Planner's diff is built on.
func (c CachedOrder) Matches(q Quote) bool {
	return c.Side == q.Side && c.Price.Equal(q.Price) && c.Size.Equal(q.Size)
}

// TrackedOrder is the Account Stream's richer view of a live order: a
// CachedOrder plus the market it belongs to and its remaining (unfilled)
// size. A TrackedOrder is deleted once Remaining <= 0.
type TrackedOrder struct {
	CachedOrder
	MarketID  string
	Remaining decimal.Decimal
}

// FillEvent is delivered to the position tracker exactly once per fill.
type FillEvent struct {
	Side      Side
	Size      decimal.Decimal
	Price     decimal.Decimal
	MarketID  string
	OrderID   string
	Remaining decimal.Decimal
}

// PositionState is the Position Tracker's snapshot of current exposure.
type PositionState struct {
	SizeBase    decimal.Decimal
	SizeUSD     decimal.Decimal
	IsLong      bool
	IsCloseMode bool
}

// QuotingContext is handed from the Position Tracker to the Quoter for a
// single quoting pass. AllowedSides is {Bid, Ask} in normal mode and
// restricted to the reducing side in close mode.
type QuotingContext struct {
	FairPrice    decimal.Decimal
	Position     PositionState
	AllowedSides map[Side]bool
}

// Allows reports whether side may be quoted in this context.
func (c QuotingContext) Allows(side Side) bool {
	return c.AllowedSides[side]
}

// MarketParams carries the tick/lot alignment rules and decimal precision
// for a single market, resolved once at startup from the venue's symbol
// metadata.
type MarketParams struct {
	MarketID      string
	Symbol        string
	Tick          decimal.Decimal
	Lot           decimal.Decimal
	PriceDecimals int32
	SizeDecimals  int32
}

// AtomicActionKind distinguishes the two action types an atomic submission
// may contain.
type AtomicActionKind string

const (
	ActionPlace  AtomicActionKind = "place"
	ActionCancel AtomicActionKind = "cancel"
)

// AtomicAction is one element of a bounded atomic submission: either a
// place or a cancel. Exactly one of Quote/CancelOrderID is meaningful,
// selected by Kind. The idempotency fingerprint is per-chunk, not
// per-action — see venue.Client.SubmitAtomic.
type AtomicAction struct {
	Kind          AtomicActionKind
	Quote         Quote  // set for ActionPlace
	CancelOrderID string // set for ActionCancel
}

// AtomicResult is the venue's per-action outcome from a submitted batch, in
// the same order as the submitted actions.
type AtomicResult struct {
	Success bool
	OrderID string // populated for successful place actions
	Err     string
}

// OrderbookSnapshot is a REST snapshot of one market's book, tagged with the
// server's update sequence number.
type OrderbookSnapshot struct {
	MarketID string
	Bids     []PriceLevel
	Asks     []PriceLevel
	UpdateID uint64
}

// OrderbookDelta is one incremental book update from the local venue's
// WebSocket feed. Sizes are absolute per-price snapshots, not increments;
// a size of 0 deletes the level.
type OrderbookDelta struct {
	MarketID string
	Bids     []PriceLevel
	Asks     []PriceLevel
	UpdateID uint64
}

// UserSnapshot is the authoritative REST view of a user's resting orders and
// per-market positions, used to seed/reseed local mirrors.
type UserSnapshot struct {
	AccountID string
	Orders    []TrackedOrder
	Positions map[string]PositionInfo // marketID -> position
}

// PositionInfo is the authoritative per-market position as reported by the
// venue's REST API.
type PositionInfo struct {
	MarketID string
	SizeBase decimal.Decimal
	IsLong   bool
}

// AccountEvent is the envelope for one incoming account-stream message,
// carrying up to three disjoint sections: new placements, fills, and
// cancels.
type AccountEvent struct {
	Places  []TrackedOrder
	Fills   []AccountFill
	Cancels []string // order IDs
}

// AccountFill is one fill line inside an AccountEvent.
type AccountFill struct {
	OrderID   string
	Side      Side
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Remaining decimal.Decimal
	MarketID  string
}
