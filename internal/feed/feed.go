// Package feed implements the reference-feed component: an external
// ticker stream delivering best-bid/best-ask mid-price samples, with
// heartbeat-driven reconnect.
package feed

import (
	"context"

	"perpmm/pkg/types"
)

// Feed is the reference feed contract. Implementations own their own
// network subscription and reconnect state.
type Feed interface {
	// Run drives the feed's connection loop, reconnecting as needed, and
	// blocks until ctx is cancelled.
	Run(ctx context.Context) error
	// Close releases any held connection.
	Close() error
	// Latest returns the most recently received sample, if any.
	Latest() (types.MidPrice, bool)
	// OnPrice registers a callback invoked for every new sample. Must be
	// called before Run.
	OnPrice(cb func(types.MidPrice))
}

// Kind identifies which concrete Feed to build.
type Kind string

const (
	KindBinance  Kind = "binance"
	KindCoinbase Kind = "coinbase"
	KindNone     Kind = "none"
)
