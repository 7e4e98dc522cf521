// Package position implements the position tracker: optimistic
// fill-driven updates reconciled periodically against the venue's
// authoritative per-market position.
package position

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"perpmm/pkg/types"
)

// driftThreshold is the maximum local/server position mismatch tolerated
// before snapping to the server value.
var driftThreshold = decimal.NewFromFloat(0.0001)

// RefreshFunc fetches the authoritative user snapshot. Multiple
// concurrent callers are deduplicated by Tracker via singleflight.
type RefreshFunc func(ctx context.Context) (types.UserSnapshot, error)

// Tracker is the position tracker for a single market.
type Tracker struct {
	marketID          string
	closeThresholdUSD decimal.Decimal
	logger            *slog.Logger

	mu       sync.Mutex
	baseSize decimal.Decimal

	group singleflight.Group

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Tracker for one market.
func New(marketID string, closeThresholdUSD decimal.Decimal, logger *slog.Logger) *Tracker {
	return &Tracker{
		marketID:          marketID,
		closeThresholdUSD: closeThresholdUSD,
		logger:            logger.With("component", "position_tracker", "market", marketID),
	}
}

// ApplyFill applies an optimistic fill delta. Price is informational and
// not otherwise used.
func (t *Tracker) ApplyFill(side types.Side, size decimal.Decimal, _ decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if side == types.Bid {
		t.baseSize = t.baseSize.Add(size)
	} else {
		t.baseSize = t.baseSize.Sub(size)
	}
}

// BaseSize returns the current base-asset position size.
func (t *Tracker) BaseSize() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseSize
}

// IsCloseMode reports whether |base_size * fair_price| >= close_threshold_usd.
func (t *Tracker) IsCloseMode(fairPrice decimal.Decimal) bool {
	t.mu.Lock()
	base := t.baseSize
	t.mu.Unlock()
	usd := base.Mul(fairPrice).Abs()
	return usd.GreaterThanOrEqual(t.closeThresholdUSD)
}

// QuotingContext builds the QuotingContext the Quoter consumes.
func (t *Tracker) QuotingContext(fairPrice decimal.Decimal) types.QuotingContext {
	t.mu.Lock()
	base := t.baseSize
	t.mu.Unlock()

	usd := base.Mul(fairPrice)
	isLong := base.Sign() > 0
	closeMode := usd.Abs().GreaterThanOrEqual(t.closeThresholdUSD)

	allowed := map[types.Side]bool{types.Bid: true, types.Ask: true}
	if closeMode {
		allowed = map[types.Side]bool{types.Bid: false, types.Ask: false}
		if isLong {
			allowed[types.Ask] = true
		} else {
			allowed[types.Bid] = true
		}
	}

	return types.QuotingContext{
		FairPrice: fairPrice,
		Position: types.PositionState{
			SizeBase:    base,
			SizeUSD:     usd,
			IsLong:      isLong,
			IsCloseMode: closeMode,
		},
		AllowedSides: allowed,
	}
}

// Refresh invokes refresh (deduplicated across concurrent callers) and
// reconciles base_size against the authoritative per-market position,
// snapping to the server value on drift beyond driftThreshold.
func (t *Tracker) Refresh(ctx context.Context, accountID string, refresh RefreshFunc) error {
	v, err, _ := t.group.Do(accountID, func() (interface{}, error) {
		return refresh(ctx)
	})
	if err != nil {
		return err
	}
	snap := v.(types.UserSnapshot)

	info, ok := snap.Positions[t.marketID]
	if !ok {
		return nil
	}
	serverSize := info.SizeBase
	if !info.IsLong {
		serverSize = serverSize.Neg()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	drift := t.baseSize.Sub(serverSize).Abs()
	if drift.GreaterThan(driftThreshold) {
		t.logger.Warn("position drift detected, snapping to server",
			"local", t.baseSize.String(), "server", serverSize.String(), "drift", drift.String())
		t.baseSize = serverSize
	}
	return nil
}

// StartSync runs the reconcile loop every interval until StopSync is
// called or ctx is cancelled.
func (t *Tracker) StartSync(ctx context.Context, interval time.Duration, accountID string, refresh RefreshFunc) {
	syncCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-syncCtx.Done():
				return
			case <-ticker.C:
				if err := t.Refresh(syncCtx, accountID, refresh); err != nil {
					t.logger.Warn("position refresh failed", "error", err)
				}
			}
		}
	}()
}

// StopSync stops the reconcile loop, if running.
func (t *Tracker) StopSync() {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
