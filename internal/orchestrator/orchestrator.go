// Package orchestrator wires the Reference Feed, Local Orderbook Stream,
// Fair-Price Estimator, Account Stream, Position Tracker, Quoter,
// Re-quote Guard, and Atomic Order Planner into the running agent. It
// owns the throttle, the warmup gate, feed failover, and the
// status/resync timers.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"perpmm/internal/account"
	"perpmm/internal/book"
	"perpmm/internal/config"
	"perpmm/internal/fairprice"
	"perpmm/internal/feed"
	"perpmm/internal/orders"
	"perpmm/internal/position"
	"perpmm/internal/quote"
	"perpmm/internal/requote"
	"perpmm/internal/venue"
	"perpmm/pkg/types"
)

const feedFailoverCheck = 5 * time.Second
const feedStaleAfter = 20 * time.Second

// Orchestrator runs one market's full quoting loop end to end.
type Orchestrator struct {
	cfg    *config.Config
	client *venue.Client
	signer *venue.Signer
	logger *slog.Logger

	params  types.MarketParams
	est     *fairprice.Estimator
	tracker *position.Tracker
	quoter  *quote.Quoter
	planner *orders.Planner

	localBook  *book.Book
	bookStream *book.Stream
	acctStream *account.Stream

	refFeeds     []feed.Kind
	refFeedIdx   int
	activeFeed   feed.Feed
	activeCancel context.CancelFunc

	th *throttle

	mu           sync.Mutex
	liveOrders   []types.CachedOrder
	firstSeenMs  map[string]int64
	lastRefTouch time.Time
	warmedUp     bool
}

// New builds an Orchestrator for the resolved market params. client also
// implements the Snapshotter/SnapshotFetcher/Submitter contracts used by
// the Local Orderbook Stream, Account Stream, and Atomic Order Planner.
func New(cfg *config.Config, client *venue.Client, signer *venue.Signer, params types.MarketParams, logger *slog.Logger) *Orchestrator {
	logger = logger.With("component", "orchestrator", "market", params.MarketID)

	o := &Orchestrator{
		cfg:         cfg,
		client:      client,
		signer:      signer,
		logger:      logger,
		params:      params,
		est:         fairprice.New(cfg.Strategy.FairPriceWindowMs, cfg.Strategy.WarmupSeconds),
		tracker:     position.New(params.MarketID, decimal.NewFromFloat(cfg.Strategy.CloseThresholdUSD), logger),
		quoter:      quote.New(params, cfg.Strategy),
		planner:     orders.New(client, logger),
		localBook:   book.New(),
		firstSeenMs: make(map[string]int64),
	}

	o.bookStream = book.NewStream(params.Symbol, o.localBook, client, func() book.DeltaSource {
		return venue.NewBookStream(cfg.API.LocalWSURL, params.MarketID, logger)
	}, logger)

	o.acctStream = account.New(signer.AccountID(), client, func() account.Source {
		return venue.NewAccountStream(cfg.API.LocalWSURL, signer.AccountID(), logger)
	}, logger)

	o.refFeeds = referenceFeedPriority(cfg.Strategy.ReferenceFeed)

	o.th = newThrottle(time.Duration(cfg.Strategy.UpdateThrottleMs)*time.Millisecond, o.executeUpdate)

	o.localBook.OnPrice(o.onLocalMid)
	o.acctStream.SetOnFill(o.onFill)

	return o
}

// referenceFeedPriority builds the fallback chain: primary, the other
// one, then "none".
func referenceFeedPriority(primary config.ReferenceFeedKind) []feed.Kind {
	switch primary {
	case config.FeedCoinbase:
		return []feed.Kind{feed.KindCoinbase, feed.KindBinance, feed.KindNone}
	case config.FeedNone:
		return []feed.Kind{feed.KindNone}
	default:
		return []feed.Kind{feed.KindBinance, feed.KindCoinbase, feed.KindNone}
	}
}

// Run performs the full startup sequence and blocks until ctx is
// cancelled, then runs the shutdown sequence.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.startReferenceFeed(ctx, 0); err != nil {
		return fmt.Errorf("start reference feed: %w", err)
	}

	snap, err := o.client.UserSnapshot(ctx, o.signer.AccountID())
	if err != nil {
		return fmt.Errorf("initial user snapshot: %w", err)
	}
	o.acctStream.SyncOrders(snap)
	o.seedLiveOrders(o.acctStream.OrdersForMarket(o.params.MarketID))

	o.tracker.StartSync(ctx, o.cfg.Strategy.PositionSyncInterval(), o.signer.AccountID(), o.refreshPosition)

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := o.bookStream.Run(ctx); err != nil && ctx.Err() == nil {
			o.logger.Error("local book stream exited", "error", err)
		}
	})
	wg.Go(func() {
		if err := o.acctStream.Run(ctx); err != nil && ctx.Err() == nil {
			o.logger.Error("account stream exited", "error", err)
		}
	})
	wg.Go(func() { o.statusLoop(ctx) })
	wg.Go(func() { o.orderResyncLoop(ctx) })
	if o.cfg.Strategy.EnableFeedFailover {
		wg.Go(func() { o.feedFailoverLoop(ctx) })
	}

	<-ctx.Done()
	o.shutdown()
	wg.Wait()
	return ctx.Err()
}

// seedLiveOrders installs the initial cached order set (startup step 5).
func (o *Orchestrator) seedLiveOrders(tracked []types.TrackedOrder) {
	live := make([]types.CachedOrder, 0, len(tracked))
	for _, t := range tracked {
		live = append(live, t.CachedOrder)
	}
	o.setLiveOrders(live)
}

// refreshPosition adapts the venue client into position.RefreshFunc.
func (o *Orchestrator) refreshPosition(ctx context.Context) (types.UserSnapshot, error) {
	return o.client.UserSnapshot(ctx, o.signer.AccountID())
}

// onLocalMid is the local book's price callback: it drives the
// none-reference-feed variant, feeds the fair-price estimator when a
// reference sample already exists, and triggers the throttle.
func (o *Orchestrator) onLocalMid(mid types.MidPrice) {
	if nf, ok := o.currentFeed().(interface{ SetLocalMid(types.MidPrice) }); ok {
		nf.SetLocalMid(mid)
		return
	}
	o.sampleAndTrigger()
}

// onReferenceMid is the reference feed's price callback.
func (o *Orchestrator) onReferenceMid(types.MidPrice) {
	o.mu.Lock()
	o.lastRefTouch = time.Now()
	o.mu.Unlock()
	o.sampleAndTrigger()
}

// sampleAndTrigger feeds one (local_mid, ref_mid) pair into the
// estimator, if both are currently known, and fires the throttle.
func (o *Orchestrator) sampleAndTrigger() {
	localMid, haveLocal := o.localBook.Mid()
	if !haveLocal {
		return
	}
	ref, haveRef := o.currentFeedLatest()
	if !haveRef {
		return
	}
	// Pair only when the reference sample was received within 1s. The none
	// feed echoes the local mid, which carries no receive timestamp, so it
	// always pairs.
	now := time.Now()
	if ref.TimestampMs == 0 || now.UnixMilli()-ref.TimestampMs < 1000 {
		o.est.AddSample(localMid.Mid, ref.Mid, now)
	}
	o.th.Trigger()
}

func (o *Orchestrator) currentFeed() feed.Feed {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeFeed
}

func (o *Orchestrator) currentFeedLatest() (types.MidPrice, bool) {
	f := o.currentFeed()
	if f == nil {
		return types.MidPrice{}, false
	}
	return f.Latest()
}

// executeUpdate is the throttled effectful update: build the quoting
// context, compute quotes, filter through the re-quote guard, reconcile.
func (o *Orchestrator) executeUpdate() {
	fairPrice, ok := o.est.FairPrice(o.refMidOrZero(), time.Now())
	if !ok {
		o.logWarmupProgress()
		return
	}
	if !o.warmedUp {
		o.warmedUp = true
		o.logger.Info("warmup complete, quoting enabled", "samples", o.est.SampleCount())
	}

	bbo := quote.BBO{}
	if bid, ask, known := o.localBook.BBO(); known {
		bbo = quote.BBO{BestBid: bid, BestAsk: ask, Known: true}
	}

	qctx := o.tracker.QuotingContext(fairPrice)
	proposed := o.quoter.Quotes(qctx, bbo)
	if len(proposed) == 0 {
		o.logger.Warn("quote produced empty set, skipping update")
		return
	}

	live := o.snapshotLiveOrders()
	now := time.Now()
	liveForGuard := make([]requote.LiveOrder, 0, len(live))
	for _, l := range live {
		liveForGuard = append(liveForGuard, requote.LiveOrder{CachedOrder: l, FirstSeenMs: o.firstSeen(l.OrderID)})
	}

	target := requote.Filter(proposed, liveForGuard, now, requote.Params{
		MinOrderAgeMs:       o.cfg.Strategy.MinOrderAgeMs,
		RequoteThresholdBps: o.cfg.Strategy.RequoteThresholdBps,
	})

	newLive, err := o.planner.Reconcile(context.Background(), live, target, o.params.MarketID)
	if err != nil {
		o.logger.Error("atomic reconcile failed, clearing cached orders", "error", err)
		o.setLiveOrders(nil)
		return
	}
	o.setLiveOrders(newLive)
}

func (o *Orchestrator) refMidOrZero() decimal.Decimal {
	mid, ok := o.currentFeedLatest()
	if !ok {
		return decimal.Zero
	}
	return mid.Mid
}

func (o *Orchestrator) logWarmupProgress() {
	o.logger.Info("warming up", "samples", o.est.SampleCount(), "min_samples", o.cfg.Strategy.WarmupSeconds)
}

// onFill applies a fill to the position tracker and, if it pushes the
// position into close mode, fires an immediate fire-and-forget
// cancel-all.
func (o *Orchestrator) onFill(f types.FillEvent) {
	if f.MarketID != o.params.MarketID {
		return
	}
	ref, haveRef := o.currentFeedLatest()
	fair := ref.Mid
	if !haveRef {
		fair, _ = o.est.FairPrice(decimal.Zero, time.Now())
	}
	wasCloseMode := fair.Sign() > 0 && o.tracker.IsCloseMode(fair)

	o.tracker.ApplyFill(f.Side, f.Size, f.Price)

	if fair.Sign() > 0 && !wasCloseMode && o.tracker.IsCloseMode(fair) {
		go func() {
			live := o.snapshotLiveOrders()
			if err := o.planner.CancelAll(context.Background(), live); err != nil {
				o.logger.Error("fill-driven cancel-all failed", "error", err)
				return
			}
			o.setLiveOrders(nil)
		}()
	}

	o.th.Trigger()
}

func (o *Orchestrator) snapshotLiveOrders() []types.CachedOrder {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.CachedOrder, len(o.liveOrders))
	copy(out, o.liveOrders)
	return out
}

// setLiveOrders installs the new cached order set and maintains the
// first-seen ledger the re-quote guard uses for order age: newly
// appearing order_ids are stamped with the current time, order_ids no
// longer present are forgotten.
func (o *Orchestrator) setLiveOrders(live []types.CachedOrder) {
	now := time.Now().UnixMilli()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.liveOrders = live
	seen := make(map[string]int64, len(live))
	for _, l := range live {
		if ts, ok := o.firstSeenMs[l.OrderID]; ok {
			seen[l.OrderID] = ts
		} else {
			seen[l.OrderID] = now
		}
	}
	o.firstSeenMs = seen
}

func (o *Orchestrator) firstSeen(orderID string) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.firstSeenMs[orderID]
}

// statusLoop logs status every status_interval_ms.
func (o *Orchestrator) statusLoop(ctx context.Context) {
	interval := time.Duration(o.cfg.Strategy.StatusIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mid, _ := o.localBook.Mid()
			o.logger.Info("status",
				"base_size", o.tracker.BaseSize().String(),
				"live_orders", len(o.snapshotLiveOrders()),
				"local_mid", mid.Mid.String(),
				"fair_samples", o.est.SampleCount(),
			)
		}
	}
}

// orderResyncLoop periodically re-fetches the authoritative user
// snapshot and reseeds the cached live-order set, the safety net for any
// drift the hot path's catch-and-continue error handling leaves behind.
func (o *Orchestrator) orderResyncLoop(ctx context.Context) {
	interval := time.Duration(o.cfg.Strategy.OrderSyncIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := o.client.UserSnapshot(ctx, o.signer.AccountID())
			if err != nil {
				o.logger.Warn("order resync failed", "error", err)
				continue
			}
			o.acctStream.SyncOrders(snap)
			o.seedLiveOrders(o.acctStream.OrdersForMarket(o.params.MarketID))
		}
	}
}

// feedFailoverLoop checks every feedFailoverCheck whether the active
// reference feed has gone silent for feedStaleAfter, and if so tears it
// down and brings up the next candidate.
func (o *Orchestrator) feedFailoverLoop(ctx context.Context) {
	ticker := time.NewTicker(feedFailoverCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			silentFor := time.Since(o.lastRefTouch)
			nextIdx := o.refFeedIdx + 1
			o.mu.Unlock()

			if silentFor < feedStaleAfter || nextIdx >= len(o.refFeeds) {
				continue
			}
			o.logger.Warn("reference feed stale, failing over", "silent_for", silentFor, "next", o.refFeeds[nextIdx])
			if err := o.startReferenceFeed(ctx, nextIdx); err != nil {
				o.logger.Error("feed failover failed", "error", err)
			}
		}
	}
}

// startReferenceFeed tears down any active feed and brings up the
// candidate at refFeeds[idx].
func (o *Orchestrator) startReferenceFeed(ctx context.Context, idx int) error {
	o.mu.Lock()
	if o.activeCancel != nil {
		o.activeCancel()
	}
	kind := o.refFeeds[idx]
	o.mu.Unlock()

	f, err := feed.New(kind, o.cfg.API.ReferenceWSURL, o.cfg.API.ReferenceWSURLCB, o.params.Symbol, o.logger)
	if err != nil {
		return err
	}
	f.OnPrice(o.onReferenceMid)

	feedCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.activeFeed = f
	o.activeCancel = cancel
	o.refFeedIdx = idx
	o.lastRefTouch = time.Now()
	o.mu.Unlock()

	go func() {
		if err := f.Run(feedCtx); err != nil && feedCtx.Err() == nil {
			o.logger.Warn("reference feed exited", "kind", kind, "error", err)
		}
	}()
	return nil
}

// shutdown cancels the throttle, stops sync loops, and attempts a
// best-effort cancel-all. Failures are logged and ignored.
func (o *Orchestrator) shutdown() {
	o.th.Stop()
	o.tracker.StopSync()

	o.mu.Lock()
	if o.activeCancel != nil {
		o.activeCancel()
	}
	o.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	live := o.snapshotLiveOrders()
	if err := o.planner.CancelAll(shutdownCtx, live); err != nil {
		o.logger.Error("shutdown cancel-all failed", "error", err)
		return
	}
	o.logger.Info("shutdown cancel-all complete")
}
