// Package fairprice implements the streaming fair-price estimator: it
// fuses paired (local_mid, ref_mid) samples into a windowed median offset,
// then reports fair_price = ref_mid + median_offset.
//
// Samples are held in a fixed-capacity circular buffer, at most one per
// wall-clock second, rather than an unbounded slice.
package fairprice

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

// DefaultCapacity is the smallest buffer capacity New allocates; New grows
// it to window_ms/1000 + 60 when that is larger.
const DefaultCapacity = 600

// Estimator computes the windowed median offset between the local venue's
// mid and an external reference mid, and derives fair_price from it.
// Safe for concurrent use: the orchestrator calls AddSample from both the
// reference-feed and local-book callbacks, and reads FairPrice/SampleCount
// from the throttled update and the status-logging timer, each on its own
// goroutine.
type Estimator struct {
	mu         sync.Mutex
	windowSec  int64
	minSamples int
	capacity   int

	buf      []types.OffsetSample // circular buffer
	next     int                  // next write index
	count    int                  // number of valid entries (<= capacity)
	lastSec  int64                // second of the most recently recorded sample
	hasLast  bool
}

// New creates an estimator with the given window and minimum sample count.
// capacity is clamped up to DefaultCapacity and to windowSec+slack if
// larger.
func New(windowMs int64, minSamples int) *Estimator {
	windowSec := windowMs / 1000
	capacity := DefaultCapacity
	if need := int(windowSec) + 60; need > capacity {
		capacity = need
	}
	return &Estimator{
		windowSec:  windowSec,
		minSamples: minSamples,
		capacity:   capacity,
		buf:        make([]types.OffsetSample, capacity),
	}
}

// AddSample records one offset sample. The caller (the orchestrator) must
// only invoke this when the two source timestamps are within 1000ms of
// each other; this method itself only enforces the at-most-one-per-second
// and strictly-increasing-second invariants.
func (e *Estimator) AddSample(localMid, refMid decimal.Decimal, now time.Time) {
	sec := now.Unix()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hasLast && sec <= e.lastSec {
		return
	}

	offset := localMid.Sub(refMid)
	e.buf[e.next] = types.OffsetSample{Offset: offset, Second: sec}
	e.next = (e.next + 1) % e.capacity
	if e.count < e.capacity {
		e.count++
	}
	e.lastSec = sec
	e.hasLast = true
}

// validSamplesLocked returns the buffered offsets in arbitrary order,
// restricted to those recorded with second > cutoffSec when requireCutoff
// is set. Must be called with e.mu held.
func (e *Estimator) validSamplesLocked(cutoffSec int64, requireCutoff bool) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, e.count)
	for i := 0; i < e.count; i++ {
		s := e.buf[i]
		if requireCutoff && s.Second <= cutoffSec {
			continue
		}
		out = append(out, s.Offset)
	}
	return out
}

// MedianOffset returns the median of offsets whose second is within the
// configured window of now, iff at least minSamples qualify. Returns
// (zero, false) otherwise.
func (e *Estimator) MedianOffset(now time.Time) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := now.Unix() - e.windowSec
	samples := e.validSamplesLocked(cutoff, true)
	if len(samples) < e.minSamples {
		return decimal.Zero, false
	}
	return median(samples), true
}

// RawMedianOffset ignores minSamples and returns (zero, false) only when
// the buffer is empty.
func (e *Estimator) RawMedianOffset() (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.count == 0 {
		return decimal.Zero, false
	}
	samples := e.validSamplesLocked(0, false)
	if len(samples) == 0 {
		return decimal.Zero, false
	}
	return median(samples), true
}

// FairPrice returns refMid + median offset, or (zero, false) if no valid
// windowed offset is available yet (warmup).
func (e *Estimator) FairPrice(refMid decimal.Decimal, now time.Time) (decimal.Decimal, bool) {
	offset, ok := e.MedianOffset(now)
	if !ok {
		return decimal.Zero, false
	}
	return refMid.Add(offset), true
}

// SampleCount returns the total number of samples currently buffered
// (not filtered by window).
func (e *Estimator) SampleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// median of an even-count set is the mean of the two middle values after
// sort.
func median(vals []decimal.Decimal) decimal.Decimal {
	sort.Slice(vals, func(i, j int) bool { return vals[i].LessThan(vals[j]) })
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return vals[n/2-1].Add(vals[n/2]).Div(decimal.NewFromInt(2))
}
