package ring

import (
	"sync/atomic"

	"tapeflow/logger"
)

// Stats are advisory buffer counters incremented with relaxed atomics.
// Approximate values under concurrency are acceptable.
type Stats struct {
	Pushes             int64 `json:"pushes"`
	Pops               int64 `json:"pops"`
	Dropped            int64 `json:"dropped"`
	BackpressureEvents int64 `json:"backpressure_events"`
}

// Adaptive is the SPSC buffer variant used where the pipeline wants early
// flow-control: pushes are rejected with ErrBackpressure once occupancy
// crosses the backpressure threshold, and crossing the lower advisory
// threshold logs a grow recommendation. Growth itself never happens on the
// lock-free path; a bigger buffer must be created to replace this one.
type Adaptive[T any] struct {
	buf *Buffer[T]

	backpressureThreshold float64
	advisoryThreshold     float64
	backpressureEnabled   atomic.Bool
	advisoryLogged        atomic.Bool

	pushes       atomic.Int64
	pops         atomic.Int64
	dropped      atomic.Int64
	backpressure atomic.Int64

	log *logger.Log
}

// NewAdaptive allocates an adaptive buffer. Thresholds are occupancy ratios;
// out-of-range values are clamped (backpressure to [0.5,1], advisory to
// [0.1,1]).
func NewAdaptive[T any](capacity int, backpressureThreshold, advisoryThreshold float64) *Adaptive[T] {
	a := &Adaptive[T]{
		buf:                   New[T](capacity),
		backpressureThreshold: clamp(backpressureThreshold, 0.5, 1.0),
		advisoryThreshold:     clamp(advisoryThreshold, 0.1, 1.0),
		log:                   logger.GetLogger(),
	}
	a.backpressureEnabled.Store(true)
	return a
}

// TryPush enqueues one item without blocking. ErrBackpressure rejects the
// push above the backpressure threshold; ErrFull rejects it when the buffer
// is genuinely out of slots. Either way the item stays with the caller.
func (a *Adaptive[T]) TryPush(item T) error {
	a.pushes.Add(1)

	ratio := a.UsageRatio()
	if a.backpressureEnabled.Load() && ratio >= a.backpressureThreshold {
		a.backpressure.Add(1)
		return ErrBackpressure
	}
	if ratio >= a.advisoryThreshold && a.advisoryLogged.CompareAndSwap(false, true) {
		a.log.WithComponent("ring").WithFields(logger.Fields{
			"capacity": a.buf.Cap(),
			"usage":    ratio,
		}).Warn("buffer occupancy past advisory threshold, consider a larger capacity")
	}

	if err := a.buf.TryPush(item); err != nil {
		a.dropped.Add(1)
		return err
	}
	return nil
}

// TryPop dequeues one item without blocking.
func (a *Adaptive[T]) TryPop() (T, bool) {
	item, ok := a.buf.TryPop()
	if ok {
		a.pops.Add(1)
		if a.UsageRatio() < a.advisoryThreshold {
			a.advisoryLogged.Store(false)
		}
	}
	return item, ok
}

// TryPushBatch pushes items in order until one is rejected, returning how
// many were accepted. It is semantically identical to calling TryPush per
// item and stopping at the first failure.
func (a *Adaptive[T]) TryPushBatch(items []T) int {
	for i, item := range items {
		if err := a.TryPush(item); err != nil {
			return i
		}
	}
	return len(items)
}

// TryPopBatch pops up to max items, preserving FIFO order. It is
// semantically identical to repeated TryPop calls.
func (a *Adaptive[T]) TryPopBatch(max int) []T {
	if max <= 0 {
		return nil
	}
	out := make([]T, 0, max)
	for len(out) < max {
		item, ok := a.TryPop()
		if !ok {
			break
		}
		out = append(out, item)
	}
	return out
}

// UsageRatio returns occupancy as a fraction of usable capacity.
func (a *Adaptive[T]) UsageRatio() float64 {
	return float64(a.buf.Len()) / float64(a.buf.Cap()-1)
}

// Len returns the current occupancy estimate.
func (a *Adaptive[T]) Len() int { return a.buf.Len() }

// Cap returns the slot count.
func (a *Adaptive[T]) Cap() int { return a.buf.Cap() }

// SetBackpressureEnabled toggles early rejection; with it disabled the
// buffer only rejects when genuinely full.
func (a *Adaptive[T]) SetBackpressureEnabled(enabled bool) {
	a.backpressureEnabled.Store(enabled)
}

// Stats snapshots the advisory counters.
func (a *Adaptive[T]) Stats() Stats {
	return Stats{
		Pushes:             a.pushes.Load(),
		Pops:               a.pops.Load(),
		Dropped:            a.dropped.Load(),
		BackpressureEvents: a.backpressure.Load(),
	}
}

// ResetStats zeroes the advisory counters.
func (a *Adaptive[T]) ResetStats() {
	a.pushes.Store(0)
	a.pops.Store(0)
	a.dropped.Store(0)
	a.backpressure.Store(0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
