// Package ring provides the lock-free single-producer/single-consumer
// buffers that move events from connector goroutines to the processing
// goroutine without blocking or locking.
package ring

import (
	"errors"
	"sync/atomic"
)

// ErrFull is returned by TryPush when the buffer has no free slot. The item
// stays with the caller; drop/retry policy is the caller's decision.
var ErrFull = errors.New("ring buffer full")

// ErrBackpressure is returned by the adaptive buffer once occupancy crosses
// the configured backpressure threshold. The push is rejected so the caller
// can apply flow control before the buffer actually fills.
var ErrBackpressure = errors.New("ring buffer backpressure")

// cacheRefreshOps is how many push/pop operations each side performs before
// re-reading the opposite side's authoritative index. Between refreshes the
// side works off a local cache, which keeps atomic traffic and cross-core
// coherence messages off the hot path.
const cacheRefreshOps = 8

// Buffer is a fixed-capacity lock-free SPSC queue. It is correct for exactly
// one producer goroutine and one consumer goroutine; any other cardinality
// needs one Buffer per producer.
//
// Capacity is rounded up to the next power of two so the wraparound is an
// index mask instead of a modulo. One slot is kept empty to distinguish full
// from empty, so a buffer built with capacity C holds at most C-1 items.
type Buffer[T any] struct {
	slots []T
	mask  uint64

	// Producer-owned state, padded onto its own cache line so that bumping
	// the write index never invalidates the line the consumer polls.
	_          [64]byte
	write      atomic.Uint64
	cachedRead uint64
	pushOps    uint32

	// Consumer-owned state, same treatment.
	_           [64]byte
	read        atomic.Uint64
	cachedWrite uint64
	popOps      uint32

	_ [64]byte
}

// New allocates a buffer. Capacity below 2 is raised to 2.
func New[T any](capacity int) *Buffer[T] {
	c := nextPowerOfTwo(capacity)
	return &Buffer[T]{
		slots: make([]T, c),
		mask:  uint64(c - 1),
	}
}

// TryPush enqueues one item without blocking. It fails with ErrFull when no
// slot is free, leaving the item with the caller.
func (b *Buffer[T]) TryPush(item T) error {
	w := b.write.Load()
	next := (w + 1) & b.mask

	b.pushOps++
	if b.pushOps >= cacheRefreshOps {
		b.cachedRead = b.read.Load()
		b.pushOps = 0
	}
	if next == b.cachedRead {
		// Apparently full; the cache may be stale, so take one fresh read
		// before giving up.
		b.cachedRead = b.read.Load()
		if next == b.cachedRead {
			return ErrFull
		}
	}

	b.slots[w] = item
	// The index store publishes the slot write: Go atomics order the slot
	// assignment before the store, and the consumer's load after it.
	b.write.Store(next)
	return nil
}

// TryPop dequeues one item without blocking. The second return is false when
// the buffer is empty.
func (b *Buffer[T]) TryPop() (T, bool) {
	var zero T

	r := b.read.Load()

	b.popOps++
	if b.popOps >= cacheRefreshOps {
		b.cachedWrite = b.write.Load()
		b.popOps = 0
	}
	if r == b.cachedWrite {
		b.cachedWrite = b.write.Load()
		if r == b.cachedWrite {
			return zero, false
		}
	}

	item := b.slots[r]
	// Clear the slot so ownership fully transfers and the previous value is
	// reclaimable.
	b.slots[r] = zero
	b.read.Store((r + 1) & b.mask)
	return item, true
}

// Len returns the current occupancy. It is exact only when both sides are
// quiescent; under concurrency it is a point-in-time estimate.
func (b *Buffer[T]) Len() int {
	w := b.write.Load()
	r := b.read.Load()
	return int((w - r) & b.mask)
}

// Cap returns the slot count. Usable capacity is Cap()-1.
func (b *Buffer[T]) Cap() int {
	return len(b.slots)
}

func nextPowerOfTwo(n int) int {
	c := 2
	for c < n {
		c <<= 1
	}
	return c
}
