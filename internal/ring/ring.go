// Package ring implements a lock-free single-producer/single-consumer ring
// buffer, translated from the reference implementation's spsc_ring<T>. The
// C++ original distinguishes memory_order_relaxed local loads from
// memory_order_acquire/release cross-thread ones; Go's public sync/atomic
// API exposes no relaxed variant, so every load/store here uses the same
// acquire/release-equivalent primitive. That is strictly stronger ordering
// than the algorithm requires, never weaker, so the push/pop invariants
// still hold — it just can't be as fine-grained as the original.
package ring

import "sync/atomic"

// Ring is a fixed-capacity SPSC queue. Capacity is rounded up to the next
// power of two so the head/tail wrap can use a mask instead of a modulo.
type Ring[T any] struct {
	mask uint64
	data []T
	head atomic.Uint64
	tail atomic.Uint64
}

// New returns a ring with capacity rounded up to a power of two slots. One
// slot always stays empty to tell full from empty, so the ring holds at most
// Capacity()-1 items.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	n := nextPow2(capacity)
	return &Ring[T]{
		mask: uint64(n - 1),
		data: make([]T, n),
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Capacity returns the ring's slot count (a power of two, possibly larger
// than the capacity requested of New).
func (r *Ring[T]) Capacity() int { return len(r.data) }

// TryPush inserts v without blocking. It reports false if the ring is full.
func (r *Ring[T]) TryPush(v T) bool {
	head := r.head.Load()
	next := (head + 1) & r.mask
	if next == r.tail.Load() {
		return false
	}
	r.data[head] = v
	r.head.Store(next)
	return true
}

// TryPop removes and returns the oldest item without blocking. It reports
// false if the ring is empty.
func (r *Ring[T]) TryPop() (v T, ok bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return v, false
	}
	v = r.data[tail]
	r.tail.Store((tail + 1) & r.mask)
	return v, true
}

// Empty reports whether the ring currently holds no items. This is only a
// point-in-time observation from the caller's perspective; it is safe to
// call from either the producer or consumer side.
func (r *Ring[T]) Empty() bool {
	return r.head.Load() == r.tail.Load()
}

// ApproxLen returns a point-in-time estimate of the number of queued items,
// for observability only.
func (r *Ring[T]) ApproxLen() int {
	head, tail := r.head.Load(), r.tail.Load()
	if head >= tail {
		return int(head - tail)
	}
	return int(uint64(len(r.data)) - tail + head)
}
