// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import "code.hybscloud.com/atomix"

// ReadySet is the Ready-Set Ring (RSR): a bounded FIFO of queue
// indexes currently eligible to transmit. It is the sole source of
// the scheduler's round-robin fairness across queues (spec §4.2).
//
// Only the arbiter goroutine ever calls Push or Pop — both ends of
// this ring live in the same goroutine, unlike [IngressRing] — so the
// hot path needs no compare-and-swap. Head and tail are still atomic
// cells (Lamport ring style, grounded on the teacher's SPSC) purely so
// [ReadySet.Len] can be read concurrently by the metrics collector
// without synchronizing with the arbiter.
type ReadySet struct {
	head   atomix.Uint64
	tail   atomix.Uint64
	buffer []uint32
	mask   uint64
}

// NewReadySet creates a ring with capacity >= 2^Q, per spec §4.2
// ("capacity >= 2^Q so enqueue never blocks given invariant I2").
func NewReadySet(minCapacity int) *ReadySet {
	n := uint64(roundToPow2(minCapacity))
	return &ReadySet{
		buffer: make([]uint32, n),
		mask:   n - 1,
	}
}

// Push enqueues a queue index. The caller (the arbiter's commit
// stage) is responsible for invariant I2 — a queue index must not
// already be scheduled — by checking QueueRecord.Scheduled before
// calling Push. Capacity is sized so this never blocks in practice;
// it still reports ErrWouldBlock rather than panicking if a caller
// ever violates that sizing assumption.
func (r *ReadySet) Push(q uint32) error {
	tail := r.tail.LoadRelaxed()
	head := r.head.LoadRelaxed()
	if tail-head > r.mask {
		return ErrWouldBlock
	}
	r.buffer[tail&r.mask] = q
	r.tail.StoreRelease(tail + 1)
	return nil
}

// Peek returns the oldest eligible queue index without removing it.
// The admit stage uses this to test Request-source feasibility (FCA
// grant, downstream readiness, free op-slot) before committing to a
// Pop, so an infeasible cycle leaves the queue's round-robin position
// untouched.
func (r *ReadySet) Peek() (uint32, error) {
	head := r.head.LoadRelaxed()
	tail := r.tail.LoadAcquire()
	if head >= tail {
		return 0, ErrWouldBlock
	}
	return r.buffer[head&r.mask], nil
}

// Pop dequeues the oldest eligible queue index in strict insertion
// order. Returns ErrWouldBlock if the ring is empty.
func (r *ReadySet) Pop() (uint32, error) {
	head := r.head.LoadRelaxed()
	tail := r.tail.LoadAcquire()
	if head >= tail {
		return 0, ErrWouldBlock
	}
	q := r.buffer[head&r.mask]
	r.head.StoreRelease(head + 1)
	return q, nil
}

// Len reports the current number of eligible queues. Safe to call
// from any goroutine.
func (r *ReadySet) Len() int {
	tail := r.tail.LoadAcquire()
	head := r.head.LoadAcquire()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Cap returns the ring's capacity.
func (r *ReadySet) Cap() int {
	return int(r.mask + 1)
}
