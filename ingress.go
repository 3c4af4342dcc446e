// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// IngressRing is a bounded multi-producer single-consumer queue used
// to carry one event source (doorbells, host register writes/reads,
// completions, control-plane pause/enable) into the arbiter's admit
// stage. Multiple external goroutines may call Enqueue concurrently;
// only the arbiter goroutine calls Dequeue.
//
// FAA-based SCQ algorithm: producers blindly claim positions with a
// fetch-and-add, requiring 2n physical slots for capacity n. This
// scales better under contention than a CAS-based ring, which matters
// here because a doorbell burst (spec §6: "small input FIFO >= 256
// entries") can arrive from many descriptor-ring owners at once.
type IngressRing[T any] struct {
	_        pad
	head     atomix.Uint64 // consumer index; written only by the arbiter
	_        pad
	tail     atomix.Uint64 // producer index (FAA)
	_        pad
	draining atomix.Bool
	_        pad
	buffer   []ingressSlot[T]
	capacity uint64
	size     uint64
	mask     uint64
}

type ingressSlot[T any] struct {
	cycle atomix.Uint64
	data  T
	_     padShort
}

// NewIngressRing creates a ring with the given capacity, rounded up to
// the next power of 2.
func NewIngressRing[T any](capacity int) *IngressRing[T] {
	if capacity < 2 {
		panic("txsched: ingress ring capacity must be >= 2")
	}

	n := uint64(roundToPow2(capacity))
	size := n * 2

	r := &IngressRing[T]{
		buffer:   make([]ingressSlot[T], size),
		capacity: n,
		size:     size,
		mask:     size - 1,
	}
	for i := uint64(0); i < size; i++ {
		r.buffer[i].cycle.StoreRelaxed(i / n)
	}
	return r
}

// Drain marks the ring as shutting down. Callers stop enqueuing once
// Drain is called; Dequeue still drains whatever remains.
func (r *IngressRing[T]) Drain() {
	r.draining.StoreRelease(true)
}

// Enqueue admits one event. Returns ErrWouldBlock if the ring is full,
// which the producer (e.g. a doorbell callback) must treat as
// backpressure, not data loss — the upstream queue manager is
// authoritative on retry (spec §4.3 failure semantics).
func (r *IngressRing[T]) Enqueue(elem *T) error {
	sw := spin.Wait{}
	for {
		tail := r.tail.LoadAcquire()
		head := r.head.LoadRelaxed()
		if tail >= head+r.capacity {
			return ErrWouldBlock
		}

		myTail := r.tail.AddAcqRel(1) - 1

		slot := &r.buffer[myTail&r.mask]
		expectedCycle := myTail / r.capacity

		slotCycle := slot.cycle.LoadAcquire()
		if slotCycle == expectedCycle {
			slot.data = *elem
			slot.cycle.StoreRelease(expectedCycle + 1)
			return nil
		}
		if int64(slotCycle) < int64(expectedCycle) {
			return ErrWouldBlock
		}
		sw.Once()
	}
}

// Dequeue removes the oldest event (arbiter goroutine only). Returns
// ErrWouldBlock if nothing is waiting — the admit stage treats this
// as "this source has no pending event this cycle" and falls through
// to the next-lower-priority source.
func (r *IngressRing[T]) Dequeue() (T, error) {
	head := r.head.LoadRelaxed()
	cycle := head / r.capacity
	slot := &r.buffer[head&r.mask]

	slotCycle := slot.cycle.LoadAcquire()
	if slotCycle != cycle+1 {
		var zero T
		return zero, ErrWouldBlock
	}

	elem := slot.data
	var zero T
	slot.data = zero
	nextEnqCycle := (head + r.size) / r.capacity
	slot.cycle.StoreRelease(nextEnqCycle)
	r.head.StoreRelaxed(head + 1)
	return elem, nil
}

// Len reports the approximate number of pending events. Safe to call
// from any goroutine (e.g. the metrics collector); the value may be
// stale by the time it's read.
func (r *IngressRing[T]) Len() int {
	tail := r.tail.LoadAcquire()
	head := r.head.LoadAcquire()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Cap returns the ring's usable capacity.
func (r *IngressRing[T]) Cap() int {
	return int(r.capacity)
}
