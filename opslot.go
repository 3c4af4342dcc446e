// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import "code.hybscloud.com/atomix"

// noSlot is the sentinel "no slot" index used by Next/Prev links and
// head-of-chain lookups.
const noSlot int32 = -1

// opSlot is one element of the fixed-size operation table (spec §3:
// "Operation slot"). Slots are linked per-queue via Next/Prev to form
// a doubly-linked list threaded through the shared pool (spec §9,
// strategy (a): "indexes into an array with explicit next/prev
// fields").
type opSlot struct {
	Occupied bool
	Queue    uint32
	Tag      uint32 // generation snapshot at admit time
	IsHead   bool
	Next     int32
	Prev     int32
}

// OpTable is the bounded pool of in-flight operation slots shared
// across all channels (spec §3: "typically 8-32 slots per channel").
// Single-owner: only the arbiter goroutine calls Alloc/Release;
// occupied is kept as an atomic counter purely so the metrics
// collector can read pool pressure from another goroutine.
type OpTable struct {
	slots    []opSlot
	free     []int32 // stack of free slot indices
	occupied atomix.Int64

	// heads maps a queue index to the head slot of its op chain, or
	// noSlot if the queue has no in-flight operation.
	heads map[uint32]int32
}

// NewOpTable allocates a pool of size slots.
func NewOpTable(size int) *OpTable {
	t := &OpTable{
		slots: make([]opSlot, size),
		free:  make([]int32, size),
		heads: make(map[uint32]int32),
	}
	for i := 0; i < size; i++ {
		t.free[i] = int32(size - 1 - i)
	}
	return t
}

// Len returns the pool size.
func (t *OpTable) Len() int { return len(t.slots) }

// Occupied returns the number of in-flight slots. Safe from any
// goroutine.
func (t *OpTable) Occupied() int64 { return t.occupied.LoadAcquire() }

// Alloc reserves a slot for queue q and tag gen, linking it as the
// new head of q's per-queue chain (spec §4.4: admitted Request event
// allocates a slot). Returns ErrNoFreeSlot if the pool is exhausted —
// the admit stage must then skip the Request source this cycle (spec
// §4.4, event source 7 admission conditions).
func (t *OpTable) Alloc(q uint32, gen uint32) (int32, error) {
	if len(t.free) == 0 {
		return noSlot, ErrNoFreeSlot
	}
	id := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	prevHead, hasPrev := t.heads[q]
	s := &t.slots[id]
	s.Occupied = true
	s.Queue = q
	s.Tag = gen
	s.IsHead = true
	s.Next = noSlot
	s.Prev = noSlot

	if hasPrev && prevHead != noSlot {
		t.slots[prevHead].IsHead = false
		t.slots[prevHead].Prev = id
		s.Next = prevHead
	}
	t.heads[q] = id
	t.occupied.AddAcqRel(1)
	return id, nil
}

// HasFree reports whether Alloc would currently succeed. The admit
// stage checks this before popping the ready-set ring, so that a
// full op-table defers the Request source without losing the ready
// queue's position (spec §4.4 event source 7: "free op-slot
// available").
func (t *OpTable) HasFree() bool { return len(t.free) > 0 }

// Head returns the current head slot id for q, or noSlot if the queue
// has no in-flight operation.
func (t *OpTable) Head(q uint32) int32 {
	if id, ok := t.heads[q]; ok {
		return id
	}
	return noSlot
}

// Slot returns a read view of slot id.
func (t *OpTable) Slot(id int32) opSlot {
	if id == noSlot {
		return opSlot{Next: noSlot, Prev: noSlot}
	}
	return t.slots[id]
}

// Release unlinks and frees slot id (spec §4.4: Completion commit
// mutation "release op slot; unlink from per-queue op chain"). Releasing
// noSlot or a slot that is not occupied is a no-op, so a repeated
// release of the same id does not corrupt the free list (I4). An id
// that has since been reallocated is released again, since the slot
// does not record which operation holds it.
func (t *OpTable) Release(id int32) {
	if id == noSlot || !t.slots[id].Occupied {
		return
	}
	s := &t.slots[id]
	prev, next := s.Prev, s.Next
	wasHead, queue := s.IsHead, s.Queue

	if prev != noSlot {
		t.slots[prev].Next = next
	}
	if next != noSlot {
		t.slots[next].Prev = prev
	}
	if wasHead {
		if next != noSlot {
			t.slots[next].IsHead = true
			t.heads[queue] = next
		} else {
			delete(t.heads, queue)
		}
	}

	s.Occupied = false
	s.Next = noSlot
	s.Prev = noSlot
	s.IsHead = false
	t.free = append(t.free, id)
	t.occupied.AddAcqRel(-1)
}
