// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import "code.hybscloud.com/atomix"

// TxRequest is what the arbiter emits downstream when it admits a
// Request event (spec §6, "TX request stream"): the queue to fetch
// from, a destination hint, and a tag the completion path echoes back
// to disambiguate stale completions (spec §4.4: "tag=generation").
type TxRequest struct {
	Queue    uint32
	DestHint uint16
	Tag      uint32
}

// TxRequestRing is the single-producer (arbiter) single-consumer (TX
// engine boundary) egress ring carrying [TxRequest] values out of the
// core. Modeled on [ReadySet]'s Lamport-ring shape; a separate type
// because its element is a TxRequest rather than a bare queue index
// and because fullness here is the "downstream output ready" signal
// the admit stage consults before admitting a Request event (spec
// §4.4 event source 7).
type TxRequestRing struct {
	head   atomix.Uint64
	tail   atomix.Uint64
	buffer []TxRequest
	mask   uint64
}

// NewTxRequestRing creates a ring with the given capacity, rounded up
// to the next power of 2.
func NewTxRequestRing(capacity int) *TxRequestRing {
	n := uint64(roundToPow2(capacity))
	return &TxRequestRing{
		buffer: make([]TxRequest, n),
		mask:   n - 1,
	}
}

// Ready reports whether the ring has room for at least one more
// request — the "downstream output ready" condition the admit stage
// requires before admitting a transmit request (spec §4.4).
func (r *TxRequestRing) Ready() bool {
	tail := r.tail.LoadRelaxed()
	head := r.head.LoadAcquire()
	return tail-head <= r.mask
}

// Push enqueues one request (arbiter commit stage only). Returns
// ErrWouldBlock if the TX engine boundary is backpressured; the
// caller must have checked Ready first, so this only returns an error
// under a race with a concurrent Pop miscount, which cannot happen
// given the single-producer/single-consumer contract — kept as a
// defensive return rather than a panic.
func (r *TxRequestRing) Push(req TxRequest) error {
	tail := r.tail.LoadRelaxed()
	head := r.head.LoadAcquire()
	if tail-head > r.mask {
		return ErrWouldBlock
	}
	r.buffer[tail&r.mask] = req
	r.tail.StoreRelease(tail + 1)
	return nil
}

// Pop removes the oldest pending request. Returns ErrWouldBlock if
// empty.
func (r *TxRequestRing) Pop() (TxRequest, error) {
	head := r.head.LoadRelaxed()
	tail := r.tail.LoadAcquire()
	if head >= tail {
		return TxRequest{}, ErrWouldBlock
	}
	req := r.buffer[head&r.mask]
	r.head.StoreRelease(head + 1)
	return req, nil
}

// Len reports the number of pending requests.
func (r *TxRequestRing) Len() int {
	tail := r.tail.LoadAcquire()
	head := r.head.LoadAcquire()
	if tail < head {
		return 0
	}
	return int(tail - head)
}
