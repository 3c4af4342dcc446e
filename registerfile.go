// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import "context"

// RegisterFile is the host-facing register-mapped I/O surface for a
// Scheduler: it addresses the control, per-queue command, and TDMA
// register blocks (spec §6) and dispatches accesses as
// HostWriteEvent/HostReadEvent into the arbiter's ingress rings.
// Reads return live values only for the scheduler control, queue
// count, queue stride, and per-channel registers of the control block
// and for the TDMA control/status register; every other offset
// (type, version, next-pointer, queue-region offset, config, and the
// TDMA start/period registers) reads as 0. It never mutates QSS or a
// Channel directly — every register
// access is serialized through the same admit/commit pipeline a
// doorbell or completion goes through, so there is exactly one writer
// of scheduler state regardless of which goroutine calls in.
type RegisterFile struct {
	arbiter *Arbiter
}

// NewRegisterFile wraps a as a register-mapped I/O surface.
func NewRegisterFile(a *Arbiter) *RegisterFile {
	return &RegisterFile{arbiter: a}
}

// WriteControl posts a write to the scheduler/channel control block
// (spec §6 control register block, offsets RegSchedControl,
// RegConfig, and the per-channel block at channelRegOffset).
func (r *RegisterFile) WriteControl(offset, value uint32) error {
	return r.arbiter.PostHostWrite(HostWriteEvent{Global: true, Region: RegionControl, Offset: offset, Value: value})
}

// ReadControl reads an offset of the control register block.
func (r *RegisterFile) ReadControl(ctx context.Context, offset uint32) (uint32, error) {
	return r.read(ctx, HostReadEvent{Global: true, Region: RegionControl, Offset: offset})
}

// WriteTDMA posts a write to the TDMA register block (spec §6 TDMA
// register block). Per SPEC_FULL.md's bring-up note, a schedule
// change it latches only takes effect at the next alignment boundary,
// never mid-schedule.
func (r *RegisterFile) WriteTDMA(offset, value uint32) error {
	return r.arbiter.PostHostWrite(HostWriteEvent{Global: true, Region: RegionTDMA, Offset: offset, Value: value})
}

// ReadTDMA reads an offset of the TDMA register block.
func (r *RegisterFile) ReadTDMA(ctx context.Context, offset uint32) (uint32, error) {
	return r.read(ctx, HostReadEvent{Global: true, Region: RegionTDMA, Offset: offset})
}

// WriteQueueCommand decodes and posts one per-queue command register
// write (spec §6 "Per-queue command register"). It returns
// ErrInvalidOpcode for a word this scheduler does not recognize; per
// §7 taxonomy item 3 the register write still ACKs at the bus level,
// so a caller should log ErrInvalidOpcode rather than fail the write
// back to the host.
func (r *RegisterFile) WriteQueueCommand(queue uint32, word uint32) error {
	opcode, port, arg, ok := DecodeOpcode(word)
	if !ok {
		return ErrInvalidOpcode
	}
	value := uint32(arg)
	switch opcode {
	case OpcodeSetPortTC, OpcodeSetPortEnable, OpcodeSetPortPause:
		value = uint32(port)<<8 | uint32(arg)
	}
	return r.arbiter.PostHostWrite(HostWriteEvent{Queue: queue, Opcode: opcode, Value: value})
}

// ReadQueueStatus reads queue's packed status word (spec §6 "Reads
// return a packed status").
func (r *RegisterFile) ReadQueueStatus(ctx context.Context, queue uint32) (uint32, error) {
	return r.read(ctx, HostReadEvent{Queue: queue})
}

func (r *RegisterFile) read(ctx context.Context, ev HostReadEvent) (uint32, error) {
	result := make(chan uint32, 1)
	ev.Result = result
	if err := r.arbiter.PostHostRead(ev); err != nil {
		return 0, err
	}
	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
