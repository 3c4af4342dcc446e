// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates an ingress ring is full or empty.
//
// For Enqueue: the ring is full (backpressure from a slow arbiter).
// For Dequeue: the ring is empty (no event waiting).
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency
// with the rest of the lock-free ring family this package descends
// from.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err indicates the operation would block.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// Domain errors. None of these is turned into a failed register
// access seen by the host (spec §7: "the scheduler never raises
// exceptions to the host synchronously"); they are returned by
// internal and Go-level helpers (OpTable.Alloc, TDMAGate.Arm,
// RegisterFile.WriteQueueCommand) and otherwise surface through
// logging and the register/metrics status surface.
var (
	// ErrNoFreeSlot is raised internally when a Request event is
	// admitted but the operation-slot pool has no free entry. The
	// admit stage treats this identically to FCA/RSR backpressure:
	// the source is skipped and retried next cycle.
	ErrNoFreeSlot = errors.New("txsched: operation-slot pool exhausted")

	// ErrStaleCompletion marks a completion whose tag no longer
	// matches the queue's current generation (I5). It is not an
	// error condition from the protocol's point of view — the slot
	// is still released — but it is recorded for diagnostics.
	ErrStaleCompletion = errors.New("txsched: completion generation mismatch")

	// ErrInvalidOpcode is returned by RegisterFile.WriteQueueCommand
	// for an unrecognized per-queue command opcode, and attached to the
	// arbiter's warning when a host write carries one. Per §7 taxonomy
	// item 3, the register write still ACKs; it is not a write failure
	// visible to the host.
	ErrInvalidOpcode = errors.New("txsched: invalid queue command opcode")

	// ErrTDMAScheduleOversized is returned when a requested TDMA
	// schedule would produce more timeslots than the gate supports.
	// Per §7 taxonomy item 3, the gate refuses to arm and sets its
	// error status bit; it does not panic or corrupt prior state.
	ErrTDMAScheduleOversized = errors.New("txsched: tdma schedule exceeds supported timeslot count")
)
