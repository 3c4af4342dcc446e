// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

// EventKind identifies which of the seven admit-stage sources an
// event came from (spec §4.4). Order matters: Priority() returns the
// strict admit-stage priority, lowest value first.
type EventKind uint8

const (
	EventInit EventKind = iota
	EventHostWrite
	EventHostRead
	EventDoorbell
	EventCompletion
	EventCtrlPlane
	EventRequest
)

// Priority returns the admit-stage priority of k, lower is served
// first. This mirrors the literal ordering of spec §4.4's "Event
// sources, in priority order at the admit stage" list.
func (k EventKind) Priority() int {
	return int(k)
}

func (k EventKind) String() string {
	switch k {
	case EventInit:
		return "init"
	case EventHostWrite:
		return "host-write"
	case EventHostRead:
		return "host-read"
	case EventDoorbell:
		return "doorbell"
	case EventCompletion:
		return "completion"
	case EventCtrlPlane:
		return "ctrl-plane"
	case EventRequest:
		return "request"
	default:
		return "unknown"
	}
}

// CompletionKind distinguishes the ways a fetch can resolve (spec §6
// status streams: dequeue-empty, dequeue-error, start, finish).
type CompletionKind uint8

const (
	CompletionFinish CompletionKind = iota
	CompletionEmpty
	CompletionError
	CompletionStart
)

// DoorbellEvent carries a doorbell notification (spec §6: "{queue}").
type DoorbellEvent struct {
	Queue uint32
}

// CompletionEvent carries a dequeue-empty, dequeue-error, start, or
// finish status (spec §6: dequeue/start/finish streams, unified here
// since the arbiter's commit-stage handling only branches on Kind and
// the generation tag).
type CompletionEvent struct {
	Queue  uint32
	OpSlot int32
	Tag    uint32
	Kind   CompletionKind
	Len    uint32 // bytes, valid for CompletionStart and CompletionFinish
}

// RegisterRegion disambiguates offsets that are only unique within
// their own register block (spec §6 defines the control block and the
// TDMA block as separate address spaces that happen to reuse small
// offsets such as 0x0C).
type RegisterRegion uint8

const (
	RegionControl RegisterRegion = iota
	RegionTDMA
)

// HostWriteEvent carries a decoded register write (spec §6 register
// block and per-queue command register).
type HostWriteEvent struct {
	Queue  uint32 // per-queue command target; ignored for global regs
	Global bool   // true for scheduler/channel/TDMA control-block writes
	Region RegisterRegion
	Offset uint32
	Value  uint32
	Opcode uint32 // decoded per-queue command opcode, if !Global
}

// HostReadEvent carries a pending register read request; Result
// receives the value at commit. Result must be buffered (capacity >=
// 1) so the arbiter's commit stage never blocks on a slow reader.
type HostReadEvent struct {
	Queue  uint32
	Global bool
	Region RegisterRegion
	Offset uint32
	Result chan uint32
}

// CtrlPlaneEvent carries an out-of-band pause/enable request from an
// external controller such as the TDMA gate (spec §6: "Scheduler
// control stream").
type CtrlPlaneEvent struct {
	Queue  uint32
	Enable bool
}

// pipelineEvent is the internal, unified representation threaded
// through the arbiter's stages. Exactly one of the typed payload
// fields is meaningful, selected by Kind.
type pipelineEvent struct {
	Kind       EventKind
	Queue      uint32
	Doorbell   DoorbellEvent
	Completion CompletionEvent
	HostWrite  HostWriteEvent
	HostRead   HostReadEvent
	CtrlPlane  CtrlPlaneEvent

	// result, computed at admit time (§9 strategy b): the snapshot this
	// event will commit for Queue, and any side effect to replay at the
	// commit stage.
	result      snapshot
	resultValid bool
	sideEffect  func(a *Arbiter)

	// traceID correlates this event's admit-time and commit-time log
	// lines; populated only when debug logging is enabled, since
	// minting one per cycle on the hot path would cost a uuid
	// generation nobody reads at the default log level.
	traceID string

	// channel and hasChannel identify the (port, TC) channel index this
	// event resolved against, for events where one applies (completion
	// and request admission); logged alongside Queue/Kind.
	channel    int
	hasChannel bool
}
