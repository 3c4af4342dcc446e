// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import (
	"time"

	"github.com/sirupsen/logrus"

	"code.hybscloud.com/atomix"
)

// ArbiterConfig sizes an Arbiter and its owned components (spec §4.4,
// §2 "budget").
type ArbiterConfig struct {
	LogQueues     int // store holds 2^LogQueues queue records
	Depth         int // pipeline depth P, spec "P >= 2 (3 is typical)"
	NumPorts      int
	NumTCs        int
	OpSlots       int
	DoorbellDepth int // spec §6: "small input FIFO (>= 256 entries)"
	IngressDepth  int
	TxOutDepth    int
	MaxTimeslots  uint32
	PktLimit      int64
	DataLimit     int64
	FCScale       uint8
}

// DefaultArbiterConfig returns sane defaults matching the spec's
// example scenarios (Q=4, K=16 style small deployments scale up
// trivially since every component is power-of-2 sized).
func DefaultArbiterConfig() ArbiterConfig {
	return ArbiterConfig{
		LogQueues:     8,
		Depth:         3,
		NumPorts:      4,
		NumTCs:        4,
		OpSlots:       256,
		DoorbellDepth: 256,
		IngressDepth:  256,
		TxOutDepth:    256,
		MaxTimeslots:  64,
		PktLimit:      64,
		DataLimit:     1 << 20,
		FCScale:       FCScaleDefault,
	}
}

// Arbiter is the Arbiter Pipeline (AP): the staged pipeline that
// serializes every mutation of the Queue State Store and mediates
// among the scheduler's seven event sources (spec §4.4). Exactly one
// goroutine ever calls Step; every other producer only pushes onto an
// IngressRing.
type Arbiter struct {
	store    *Store
	ready    *ReadySet
	ops      *OpTable
	channels []*Channel
	numTCs   int
	txOut    *TxRequestRing
	tdma     *TDMAGate
	clock    TimeSource

	doorbells   *IngressRing[DoorbellEvent]
	hostWrites  *IngressRing[HostWriteEvent]
	hostReads   *IngressRing[HostReadEvent]
	completions *IngressRing[CompletionEvent]
	ctrlPlane   *IngressRing[CtrlPlaneEvent]

	stages []*pipelineEvent // fixed-depth pipeline, index 0 = most recently admitted

	initNext uint32
	initDone bool

	globalEnable atomix.Bool

	activeQueueCount atomix.Int64

	// TDMA register bring-up scratch: raw fields latch into tdmaParams
	// only on the write that the spec designates as the latching write
	// (spec §6 TDMA register block). Sub-nanosecond frac-ns writes are
	// accepted but not stored, since time.Duration has one-nanosecond
	// resolution.
	tdmaParams        TDMAParams
	tdmaPendingStartNs uint32
	tdmaPendingSecLow  uint32
	tdmaWantEnable     bool

	log *logrus.Entry
}

// NewArbiter wires a fresh Arbiter from cfg.
func NewArbiter(cfg ArbiterConfig) *Arbiter {
	a := &Arbiter{
		store:       NewStore(cfg.LogQueues),
		ready:       NewReadySet(1 << uint(cfg.LogQueues)),
		ops:         NewOpTable(cfg.OpSlots),
		numTCs:      cfg.NumTCs,
		txOut:       NewTxRequestRing(cfg.TxOutDepth),
		tdma:        NewTDMAGate(cfg.MaxTimeslots),
		clock:       NewWallClockSource(),
		doorbells:   NewIngressRing[DoorbellEvent](cfg.DoorbellDepth),
		hostWrites:  NewIngressRing[HostWriteEvent](cfg.IngressDepth),
		hostReads:   NewIngressRing[HostReadEvent](cfg.IngressDepth),
		completions: NewIngressRing[CompletionEvent](cfg.IngressDepth),
		ctrlPlane:   NewIngressRing[CtrlPlaneEvent](cfg.IngressDepth),
		stages:      make([]*pipelineEvent, cfg.Depth),
		log:         logrus.NewEntry(defaultLogger()),
	}
	a.channels = make([]*Channel, cfg.NumPorts*cfg.NumTCs)
	for i := range a.channels {
		a.channels[i] = NewChannel(cfg.PktLimit, cfg.DataLimit, cfg.FCScale)
	}
	return a
}

// SetTimeSource overrides the TDMA gate's clock, used by tests to
// drive deterministic time.
func (a *Arbiter) SetTimeSource(clock TimeSource) { a.clock = clock }

// SetLogger points the pipeline's per-event diagnostics at log. A
// Scheduler calls this at construction so admit/commit diagnostics
// carry the same fields (component, etc.) as the rest of its output.
func (a *Arbiter) SetLogger(log *logrus.Entry) { a.log = log }

// Store, ReadySet, OpTable, and Channels expose the owned components
// for the metrics collector and for tests.
func (a *Arbiter) Store() *Store              { return a.store }
func (a *Arbiter) ReadySet() *ReadySet        { return a.ready }
func (a *Arbiter) OpTable() *OpTable          { return a.ops }
func (a *Arbiter) Channels() []*Channel       { return a.channels }
func (a *Arbiter) TDMAGate() *TDMAGate        { return a.tdma }
func (a *Arbiter) TxRequests() *TxRequestRing { return a.txOut }
func (a *Arbiter) ActiveQueueCount() int64    { return a.activeQueueCount.LoadAcquire() }
func (a *Arbiter) GlobalEnable() bool         { return a.globalEnable.LoadAcquire() }

// PostDoorbell enqueues a doorbell event (spec §6 doorbell stream).
func (a *Arbiter) PostDoorbell(ev DoorbellEvent) error { return a.doorbells.Enqueue(&ev) }

// PostHostWrite enqueues a decoded register write.
func (a *Arbiter) PostHostWrite(ev HostWriteEvent) error { return a.hostWrites.Enqueue(&ev) }

// PostHostRead enqueues a register read request. ev.Result must be a
// buffered channel of capacity >= 1.
func (a *Arbiter) PostHostRead(ev HostReadEvent) error { return a.hostReads.Enqueue(&ev) }

// PostCompletion enqueues a dequeue/start/finish status event (spec
// §6 status streams).
func (a *Arbiter) PostCompletion(ev CompletionEvent) error { return a.completions.Enqueue(&ev) }

// PostCtrlPlane enqueues an out-of-band pause/enable request (spec §6
// scheduler control stream).
func (a *Arbiter) PostCtrlPlane(ev CtrlPlaneEvent) error { return a.ctrlPlane.Enqueue(&ev) }

// Step runs one pipeline cycle: commits the oldest in-flight event,
// shifts the pipeline, then admits at most one new event from the
// highest-priority source whose backpressure is clear (spec §4.4
// "Stage semantics" and "Event sources, in priority order").
func (a *Arbiter) Step() {
	depth := len(a.stages)
	if ev := a.stages[depth-1]; ev != nil {
		a.commit(ev)
	}
	for i := depth - 1; i > 0; i-- {
		a.stages[i] = a.stages[i-1]
	}
	a.stages[0] = nil

	a.tdma.Step(a.clock.Now())

	// Spec §4.3: "each cycle, the FCA refreshes fetch_fc_lim and
	// fetch_fc_available" — this is a pipeline invariant, not a host
	// policy knob, so it runs unconditionally every Step rather than
	// waiting on an external caller to remember to do it.
	for _, ch := range a.channels {
		ch.Refresh()
	}

	switch {
	case a.admit(a.admitInit()):
	case a.admit(a.admitHostWrite()):
	case a.admit(a.admitHostRead()):
	case a.admit(a.admitDoorbell()):
	case a.admit(a.admitCompletion()):
	case a.admit(a.admitCtrlPlane()):
	case a.admit(a.admitRequest()):
	}
}

func (a *Arbiter) admit(ev *pipelineEvent) bool {
	if ev == nil {
		return false
	}
	if a.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		ev.traceID = newTraceID()
		a.eventLogFields(ev).Debug("admitted pipeline event")
	}
	a.stages[0] = ev
	return true
}

func (a *Arbiter) commit(ev *pipelineEvent) {
	if ev.resultValid {
		a.store.Get(ev.Queue).applySnapshot(ev.result)
	}
	if ev.sideEffect != nil {
		ev.sideEffect(a)
	}
	if ev.traceID != "" && a.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		a.eventLogFields(ev).Debug("committed pipeline event")
	}
}

func (a *Arbiter) eventLogFields(ev *pipelineEvent) *logrus.Entry {
	fields := logrus.Fields{
		"trace_id": ev.traceID,
		"queue":    ev.Queue,
		"kind":     ev.Kind.String(),
	}
	if ev.hasChannel {
		fields["channel"] = ev.channel
	}
	return a.log.WithFields(fields)
}

// readQueue returns the most up-to-date view of queue q: the result
// of the newest still-in-flight event touching q, or the committed
// record if none (spec §4.1 "read-data override window" / §9
// strategy (b)). Called only from within admit* after Step has
// already shifted the pipeline, so a.stages[0] is empty and
// a.stages[1:] holds exactly the events not yet committed, ordered
// newest-first.
func (a *Arbiter) readQueue(q uint32) snapshot {
	for _, st := range a.stages[1:] {
		if st != nil && st.resultValid && st.Queue == q {
			return st.result
		}
	}
	return a.store.Get(q).snapshot()
}

func (a *Arbiter) selectChannel(s snapshot) (*Channel, int, bool) {
	for i := 0; i < MaxPortsPerQueue; i++ {
		tc, enable, pause, _ := decodePortControl(s.Ports[i])
		if !enable || pause {
			continue
		}
		idx := i*a.numTCs + int(tc)
		if idx < 0 || idx >= len(a.channels) {
			continue
		}
		ch := a.channels[idx]
		if !ch.Enabled.LoadAcquire() {
			continue
		}
		return ch, idx, true
	}
	return nil, -1, false
}

// admitInit walks every queue index once at start-up (spec §4.4 event
// source 1).
func (a *Arbiter) admitInit() *pipelineEvent {
	if a.initDone {
		return nil
	}
	q := a.initNext
	if int(q) >= a.store.Len() {
		a.initDone = true
		return nil
	}
	a.initNext++
	var zero snapshot
	zero.TailOp = noTailOp
	return &pipelineEvent{Kind: EventInit, Queue: q, result: zero, resultValid: true}
}

// admitHostWrite handles event source 2.
func (a *Arbiter) admitHostWrite() *pipelineEvent {
	ev, err := a.hostWrites.Dequeue()
	if err != nil {
		return nil
	}
	if ev.Global {
		a.dispatchGlobalWrite(ev)
		return &pipelineEvent{Kind: EventHostWrite, HostWrite: ev}
	}

	q := ev.Queue
	base := a.readQueue(q)
	next := base
	ok := true

	switch ev.Opcode {
	case OpcodeSetPortTC:
		port := uint8(ev.Value >> 8)
		tc := uint8(ev.Value)
		if int(port) < MaxPortsPerQueue {
			next.Ports[port] = withPortTC(next.Ports[port], tc)
		} else {
			ok = false
		}
	case OpcodeSetPortEnable:
		port := uint8(ev.Value >> 8)
		if int(port) < MaxPortsPerQueue {
			next.Ports[port] = withPortEnable(next.Ports[port], uint8(ev.Value) != 0)
		} else {
			ok = false
		}
	case OpcodeSetPortPause:
		port := uint8(ev.Value >> 8)
		if int(port) < MaxPortsPerQueue {
			next.Ports[port] = withPortPause(next.Ports[port], uint8(ev.Value) != 0)
		} else {
			ok = false
		}
	case OpcodeSetQueueEnable:
		next.Enabled = uint8(ev.Value) != 0
	case OpcodeSetQueuePause:
		next.Paused = uint8(ev.Value) != 0
	default:
		// Invalid opcode: log and drop, write still ACKs (spec §7
		// item 3).
		a.log.WithFields(logrus.Fields{
			"queue":  q,
			"opcode": ev.Opcode,
		}).WithError(ErrInvalidOpcode).Warn("dropping host write with unrecognized opcode")
		ok = false
	}

	var se func(a *Arbiter)
	if !ok {
		next = base
	} else if next.Enabled && !next.Paused && next.Active && !next.Scheduled {
		next.Scheduled = true
		qq := q
		se = func(a *Arbiter) {
			a.ready.Push(qq)
			a.activeQueueCount.AddAcqRel(1)
		}
	}

	return &pipelineEvent{Kind: EventHostWrite, Queue: q, HostWrite: ev, result: next, resultValid: true, sideEffect: se}
}

// admitHostRead handles event source 3.
func (a *Arbiter) admitHostRead() *pipelineEvent {
	ev, err := a.hostReads.Dequeue()
	if err != nil {
		return nil
	}
	if ev.Global {
		value := a.readGlobalRegister(ev)
		result := ev.Result
		se := func(a *Arbiter) { trySendResult(result, value) }
		return &pipelineEvent{Kind: EventHostRead, HostRead: ev, sideEffect: se}
	}

	base := a.readQueue(ev.Queue)
	value := EncodeQueueStatus(base)
	result := ev.Result
	se := func(a *Arbiter) { trySendResult(result, value) }
	return &pipelineEvent{Kind: EventHostRead, Queue: ev.Queue, HostRead: ev, sideEffect: se}
}

// admitDoorbell handles event source 4 and spec §4.4's Doorbell
// commit mutation.
func (a *Arbiter) admitDoorbell() *pipelineEvent {
	ev, err := a.doorbells.Dequeue()
	if err != nil {
		return nil
	}
	base := a.readQueue(ev.Queue)
	next := base
	next.Active = true
	next.Generation = (base.Generation + 1) & generationMask

	var se func(a *Arbiter)
	if next.Enabled && !next.Paused && !next.Scheduled {
		next.Scheduled = true
		q := ev.Queue
		se = func(a *Arbiter) {
			a.ready.Push(q)
			a.activeQueueCount.AddAcqRel(1)
		}
	}

	return &pipelineEvent{Kind: EventDoorbell, Queue: ev.Queue, Doorbell: ev, result: next, resultValid: true, sideEffect: se}
}

// admitCompletion handles event source 5 and spec §4.4's Completion
// commit mutation.
func (a *Arbiter) admitCompletion() *pipelineEvent {
	ev, err := a.completions.Dequeue()
	if err != nil {
		return nil
	}
	base := a.readQueue(ev.Queue)
	next := base

	tagMatches := ev.Tag == uint32(base.Generation)
	if !tagMatches {
		a.log.WithFields(logrus.Fields{
			"queue":      ev.Queue,
			"op_slot":    ev.OpSlot,
			"tag":        ev.Tag,
			"generation": base.Generation,
			"kind":       int(ev.Kind),
		}).WithError(ErrStaleCompletion).Debug("ignoring stale completion tag")
	}
	if tagMatches && (ev.Kind == CompletionEmpty || ev.Kind == CompletionError) {
		next.Active = false
	}
	// Start reports a successful dequeue that is still in flight toward
	// the wire; the op slot and tail_op stay live until Finish arrives
	// (spec §6: "start" and "finish" are independent streams for the
	// same operation).
	terminal := ev.Kind != CompletionStart
	if terminal && base.TailOp == ev.OpSlot {
		next.TailOp = noTailOp
	}

	channel, chIdx, chOK := a.selectChannel(base)
	slotID, kind, length := ev.OpSlot, ev.Kind, ev.Len
	se := func(a *Arbiter) {
		if terminal {
			a.ops.Release(slotID)
		}
		if chOK {
			switch kind {
			case CompletionStart:
				channel.txConsume(length)
			case CompletionFinish:
				channel.txRelease(length)
			default:
				channel.fetchRelease()
			}
		}
	}

	return &pipelineEvent{Kind: EventCompletion, Queue: ev.Queue, Completion: ev, result: next, resultValid: true, sideEffect: se, channel: chIdx, hasChannel: chOK}
}

// admitCtrlPlane handles event source 6.
func (a *Arbiter) admitCtrlPlane() *pipelineEvent {
	ev, err := a.ctrlPlane.Dequeue()
	if err != nil {
		return nil
	}
	base := a.readQueue(ev.Queue)
	next := base
	next.Paused = !ev.Enable

	var se func(a *Arbiter)
	if next.Enabled && !next.Paused && next.Active && !next.Scheduled {
		next.Scheduled = true
		q := ev.Queue
		se = func(a *Arbiter) {
			a.ready.Push(q)
			a.activeQueueCount.AddAcqRel(1)
		}
	}

	return &pipelineEvent{Kind: EventCtrlPlane, Queue: ev.Queue, CtrlPlane: ev, result: next, resultValid: true, sideEffect: se}
}

// admitRequest handles event source 7: "admitted only when all of:
// global enable, FCA grants, RSR non-empty, downstream output ready,
// free op-slot available" (spec §4.4). Peek rather than Pop is used
// until every condition is confirmed, so an infeasible cycle never
// disturbs round-robin order.
func (a *Arbiter) admitRequest() *pipelineEvent {
	if !a.globalEnable.LoadAcquire() {
		return nil
	}
	q, err := a.ready.Peek()
	if err != nil {
		return nil
	}
	base := a.readQueue(q)
	channel, chIdx, chOK := a.selectChannel(base)
	if !chOK || !channel.Available() || !a.txOut.Ready() {
		return nil
	}
	eligible := base.Enabled && !base.Paused && base.Active
	if eligible && !a.ops.HasFree() {
		return nil
	}

	q, _ = a.ready.Pop()
	next := base

	if !eligible {
		next.Scheduled = false
		se := func(a *Arbiter) { a.activeQueueCount.AddAcqRel(-1) }
		return &pipelineEvent{Kind: EventRequest, Queue: q, result: next, resultValid: true, sideEffect: se, channel: chIdx, hasChannel: true}
	}

	gen := uint32(base.Generation)
	slotID, allocErr := a.ops.Alloc(q, gen)
	if allocErr != nil {
		// Should not happen given the HasFree check above under the
		// single-goroutine contract; re-queue q at the tail of the ready
		// set rather than drop it.
		a.ready.Push(q)
		return nil
	}
	next.TailOp = int32(slotID)

	dest := uint16(channel.Dest.LoadAcquire())
	req := TxRequest{Queue: q, DestHint: dest, Tag: gen}
	se := func(a *Arbiter) {
		channel.fetchConsume()
		a.txOut.Push(req)
		a.ready.Push(q)
	}
	return &pipelineEvent{Kind: EventRequest, Queue: q, result: next, resultValid: true, sideEffect: se, channel: chIdx, hasChannel: true}
}

// trySendResult delivers a register-read result without ever blocking
// the commit stage; Result must be buffered, so this only drops a
// value if the caller abandoned the read entirely.
func trySendResult(ch chan uint32, value uint32) {
	if ch == nil {
		return
	}
	select {
	case ch <- value:
	default:
	}
}

// dispatchGlobalWrite applies a scheduler/channel/TDMA control-block
// write directly: these registers live outside QSS, so they carry no
// pipeline hazard and are not deferred through the override window
// (spec §4.1 scopes the hazard to "banked RAM", i.e. the queue
// records).
func (a *Arbiter) dispatchGlobalWrite(ev HostWriteEvent) {
	if ev.Region == RegionTDMA {
		a.dispatchTDMAWrite(ev)
		return
	}

	switch {
	case ev.Offset == RegSchedControl:
		a.globalEnable.StoreRelease(ev.Value&0x1 != 0)
	case ev.Offset == RegConfig:
		fcScale := uint8((ev.Value >> 16) & 0xFF)
		for _, ch := range a.channels {
			ch.FCScale = fcScale
		}
	case ev.Offset >= channelBlockBase:
		n := (ev.Offset - channelBlockBase) / channelBlockStride
		sub := (ev.Offset - channelBlockBase) % channelBlockStride
		if int(n) >= len(a.channels) {
			return
		}
		ch := a.channels[n]
		switch sub {
		case 0x00:
			ch.Enabled.StoreRelease(ev.Value&0x1 != 0)
		case 0x04:
			ch.Dest.StoreRelease(uint64(ev.Value & 0xFFFF))
			ch.PktBudget.StoreRelease(int64((ev.Value >> 16) & 0xFFFF))
		case 0x08:
			ch.DataBudget.StoreRelease(int64(ev.Value & 0xFFFF))
			ch.PktLimit.StoreRelease(int64((ev.Value >> 16) & 0xFFFF))
		case 0x0C:
			ch.DataLimit.StoreRelease(int64(ev.Value))
		}
	}
}

// dispatchTDMAWrite applies a TDMA register-block write. Per spec §6,
// schedule-start latches on the sec-high write and schedule-period
// latches on the ns write; the other fields are staged until then.
func (a *Arbiter) dispatchTDMAWrite(ev HostWriteEvent) {
	switch ev.Offset {
	case RegTDMAControl:
		a.tdmaWantEnable = ev.Value&tdmaCtrlBitEnable != 0
		if a.tdmaWantEnable {
			a.tdma.Arm(a.tdmaParams)
		} else {
			a.tdma.Disarm()
		}
	case RegTDMAStartFracNs:
		// Sub-nanosecond precision is accepted but has no
		// representable effect on a time.Duration-based clock.
	case RegTDMAStartNs:
		a.tdmaPendingStartNs = ev.Value
	case RegTDMAStartSecLow:
		a.tdmaPendingSecLow = ev.Value
	case RegTDMAStartSecHigh:
		secs := uint64(ev.Value)<<32 | uint64(a.tdmaPendingSecLow)
		a.tdmaParams.Start = time.Duration(secs)*time.Second + time.Duration(a.tdmaPendingStartNs)
	case RegTDMASchedPeriodFracNs:
	case RegTDMASchedPeriodNs:
		a.tdmaParams.SchedulePeriod = time.Duration(ev.Value)
	case RegTDMATimeslotPeriod:
		a.tdmaParams.TimeslotPeriod = time.Duration(ev.Value)
	case RegTDMAActivePeriod:
		a.tdmaParams.ActivePeriod = time.Duration(ev.Value)
	}
}

// readGlobalRegister answers a read of the control or TDMA register
// blocks.
func (a *Arbiter) readGlobalRegister(ev HostReadEvent) uint32 {
	if ev.Region == RegionTDMA {
		switch ev.Offset {
		case RegTDMAControl:
			clamped := a.tdmaParams.clamp()
			return EncodeTDMAControl(a.tdmaWantEnable, a.tdma.Snapshot(), clamped.timeslotCount())
		default:
			return 0
		}
	}

	switch {
	case ev.Offset == RegSchedControl:
		var v uint32
		if a.globalEnable.LoadAcquire() {
			v |= 1 << 0
		}
		if a.activeQueueCount.LoadAcquire() > 0 {
			v |= 1 << 16
		}
		return v
	case ev.Offset == RegQueueCount:
		return uint32(a.store.Len())
	case ev.Offset == RegQueueStride:
		return 4
	case ev.Offset >= channelBlockBase:
		n := (ev.Offset - channelBlockBase) / channelBlockStride
		sub := (ev.Offset - channelBlockBase) % channelBlockStride
		if int(n) >= len(a.channels) {
			return 0
		}
		ch := a.channels[n]
		switch sub {
		case 0x00:
			var v uint32
			if ch.Enabled.LoadAcquire() {
				v |= chanBitEnable
			}
			if ch.PktsInTx.LoadAcquire() > 0 {
				v |= chanBitActive | chanBitFetchActive
			}
			if ch.Available() {
				v |= chanBitFCAvailable
			}
			return v
		case 0x04:
			return uint32(ch.Dest.LoadAcquire()) | uint32(ch.PktBudget.LoadAcquire())<<16
		case 0x08:
			return uint32(ch.DataBudget.LoadAcquire()) | uint32(ch.PktLimit.LoadAcquire())<<16
		case 0x0C:
			return uint32(ch.DataLimit.LoadAcquire())
		}
	}
	return 0
}
