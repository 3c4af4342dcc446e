// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import "code.hybscloud.com/atomix"

// MaxPortsPerQueue bounds how many physical ports a single queue may
// feed (spec §3: "one such byte per physical port this queue may
// feed"). Sized generously; unused port slots simply stay disabled.
const MaxPortsPerQueue = 8

// GenerationWidth is the bit width of QueueRecord.generation (spec
// §3: "small integer, >= 8 bits"). Arithmetic and stale-completion
// comparison are taken modulo 1<<GenerationWidth.
const GenerationWidth = 8

const generationMask = uint64(1)<<GenerationWidth - 1

// noTailOp is the sentinel tail_op value meaning "no outstanding
// operation for this queue".
const noTailOp int32 = -1

// PortControl is the packed per-port control byte of spec §3:
// "{port_tc (3 bits), port_enable, port_pause, port_scheduled_flag}".
// Packed into one atomic cell so a register read never observes a
// torn combination of fields while the arbiter is mutating it.
type PortControl struct {
	v atomix.Uint64
}

const (
	pcTCMask      = 0x7
	pcEnableBit   = 1 << 3
	pcPauseBit    = 1 << 4
	pcScheduleBit = 1 << 5
)

// Get returns the decoded fields.
func (p *PortControl) Get() (tc uint8, enable, pause, scheduled bool) {
	v := p.v.LoadAcquire()
	tc = uint8(v & pcTCMask)
	enable = v&pcEnableBit != 0
	pause = v&pcPauseBit != 0
	scheduled = v&pcScheduleBit != 0
	return
}

// pack encodes the fields into the bit layout stored in v.
func packPortControl(tc uint8, enable, pause, scheduled bool) uint64 {
	v := uint64(tc & pcTCMask)
	if enable {
		v |= pcEnableBit
	}
	if pause {
		v |= pcPauseBit
	}
	if scheduled {
		v |= pcScheduleBit
	}
	return v
}

// mutate applies fn to the current decoded fields and stores the
// result, retrying on concurrent writers. The arbiter is the only
// writer in practice (single-threaded), so this never spins more than
// once; the CAS loop exists to make that a property of the pipeline's
// serialization, not an assumption baked into PortControl itself.
func (p *PortControl) mutate(fn func(tc uint8, enable, pause, scheduled bool) (uint8, bool, bool, bool)) {
	for {
		old := p.v.LoadAcquire()
		tc := uint8(old & pcTCMask)
		enable := old&pcEnableBit != 0
		pause := old&pcPauseBit != 0
		scheduled := old&pcScheduleBit != 0

		ntc, nenable, npause, nscheduled := fn(tc, enable, pause, scheduled)
		next := packPortControl(ntc, nenable, npause, nscheduled)
		if p.v.CompareAndSwapAcqRel(old, next) {
			return
		}
	}
}

// SetTC updates only the traffic-class field.
func (p *PortControl) SetTC(tc uint8) {
	p.mutate(func(_ uint8, e, pa, s bool) (uint8, bool, bool, bool) { return tc, e, pa, s })
}

// SetEnable updates only the port-enable field.
func (p *PortControl) SetEnable(enable bool) {
	p.mutate(func(tc uint8, _ bool, pa, s bool) (uint8, bool, bool, bool) { return tc, enable, pa, s })
}

// SetPause updates only the port-pause field.
func (p *PortControl) SetPause(pause bool) {
	p.mutate(func(tc uint8, e bool, _ bool, s bool) (uint8, bool, bool, bool) { return tc, e, pause, s })
}

// SetScheduledFlag updates only the port-scheduled-flag field.
func (p *PortControl) SetScheduledFlag(scheduled bool) {
	p.mutate(func(tc uint8, e, pa bool, _ bool) (uint8, bool, bool, bool) { return tc, e, pa, scheduled })
}

// decodePortControl unpacks a raw packed port-control value, the
// snapshot-side counterpart of PortControl.Get.
func decodePortControl(v uint64) (tc uint8, enable, pause, scheduled bool) {
	tc = uint8(v & pcTCMask)
	enable = v&pcEnableBit != 0
	pause = v&pcPauseBit != 0
	scheduled = v&pcScheduleBit != 0
	return
}

// withPortTC returns v with its traffic-class field replaced.
func withPortTC(v uint64, tc uint8) uint64 {
	_, e, pa, s := decodePortControl(v)
	return packPortControl(tc, e, pa, s)
}

// withPortEnable returns v with its enable field replaced.
func withPortEnable(v uint64, enable bool) uint64 {
	tc, _, pa, s := decodePortControl(v)
	return packPortControl(tc, enable, pa, s)
}

// withPortPause returns v with its pause field replaced.
func withPortPause(v uint64, pause bool) uint64 {
	tc, e, _, s := decodePortControl(v)
	return packPortControl(tc, e, pause, s)
}

// QueueRecord is the per-queue state record of spec §3. Fields are
// atomic cells so a register read or metrics collection on another
// goroutine observes a consistent, if possibly momentarily stale,
// snapshot without coordinating with the arbiter goroutine.
type QueueRecord struct {
	Enabled    atomix.Bool
	Paused     atomix.Bool
	Active     atomix.Bool
	Scheduled  atomix.Bool
	Generation atomix.Uint64
	TailOp     atomix.Int32 // op-slot id, or noTailOp
	Ports      [MaxPortsPerQueue]PortControl
}

func (r *QueueRecord) reset() {
	r.Enabled.StoreRelease(false)
	r.Paused.StoreRelease(false)
	r.Active.StoreRelease(false)
	r.Scheduled.StoreRelease(false)
	r.Generation.StoreRelease(0)
	r.TailOp.StoreRelease(noTailOp)
	for i := range r.Ports {
		r.Ports[i].v.StoreRelease(0)
	}
}

// snapshot is an immutable copy of a record's scalar fields, used by
// the arbiter to compute commit-stage mutations without repeatedly
// touching atomic cells (and as the override-window payload of spec
// §4.1 / §9 strategy (b)).
type snapshot struct {
	Enabled, Paused, Active, Scheduled bool
	Generation                         uint64
	TailOp                             int32
	Ports                              [MaxPortsPerQueue]uint64
}

func (r *QueueRecord) snapshot() snapshot {
	var s snapshot
	s.Enabled = r.Enabled.LoadAcquire()
	s.Paused = r.Paused.LoadAcquire()
	s.Active = r.Active.LoadAcquire()
	s.Scheduled = r.Scheduled.LoadAcquire()
	s.Generation = r.Generation.LoadAcquire()
	s.TailOp = r.TailOp.LoadAcquire()
	for i := range r.Ports {
		s.Ports[i] = r.Ports[i].v.LoadAcquire()
	}
	return s
}

func (r *QueueRecord) applySnapshot(s snapshot) {
	r.Enabled.StoreRelease(s.Enabled)
	r.Paused.StoreRelease(s.Paused)
	r.Active.StoreRelease(s.Active)
	r.Scheduled.StoreRelease(s.Scheduled)
	r.Generation.StoreRelease(s.Generation)
	r.TailOp.StoreRelease(s.TailOp)
	for i := range r.Ports {
		r.Ports[i].v.StoreRelease(s.Ports[i])
	}
}

// Store is the Queue State Store (QSS): a fixed array of 2^Q records,
// the only stateful memory of the scheduler (spec §4.1).
type Store struct {
	records []QueueRecord
}

// NewStore allocates a store sized to 2^logQueues records, all zeroed
// (generation=0), per spec §3's creation lifecycle.
func NewStore(logQueues int) *Store {
	n := 1 << uint(logQueues)
	s := &Store{records: make([]QueueRecord, n)}
	for i := range s.records {
		s.records[i].reset()
	}
	return s
}

// Len returns 2^Q, the number of queue records.
func (s *Store) Len() int { return len(s.records) }

// Get returns a pointer to the committed record for q. The pointer is
// safe to read concurrently (all fields are atomic cells); only the
// arbiter goroutine should ever write through it, and only via
// applySnapshot at commit time, so that the override window in
// arbiter.go stays authoritative for in-flight reads.
func (s *Store) Get(q uint32) *QueueRecord {
	return &s.records[int(q)&(len(s.records)-1)]
}
