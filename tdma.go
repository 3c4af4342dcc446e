// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import "time"

// TimeSource is the scheduler's only view of the external PTP feed
// (spec §1: "PTP time source... supplies a monotonic time-of-day feed
// only", out of scope). Now returns an offset from an arbitrary fixed
// epoch; callers compare durations, never wall-clock dates.
type TimeSource interface {
	Now() time.Duration
}

// wallClockSource is a production TimeSource backed by time.Now.
type wallClockSource struct{ epoch time.Time }

// NewWallClockSource returns a TimeSource anchored to the instant it
// is created.
func NewWallClockSource() TimeSource {
	return &wallClockSource{epoch: time.Now()}
}

func (w *wallClockSource) Now() time.Duration {
	return time.Since(w.epoch)
}

// TDMAParams are the four host-programmable parameters of spec §4.5.
type TDMAParams struct {
	Start          time.Duration
	SchedulePeriod time.Duration
	TimeslotPeriod time.Duration
	ActivePeriod   time.Duration
}

// clamp applies spec §4.5's clamping rule: "timeslot_period >
// schedule_period and active_period > timeslot_period are clamped:
// the longer value loses."
func (p TDMAParams) clamp() TDMAParams {
	out := p
	if out.TimeslotPeriod > out.SchedulePeriod {
		out.TimeslotPeriod = out.SchedulePeriod
	}
	if out.ActivePeriod > out.TimeslotPeriod {
		out.ActivePeriod = out.TimeslotPeriod
	}
	return out
}

// timeslotCount returns K, the number of timeslots per schedule,
// rounded up per spec §4.5 ("Rounding rule: periods round up to avoid
// an extraneous short slot at end-of-schedule").
func (p TDMAParams) timeslotCount() uint32 {
	if p.TimeslotPeriod <= 0 {
		return 0
	}
	n := p.SchedulePeriod / p.TimeslotPeriod
	if p.SchedulePeriod%p.TimeslotPeriod != 0 {
		n++
	}
	return uint32(n)
}

// TDMAOutput is the gate's emitted signal set (spec §4.5).
type TDMAOutput struct {
	TimeslotIndex  uint32
	TimeslotStart  bool
	TimeslotEnd    bool
	TimeslotActive bool
	Locked         bool
	Error          bool
}

// TDMAGate is the TDMA overlay (spec §4.5): a pure observer of QSS
// that gates the scheduler's "emit" action to active timeslots of a
// programmable schedule. It never mutates queue state.
type TDMAGate struct {
	params         TDMAParams
	enabled        bool
	effectiveStart time.Duration
	locked         bool
	errorLatched   bool
	lastIndex      uint32
	haveLastIndex  bool
	maxTimeslots   uint32
	lastOutput     TDMAOutput
}

// Snapshot returns the output from the most recent Step call without
// advancing time. Used by the metrics collector and by register reads
// that must not perturb edge-pulse detection by calling Step again
// with a slightly different "now".
func (g *TDMAGate) Snapshot() TDMAOutput { return g.lastOutput }

// NewTDMAGate creates a disarmed gate. MaxTimeslots bounds the
// schedule size the gate supports (spec §6 register "timeslot
// count"); Arm refuses an oversized schedule per spec §7 item 3.
func NewTDMAGate(maxTimeslots uint32) *TDMAGate {
	return &TDMAGate{maxTimeslots: maxTimeslots}
}

// Arm programs the gate's parameters and enables it. Returns
// ErrTDMAScheduleOversized (without changing the currently armed
// schedule) if the requested schedule would exceed MaxTimeslots (spec
// §7: "refuse to arm, set TDMA error bit").
func (g *TDMAGate) Arm(p TDMAParams) error {
	clamped := p.clamp()
	if clamped.timeslotCount() > g.maxTimeslots {
		g.errorLatched = true
		return ErrTDMAScheduleOversized
	}
	g.params = clamped
	g.enabled = true
	g.locked = false
	g.errorLatched = false
	g.haveLastIndex = false
	return nil
}

// Disarm disables the gate; Step then reports a zeroed, unlocked
// output.
func (g *TDMAGate) Disarm() {
	g.enabled = false
	g.locked = false
}

// ReportStep notifies the gate of a PTP step discontinuity of the
// given magnitude (design notes §9: "Design assumes steps are
// reported via a step signal"). A step whose magnitude exceeds the
// timeslot period deasserts Locked and latches Error; the next Step
// call recomputes alignment from scratch rather than silently
// re-aligning mid-schedule.
func (g *TDMAGate) ReportStep(magnitude time.Duration) {
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if magnitude > g.params.TimeslotPeriod {
		g.errorLatched = true
		g.locked = false
		g.haveLastIndex = false
	}
}

// Step advances the gate to time now and returns the current output.
// The result is cached; see Snapshot.
func (g *TDMAGate) Step(now time.Duration) TDMAOutput {
	out := g.step(now)
	g.lastOutput = out
	return out
}

func (g *TDMAGate) step(now time.Duration) TDMAOutput {
	if !g.enabled || g.params.SchedulePeriod <= 0 || g.params.TimeslotPeriod <= 0 {
		return TDMAOutput{Error: g.errorLatched}
	}

	if !g.locked {
		g.effectiveStart = alignForward(g.params.Start, g.params.SchedulePeriod, now)
		g.locked = true
		g.haveLastIndex = false
	}

	elapsedInSchedule := now - g.effectiveStart
	if elapsedInSchedule < 0 {
		// Not yet reached the first aligned schedule instant.
		return TDMAOutput{Locked: true, Error: g.errorLatched}
	}
	schedulePos := elapsedInSchedule % g.params.SchedulePeriod
	index := uint32(schedulePos / g.params.TimeslotPeriod)
	posInSlot := schedulePos % g.params.TimeslotPeriod

	out := TDMAOutput{
		TimeslotIndex:  index,
		TimeslotActive: posInSlot < g.params.ActivePeriod,
		Locked:         true,
		Error:          g.errorLatched,
	}
	if !g.haveLastIndex || g.lastIndex != index {
		out.TimeslotStart = posInSlot < g.params.TimeslotPeriod
		if g.haveLastIndex {
			out.TimeslotEnd = true
		}
	}
	g.lastIndex = index
	g.haveLastIndex = true
	return out
}

// alignForward computes the first schedule-start instant >= now that
// is congruent to start modulo period (spec §4.5: "If start is in the
// past, align it forward").
func alignForward(start, period, now time.Duration) time.Duration {
	if start >= now {
		return start
	}
	phase := start % period
	if phase < 0 {
		phase += period
	}
	base := now - (now % period)
	candidate := phase + base
	if candidate < now {
		candidate += period
	}
	return candidate
}
