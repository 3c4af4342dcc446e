// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched_test

import (
	"testing"
	"time"

	"code.hybscloud.com/txsched"
)

// TestTDMAGateDutyCycle is the literal scenario of spec §8 item 5:
// schedule_period=1_000_000ns, timeslot_period=100_000ns,
// active_period=90_000ns, start=0.
func TestTDMAGateDutyCycle(t *testing.T) {
	g := txsched.NewTDMAGate(64)
	if err := g.Arm(txsched.TDMAParams{
		Start:          0,
		SchedulePeriod: 1_000_000 * time.Nanosecond,
		TimeslotPeriod: 100_000 * time.Nanosecond,
		ActivePeriod:   90_000 * time.Nanosecond,
	}); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	for i := 0; i < 10; i++ {
		slotStart := time.Duration(i*100_000) * time.Nanosecond

		out := g.Step(slotStart)
		if !out.Locked {
			t.Fatalf("timeslot %d: expected Locked", i)
		}
		if out.TimeslotIndex != uint32(i) {
			t.Fatalf("timeslot %d: index stepped at slot start: got %d, want %d", i, out.TimeslotIndex, i)
		}
		if !out.TimeslotActive {
			t.Fatalf("timeslot %d: expected active at slot start", i)
		}

		atGuard := slotStart + 90_000*time.Nanosecond
		out = g.Step(atGuard)
		if out.TimeslotActive {
			t.Fatalf("timeslot %d: expected inactive at 90_000ns into the slot", i)
		}
		if out.TimeslotIndex != uint32(i) {
			t.Fatalf("timeslot %d: index must not have advanced yet", i)
		}
	}
}

func TestTDMAGateStartInPastAlignsForward(t *testing.T) {
	g := txsched.NewTDMAGate(64)
	g.Arm(txsched.TDMAParams{
		Start:          -5 * time.Second, // far in the past
		SchedulePeriod: time.Second,
		TimeslotPeriod: 100 * time.Millisecond,
		ActivePeriod:   100 * time.Millisecond,
	})

	out := g.Step(10 * time.Second)
	if !out.Locked {
		t.Fatal("gate must lock even when start is in the past")
	}
	if out.Error {
		t.Fatal("aligning forward from a past start must not itself be an error")
	}
}

func TestTDMAGateClampsOversizedTimeslot(t *testing.T) {
	g := txsched.NewTDMAGate(64)
	err := g.Arm(txsched.TDMAParams{
		SchedulePeriod: 100 * time.Millisecond,
		TimeslotPeriod: time.Second, // > schedule_period
		ActivePeriod:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}

	out := g.Step(0)
	if !out.Locked {
		t.Fatal("clamped schedule must still lock")
	}
}

func TestTDMAGateRefusesOversizedSchedule(t *testing.T) {
	g := txsched.NewTDMAGate(2)
	err := g.Arm(txsched.TDMAParams{
		SchedulePeriod: time.Second,
		TimeslotPeriod: 100 * time.Millisecond, // 10 slots > MaxTimeslots=2
		ActivePeriod:   100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("Arm must refuse a schedule with more timeslots than MaxTimeslots")
	}
}

func TestTDMAGateStepDiscontinuity(t *testing.T) {
	g := txsched.NewTDMAGate(64)
	g.Arm(txsched.TDMAParams{
		SchedulePeriod: time.Second,
		TimeslotPeriod: 100 * time.Millisecond,
		ActivePeriod:   90 * time.Millisecond,
	})
	g.Step(0)

	g.ReportStep(50 * time.Millisecond) // within one timeslot, not an error
	out := g.Step(10 * time.Millisecond)
	if out.Error {
		t.Fatal("a step smaller than timeslot_period must not latch error")
	}

	g.ReportStep(5 * time.Second) // far exceeds timeslot_period
	out = g.Step(20 * time.Millisecond)
	if !out.Error {
		t.Fatal("a step exceeding timeslot_period must latch error")
	}
}
