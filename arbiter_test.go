// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched_test

import (
	"testing"

	"code.hybscloud.com/txsched"
)

func smallArbiterConfig() txsched.ArbiterConfig {
	cfg := txsched.DefaultArbiterConfig()
	cfg.LogQueues = 0 // 1 queue
	cfg.Depth = 2
	cfg.NumPorts = 1
	cfg.NumTCs = 1
	cfg.OpSlots = 4
	cfg.DoorbellDepth = 8
	cfg.IngressDepth = 8
	cfg.TxOutDepth = 8
	cfg.MaxTimeslots = 4
	cfg.PktLimit = 64
	cfg.DataLimit = 1 << 20
	return cfg
}

func enableGlobal(a *txsched.Arbiter) {
	a.PostHostWrite(txsched.HostWriteEvent{
		Global: true, Region: txsched.RegionControl,
		Offset: txsched.RegSchedControl, Value: 1,
	})
}

func enableQueuePort(a *txsched.Arbiter, q uint32, port uint8) {
	a.PostHostWrite(txsched.HostWriteEvent{Queue: q, Opcode: txsched.OpcodeSetQueueEnable, Value: 1})
	a.PostHostWrite(txsched.HostWriteEvent{Queue: q, Opcode: txsched.OpcodeSetPortEnable, Value: uint32(port)<<8 | 1})
}

func TestArbiterSingleQueueRoundTrip(t *testing.T) {
	a := txsched.NewArbiter(smallArbiterConfig())

	enableGlobal(a)
	ch := a.Channels()[0]
	ch.Enabled.StoreRelease(true)
	ch.Dest.StoreRelease(5)

	enableQueuePort(a, 0, 0)
	if err := a.PostDoorbell(txsched.DoorbellEvent{Queue: 0}); err != nil {
		t.Fatalf("PostDoorbell: %v", err)
	}

	var req txsched.TxRequest
	var err error
	for i := 0; i < 40; i++ {
		a.Step()
		if req, err = a.TxRequests().Pop(); err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("never admitted a TxRequest: %v", err)
	}
	if req.Queue != 0 {
		t.Fatalf("Queue: got %d, want 0", req.Queue)
	}
	if req.DestHint != 5 {
		t.Fatalf("DestHint: got %d, want 5", req.DestHint)
	}
	if req.Tag != 1 {
		t.Fatalf("Tag: got %d, want 1 (generation after one doorbell)", req.Tag)
	}

	rec := a.Store().Get(0)
	if rec.TailOp.LoadAcquire() == -1 {
		t.Fatal("tail_op must be set to the allocated op slot while the fetch is in flight")
	}
}

// TestArbiterStepRefreshesCreditEveryCycle guards against a flow-control
// channel that is never granted credit because nothing ever calls
// Channel.Refresh: Step must do this itself every cycle (spec §4.3
// "each cycle, the FCA refreshes fetch_fc_lim..."), not rely on a
// caller to remember.
func TestArbiterStepRefreshesCreditEveryCycle(t *testing.T) {
	a := txsched.NewArbiter(smallArbiterConfig())

	enableGlobal(a)
	ch := a.Channels()[0]
	ch.Enabled.StoreRelease(true)
	if ch.Available() {
		t.Fatal("a freshly constructed channel must start with no granted credit")
	}

	enableQueuePort(a, 0, 0)
	a.PostDoorbell(txsched.DoorbellEvent{Queue: 0})

	var err error
	for i := 0; i < 40; i++ {
		a.Step()
		if _, err = a.TxRequests().Pop(); err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("never admitted a TxRequest: Step must refresh channel credit without a manual Channel.Refresh call: %v", err)
	}
}

func TestArbiterFairnessRoundRobin(t *testing.T) {
	cfg := smallArbiterConfig()
	cfg.LogQueues = 1 // 2 queues
	cfg.OpSlots = 8
	cfg.Depth = 3
	a := txsched.NewArbiter(cfg)

	enableGlobal(a)
	ch := a.Channels()[0]
	ch.Enabled.StoreRelease(true)

	enableQueuePort(a, 0, 0)
	enableQueuePort(a, 1, 0)
	a.PostDoorbell(txsched.DoorbellEvent{Queue: 0})
	a.PostDoorbell(txsched.DoorbellEvent{Queue: 1})

	for i := 0; i < 300; i++ {
		a.Step()
	}

	var reqs []txsched.TxRequest
	for {
		req, err := a.TxRequests().Pop()
		if err != nil {
			break
		}
		reqs = append(reqs, req)
	}

	if len(reqs) < 4 {
		t.Fatalf("too few admitted requests to judge fairness: got %d", len(reqs))
	}

	counts := map[uint32]int{}
	for i, r := range reqs {
		counts[r.Queue]++
		if i > 0 && reqs[i-1].Queue == r.Queue {
			t.Fatalf("two consecutive requests served the same queue at index %d: %+v then %+v", i, reqs[i-1], r)
		}
	}
	if counts[0] == 0 || counts[1] == 0 {
		t.Fatalf("both queues must be served: counts=%v", counts)
	}
	diff := counts[0] - counts[1]
	if diff < -1 || diff > 1 {
		t.Fatalf("round-robin service counts diverged beyond the fairness bound: %v", counts)
	}
}

func TestArbiterStaleCompletionTagIgnored(t *testing.T) {
	cfg := smallArbiterConfig()
	cfg.PktLimit = 1
	a := txsched.NewArbiter(cfg)

	enableGlobal(a)
	ch := a.Channels()[0]
	ch.Enabled.StoreRelease(true)
	// pkts_in_fetch=0: k=1 fits within pkt_limit=1 (Arbiter.Step refreshes
	// every channel each cycle, so no manual Refresh is needed here).

	enableQueuePort(a, 0, 0)
	a.PostDoorbell(txsched.DoorbellEvent{Queue: 0})

	var req txsched.TxRequest
	var err error
	for i := 0; i < 40; i++ {
		a.Step()
		if req, err = a.TxRequests().Pop(); err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("never admitted a TxRequest: %v", err)
	}

	// Freeze further admission: pkts_in_fetch is now 1, which no longer
	// fits under pkt_limit=1 for any candidate k.
	ch.Refresh()
	if ch.Available() {
		t.Fatal("channel must be saturated after the only in-flight fetch")
	}

	rec := a.Store().Get(0)
	tailOp := rec.TailOp.LoadAcquire()
	if tailOp == -1 {
		t.Fatal("tail_op must still reference the in-flight operation")
	}

	// A completion whose tag does not match the current generation must
	// not clear active (spec invariant I5: stale completions ignored).
	a.PostCompletion(txsched.CompletionEvent{Queue: 0, OpSlot: tailOp, Tag: req.Tag + 1, Kind: txsched.CompletionEmpty})
	for i := 0; i < 10; i++ {
		a.Step()
	}
	if !rec.Active.LoadAcquire() {
		t.Fatal("a stale-tagged completion must not clear active")
	}

	// A completion with the matching tag does clear active.
	a.PostCompletion(txsched.CompletionEvent{Queue: 0, OpSlot: tailOp, Tag: req.Tag, Kind: txsched.CompletionEmpty})
	for i := 0; i < 10; i++ {
		a.Step()
	}
	if rec.Active.LoadAcquire() {
		t.Fatal("a completion with the current generation's tag must clear active")
	}
}

func TestArbiterStartKeepsOpSlotUntilFinish(t *testing.T) {
	cfg := smallArbiterConfig()
	cfg.PktLimit = 1 // one outstanding fetch, so no second request takes a slot
	a := txsched.NewArbiter(cfg)

	enableGlobal(a)
	ch := a.Channels()[0]
	ch.Enabled.StoreRelease(true)

	enableQueuePort(a, 0, 0)
	a.PostDoorbell(txsched.DoorbellEvent{Queue: 0})

	var req txsched.TxRequest
	var err error
	for i := 0; i < 40; i++ {
		a.Step()
		if req, err = a.TxRequests().Pop(); err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("never admitted a TxRequest: %v", err)
	}

	rec := a.Store().Get(0)
	tailOp := rec.TailOp.LoadAcquire()
	occupiedBefore := a.OpTable().Occupied()

	a.PostCompletion(txsched.CompletionEvent{Queue: 0, OpSlot: tailOp, Tag: req.Tag, Kind: txsched.CompletionStart, Len: 1500})
	for i := 0; i < 10; i++ {
		a.Step()
	}
	if a.OpTable().Occupied() != occupiedBefore {
		t.Fatal("a start completion must not release the op slot")
	}
	if rec.TailOp.LoadAcquire() != tailOp {
		t.Fatal("a start completion must not clear tail_op")
	}
	if a.Channels()[0].PktsInTx.LoadAcquire() != 1 {
		t.Fatal("a start completion must move the packet from pkts_in_fetch to pkts_in_tx")
	}

	// The queue is still active, so round-robin would re-admit it as soon
	// as finish returns the credit; stop admission first so the released
	// slot is observable.
	a.PostHostWrite(txsched.HostWriteEvent{
		Global: true, Region: txsched.RegionControl,
		Offset: txsched.RegSchedControl, Value: 0,
	})
	a.PostCompletion(txsched.CompletionEvent{Queue: 0, OpSlot: tailOp, Tag: req.Tag, Kind: txsched.CompletionFinish, Len: 1500})
	for i := 0; i < 10; i++ {
		a.Step()
	}
	if a.OpTable().Occupied() != occupiedBefore-1 {
		t.Fatal("finish must release the op slot that start left allocated")
	}
	if rec.TailOp.LoadAcquire() != -1 {
		t.Fatal("finish must clear tail_op")
	}
	if a.Channels()[0].PktsInTx.LoadAcquire() != 0 {
		t.Fatal("finish must release the in-flight tx packet")
	}
}

func TestArbiterDisableMidFlightStillFinishes(t *testing.T) {
	cfg := smallArbiterConfig()
	cfg.PktLimit = 1 // exactly one request in flight
	a := txsched.NewArbiter(cfg)

	enableGlobal(a)
	ch := a.Channels()[0]
	ch.Enabled.StoreRelease(true)

	enableQueuePort(a, 0, 0)
	a.PostDoorbell(txsched.DoorbellEvent{Queue: 0})

	var req txsched.TxRequest
	var err error
	for i := 0; i < 40; i++ {
		a.Step()
		if req, err = a.TxRequests().Pop(); err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("never admitted a TxRequest: %v", err)
	}

	rec := a.Store().Get(0)
	tailOp := rec.TailOp.LoadAcquire()

	a.PostHostWrite(txsched.HostWriteEvent{Queue: 0, Opcode: txsched.OpcodeSetQueueEnable, Value: 0})
	for i := 0; i < 10; i++ {
		a.Step()
	}
	if rec.Enabled.LoadAcquire() {
		t.Fatal("queue must be disabled once the host write commits")
	}

	a.PostCompletion(txsched.CompletionEvent{Queue: 0, OpSlot: tailOp, Tag: req.Tag, Kind: txsched.CompletionStart, Len: 64})
	a.PostCompletion(txsched.CompletionEvent{Queue: 0, OpSlot: tailOp, Tag: req.Tag, Kind: txsched.CompletionFinish, Len: 64})
	for i := 0; i < 10; i++ {
		a.Step()
	}

	if rec.TailOp.LoadAcquire() != -1 {
		t.Fatal("finish must still release tail_op even after the queue was disabled mid-flight")
	}
	if a.OpTable().Occupied() != 0 {
		t.Fatal("finish must still release the op slot after a mid-flight disable")
	}
	if rec.Scheduled.LoadAcquire() {
		t.Fatal("a disabled queue must not remain scheduled")
	}

	// With the queue disabled, it must never be re-admitted.
	for i := 0; i < 20; i++ {
		a.Step()
		if _, err := a.TxRequests().Pop(); err == nil {
			t.Fatal("a disabled queue must not be re-admitted")
		}
	}
}
