// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package txsched implements the TX packet scheduler core of a
// high-throughput NIC: the subsystem that decides, cycle by cycle,
// which of up to 2^Q transmit queues may hand a packet to the MAC,
// subject to per-channel flow-control credits and per-queue/per-port
// state.
//
// The core is five cooperating components:
//
//   - [Store] (QSS): the flat per-queue state record array, the only
//     stateful memory of the scheduler.
//   - [ReadySet] (RSR): a bounded FIFO of schedulable queue indexes
//     that drives round-robin fairness.
//   - [Channel] (FCA): per (port, TC) flow-control bookkeeping —
//     in-flight packet and byte credits against host-configured
//     limits and budgets.
//   - [Arbiter] (AP): the staged pipeline that serializes seven event
//     kinds (init, doorbell, host register write/read, completion,
//     control pause/enable, transmit request) into QSS mutations and
//     RSR/operation-table side effects.
//   - [TDMAGate] (TG): an optional overlay that gates scheduler output
//     to active timeslots of a programmable schedule.
//
// # Quick start
//
//	sched := txsched.NewScheduler(txsched.DefaultSchedulerConfig())
//
//	ctx, cancel := context.WithCancel(context.Background())
//	go sched.Run(ctx)
//
//	sched.SetGlobalEnable(true)
//	sched.SetQueueEnable(3, true)
//	sched.SetPortControl(3, 0, 0, true, false)
//	sched.Doorbell(3)
//
//	req, _ := sched.TxRequests().Pop()
//	sched.Finish(req.Queue, 0, req.Tag, 1500)
//
//	cancel()
//
// # Concurrency model
//
// Exactly one goroutine ever calls [Arbiter.Step]; every other
// producer (doorbells, completions, host register writes) pushes into
// a bounded lock-free ingress ring that the arbiter polls in strict
// priority order at its admit stage. There is no lock because there is
// no shared mutable state outside that single goroutine — external
// readers (register reads, Prometheus export) only ever read atomic
// cells.
package txsched
