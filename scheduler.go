// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SchedulerConfig bundles an ArbiterConfig with the run-loop's pacing
// and logging.
type SchedulerConfig struct {
	Arbiter ArbiterConfig

	// StepInterval paces Scheduler.Run's pipeline loop. The RTL source
	// this core is modeled on steps once per clock; a software stand-in
	// has no clock edge to follow, so Run ticks at StepInterval instead
	// (zero means "as fast as possible").
	StepInterval time.Duration

	Log *logrus.Logger
}

// DefaultSchedulerConfig returns defaults suitable for a single-NIC
// development instance.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Arbiter:      DefaultArbiterConfig(),
		StepInterval: 0,
		Log:          defaultLogger(),
	}
}

// Scheduler is the top-level TX packet scheduler core (spec §2):
// Queue State Store, Ready-Set Ring, Flow-Control Accountant, Arbiter
// Pipeline, and TDMA Gate wired into one runnable unit.
type Scheduler struct {
	arbiter   *Arbiter
	registers *RegisterFile
	cfg       SchedulerConfig
	log       *logrus.Entry
}

// NewScheduler builds a Scheduler from cfg.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Log == nil {
		cfg.Log = defaultLogger()
	}
	arbiter := NewArbiter(cfg.Arbiter)
	log := cfg.Log.WithField("component", "txsched")
	arbiter.SetLogger(log)
	return &Scheduler{
		arbiter:   arbiter,
		registers: NewRegisterFile(arbiter),
		cfg:       cfg,
		log:       log,
	}
}

// Arbiter exposes the underlying pipeline for metrics collection and
// tests.
func (s *Scheduler) Arbiter() *Arbiter { return s.arbiter }

// Registers exposes the register-mapped I/O surface that SetQueueEnable,
// SetPortControl, SetGlobalEnable, and ReadQueueStatus are themselves
// built on, for a caller that wants to address the register file
// directly by offset (e.g. a PCIe BAR trap handler).
func (s *Scheduler) Registers() *RegisterFile { return s.registers }

// Run drives the arbiter's pipeline until ctx is canceled. Exactly one
// goroutine calls Arbiter.Step (spec §5: "single-threaded cooperative
// within the scheduler core"); Run is that goroutine. Every other
// interaction with the scheduler — doorbells, register writes,
// completions — happens by posting to an ingress ring and is safe to
// call from any goroutine concurrently with Run.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runID := newTraceID()
		s.log.WithField("trace_id", runID).Info("scheduler pipeline starting")
		defer s.log.WithField("trace_id", runID).Info("scheduler pipeline stopped")

		if s.cfg.StepInterval <= 0 {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
					s.arbiter.Step()
				}
			}
		}

		ticker := time.NewTicker(s.cfg.StepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				s.arbiter.Step()
			}
		}
	})
	return g.Wait()
}

// Doorbell posts a doorbell notification for queue q (spec §6
// doorbell stream).
func (s *Scheduler) Doorbell(q uint32) error {
	return s.arbiter.PostDoorbell(DoorbellEvent{Queue: q})
}

// Dequeue posts a status-stream event reporting a failed fetch
// attempt (spec §6 "dequeue {queue, tag, empty, error}").
func (s *Scheduler) Dequeue(q uint32, opSlot int32, tag uint32, empty bool) error {
	kind := CompletionError
	if empty {
		kind = CompletionEmpty
	}
	return s.arbiter.PostCompletion(CompletionEvent{Queue: q, OpSlot: opSlot, Tag: tag, Kind: kind})
}

// Start posts a successful fetch-start (spec §6 "start {queue, tag,
// len, error}"): the op slot stays allocated until the matching Finish
// arrives.
func (s *Scheduler) Start(q uint32, opSlot int32, tag uint32, length uint32) error {
	return s.arbiter.PostCompletion(CompletionEvent{Queue: q, OpSlot: opSlot, Tag: tag, Kind: CompletionStart, Len: length})
}

// Finish posts a successful completion (spec §6 "finish {queue, tag,
// len}").
func (s *Scheduler) Finish(q uint32, opSlot int32, tag uint32, length uint32) error {
	return s.arbiter.PostCompletion(CompletionEvent{Queue: q, OpSlot: opSlot, Tag: tag, Kind: CompletionFinish, Len: length})
}

func boolArg(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// SetQueueEnable posts a per-queue command register write enabling or
// disabling q.
func (s *Scheduler) SetQueueEnable(q uint32, enable bool) error {
	return s.registers.WriteQueueCommand(q, EncodeOpcode(OpcodeSetQueueEnable, 0, boolArg(enable)))
}

// SetQueuePause posts a per-queue command register write pausing or
// resuming q.
func (s *Scheduler) SetQueuePause(q uint32, pause bool) error {
	return s.registers.WriteQueueCommand(q, EncodeOpcode(OpcodeSetQueuePause, 0, boolArg(pause)))
}

// SetPortControl posts per-queue command register writes for port
// pp's TC, enable, and pause fields on queue q.
func (s *Scheduler) SetPortControl(q uint32, port uint8, tc uint8, enable, pause bool) error {
	if err := s.registers.WriteQueueCommand(q, EncodeOpcode(OpcodeSetPortTC, port, tc)); err != nil {
		return err
	}
	if err := s.registers.WriteQueueCommand(q, EncodeOpcode(OpcodeSetPortEnable, port, boolArg(enable))); err != nil {
		return err
	}
	return s.registers.WriteQueueCommand(q, EncodeOpcode(OpcodeSetPortPause, port, boolArg(pause)))
}

// CtrlPlaneSet posts an out-of-band pause/enable request from an
// external controller such as the TDMA gate (spec §6 scheduler
// control stream).
func (s *Scheduler) CtrlPlaneSet(q uint32, enable bool) error {
	return s.arbiter.PostCtrlPlane(CtrlPlaneEvent{Queue: q, Enable: enable})
}

// SetGlobalEnable posts a write to the scheduler control register's
// enable bit (spec §6 offset 0x18).
func (s *Scheduler) SetGlobalEnable(enable bool) error {
	return s.registers.WriteControl(RegSchedControl, uint32(boolArg(enable)))
}

// ReadQueueStatus issues a blocking register read of q's packed status
// word (spec §6 "Reads return a packed status").
func (s *Scheduler) ReadQueueStatus(ctx context.Context, q uint32) (uint32, error) {
	return s.registers.ReadQueueStatus(ctx, q)
}

// TxRequests exposes the egress ring so the TX engine boundary can
// drain admitted requests.
func (s *Scheduler) TxRequests() *TxRequestRing { return s.arbiter.TxRequests() }
