// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/gcfg.v1"
)

// bringUpConfig is the host-supplied INI bring-up configuration: the
// channel topology and TDMA schedule a Scheduler is armed with before
// the register interface takes over steady-state control. Mirrors the
// register surface's own grouping (spec §6) rather than inventing a
// parallel shape.
type bringUpConfig struct {
	Scheduler struct {
		Ports    int
		TCs      int
		FCScale  int `gcfg:"fc-scale"`
		PktLimit int64 `gcfg:"pkt-limit"`
		DataLimit int64 `gcfg:"data-limit"`
	}
	TDMA struct {
		Enabled        bool
		StartNs        int64 `gcfg:"start-ns"`
		SchedulePeriod int64 `gcfg:"schedule-period-ns"`
		TimeslotPeriod int64 `gcfg:"timeslot-period-ns"`
		ActivePeriod   int64 `gcfg:"active-period-ns"`
	}
}

// loadBringUpConfig parses an INI-format bring-up file in the shape:
//
//	[scheduler]
//	ports = 4
//	tcs = 4
//	fc-scale = 3
//	pkt-limit = 64
//	data-limit = 1048576
//
//	[tdma]
//	enabled = true
//	start-ns = 0
//	schedule-period-ns = 1000000
//	timeslot-period-ns = 100000
//	active-period-ns = 90000
func loadBringUpConfig(path string) (bringUpConfig, error) {
	var cfg bringUpConfig
	if err := gcfg.ReadFileInto(&cfg, path); err != nil {
		return bringUpConfig{}, fmt.Errorf("txsched: reading bring-up config: %w", err)
	}
	return cfg, nil
}

// apply arms the scheduler's channels and TDMA gate from the parsed
// bring-up config. It is also the target of ConfigWatcher's hot
// reload: a later apply call re-arms in place via the same register
// write path a host CLI would use (registers.WriteControl/WriteTDMA),
// so there is exactly one code path for "change the schedule"
// regardless of trigger, and config changes are serialized through
// the arbiter's own admit/commit pipeline rather than racing it from
// the fsnotify goroutine.
func (c bringUpConfig) apply(s *Scheduler) error {
	regs := s.Registers()

	// Ports and TCs are written into RegConfig, but the arbiter applies
	// only that register's FC scale field: the channel array keeps the
	// port/TC size the Scheduler was constructed with.
	if c.Scheduler.FCScale > 0 || c.Scheduler.Ports > 0 || c.Scheduler.TCs > 0 {
		cfgWord := uint32(c.Scheduler.TCs)&0xFF | (uint32(c.Scheduler.Ports)&0xFF)<<8 | (uint32(c.Scheduler.FCScale)&0xFF)<<16
		if err := regs.WriteControl(RegConfig, cfgWord); err != nil {
			return err
		}
	}

	for n := range s.arbiter.Channels() {
		off := func(sub uint32) uint32 { return channelRegOffset(uint32(n), sub) }
		if err := regs.WriteControl(off(0x00), 1); err != nil {
			return err
		}
		if c.Scheduler.PktLimit > 0 || c.Scheduler.DataLimit > 0 {
			// Sub-offset 0x08 packs data_budget (bits 15:0) and
			// pkt_limit (bits 31:16) into one 16-bit-each register, the
			// real hardware field width; a config value above 0xFFFF
			// truncates the same way a host write through this offset
			// would.
			word := uint32(c.Scheduler.DataLimit)&0xFFFF | (uint32(c.Scheduler.PktLimit)&0xFFFF)<<16
			if err := regs.WriteControl(off(0x08), word); err != nil {
				return err
			}
		}
		if c.Scheduler.DataLimit > 0 {
			if err := regs.WriteControl(off(0x0C), uint32(c.Scheduler.DataLimit)); err != nil {
				return err
			}
		}
	}

	if !c.TDMA.Enabled {
		return nil
	}

	startNs := c.TDMA.StartNs
	startSecs := uint64(startNs / int64(time.Second))
	startSubNs := uint32(startNs % int64(time.Second))
	writes := []struct {
		offset uint32
		value  uint32
	}{
		{RegTDMAStartFracNs, 0},
		{RegTDMAStartNs, startSubNs},
		{RegTDMAStartSecLow, uint32(startSecs)},
		{RegTDMAStartSecHigh, uint32(startSecs >> 32)},
		{RegTDMASchedPeriodFracNs, 0},
		{RegTDMASchedPeriodNs, uint32(c.TDMA.SchedulePeriod)},
		{RegTDMATimeslotPeriod, uint32(c.TDMA.TimeslotPeriod)},
		{RegTDMAActivePeriod, uint32(c.TDMA.ActivePeriod)},
	}
	for _, w := range writes {
		if err := regs.WriteTDMA(w.offset, w.value); err != nil {
			return err
		}
	}
	// The control register's write is the one the arbiter treats as
	// the latching write (spec §6): only once it lands does Arm run
	// against the fields staged above.
	return regs.WriteTDMA(RegTDMAControl, tdmaCtrlBitEnable)
}

// LoadAndApply parses path and applies it to s in one step, used both
// at start-up and by ConfigWatcher on every fsnotify event.
func LoadAndApply(s *Scheduler, path string) error {
	cfg, err := loadBringUpConfig(path)
	if err != nil {
		return err
	}
	return cfg.apply(s)
}

// ConfigWatcher hot-reloads a bring-up config file, routing every
// change back through the same register write path a host tool would
// use (spec §9's "do not introduce a separate effective-X field"
// principle extended to configuration: there is one way to arm the
// TDMA schedule, not a config-time one and a runtime one).
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	sched   *Scheduler
	log     *logrus.Entry

	mu      sync.Mutex
	closed  bool
}

// NewConfigWatcher starts watching path for changes and applies it
// once immediately.
func NewConfigWatcher(sched *Scheduler, path string) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("txsched: starting config watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("txsched: watching %s: %w", path, err)
	}

	cw := &ConfigWatcher{
		watcher: w,
		path:    path,
		sched:   sched,
		log:     sched.log.WithField("component", "config-watcher"),
	}
	if err := LoadAndApply(sched, path); err != nil {
		cw.log.WithError(err).Warn("initial bring-up config load failed")
	}
	go cw.run()
	return cw, nil
}

func (cw *ConfigWatcher) run() {
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := LoadAndApply(cw.sched, cw.path); err != nil {
				cw.log.WithError(err).Warn("config reload failed")
				continue
			}
			cw.log.Info("config reloaded")
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.log.WithError(err).Warn("config watcher error")
		}
	}
}

// Close stops the watcher.
func (cw *ConfigWatcher) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.closed {
		return nil
	}
	cw.closed = true
	return cw.watcher.Close()
}
