// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector implements prometheus.Collector over a live
// Scheduler's internal component state, read directly off the atomic
// cells each component already exposes — no separate counter bank, so
// metrics can never drift from the values the arbiter itself acts on.
type SchedulerCollector struct {
	sched *Scheduler

	activeQueueCount *prometheus.Desc
	readySetDepth    *prometheus.Desc
	opTableOccupied  *prometheus.Desc
	opTableCapacity  *prometheus.Desc
	txOutDepth       *prometheus.Desc

	channelPktsInFetch *prometheus.Desc
	channelPktsInTx    *prometheus.Desc
	channelBytesInTx   *prometheus.Desc
	channelFCAvailable *prometheus.Desc

	tdmaLocked        *prometheus.Desc
	tdmaError         *prometheus.Desc
	tdmaTimeslotIndex *prometheus.Desc
}

// NewSchedulerCollector wraps s for Prometheus registration.
func NewSchedulerCollector(s *Scheduler) *SchedulerCollector {
	return &SchedulerCollector{
		sched: s,
		activeQueueCount: prometheus.NewDesc(
			"txsched_active_queue_count", "Number of queue records currently scheduled.", nil, nil),
		readySetDepth: prometheus.NewDesc(
			"txsched_ready_set_depth", "Number of queue indexes currently pending in the ready-set ring.", nil, nil),
		opTableOccupied: prometheus.NewDesc(
			"txsched_op_table_occupied", "Number of occupied operation-table slots.", nil, nil),
		opTableCapacity: prometheus.NewDesc(
			"txsched_op_table_capacity", "Total operation-table slot count.", nil, nil),
		txOutDepth: prometheus.NewDesc(
			"txsched_tx_request_ring_depth", "Number of pending entries in the TX request egress ring.", nil, nil),
		channelPktsInFetch: prometheus.NewDesc(
			"txsched_channel_pkts_in_fetch", "Packets between fetch issue and fetch completion.", []string{"channel"}, nil),
		channelPktsInTx: prometheus.NewDesc(
			"txsched_channel_pkts_in_tx", "Packets between fetch completion and tx finish.", []string{"channel"}, nil),
		channelBytesInTx: prometheus.NewDesc(
			"txsched_channel_bytes_in_tx_credits", "Credit units in flight post-fetch, pre-finish.", []string{"channel"}, nil),
		channelFCAvailable: prometheus.NewDesc(
			"txsched_channel_fetch_fc_available", "1 if the channel currently grants fetch flow-control credit.", []string{"channel"}, nil),
		tdmaLocked: prometheus.NewDesc(
			"txsched_tdma_locked", "1 if the TDMA gate has completed its first schedule alignment.", nil, nil),
		tdmaError: prometheus.NewDesc(
			"txsched_tdma_error", "1 if the TDMA gate has latched a step-discontinuity or oversized-schedule error.", nil, nil),
		tdmaTimeslotIndex: prometheus.NewDesc(
			"txsched_tdma_timeslot_index", "Current TDMA timeslot index.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *SchedulerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeQueueCount
	ch <- c.readySetDepth
	ch <- c.opTableOccupied
	ch <- c.opTableCapacity
	ch <- c.txOutDepth
	ch <- c.channelPktsInFetch
	ch <- c.channelPktsInTx
	ch <- c.channelBytesInTx
	ch <- c.channelFCAvailable
	ch <- c.tdmaLocked
	ch <- c.tdmaError
	ch <- c.tdmaTimeslotIndex
}

// Collect implements prometheus.Collector. Every value is read from
// the live component via its existing atomic accessors, so Collect
// may run concurrently with Scheduler.Run without coordination.
func (c *SchedulerCollector) Collect(ch chan<- prometheus.Metric) {
	a := c.sched.Arbiter()

	ch <- prometheus.MustNewConstMetric(c.activeQueueCount, prometheus.GaugeValue, float64(a.ActiveQueueCount()))
	ch <- prometheus.MustNewConstMetric(c.readySetDepth, prometheus.GaugeValue, float64(a.ReadySet().Len()))
	ch <- prometheus.MustNewConstMetric(c.opTableOccupied, prometheus.GaugeValue, float64(a.OpTable().Occupied()))
	ch <- prometheus.MustNewConstMetric(c.opTableCapacity, prometheus.GaugeValue, float64(a.OpTable().Len()))
	ch <- prometheus.MustNewConstMetric(c.txOutDepth, prometheus.GaugeValue, float64(a.TxRequests().Len()))

	for i, channel := range a.Channels() {
		label := channelLabel(i)
		ch <- prometheus.MustNewConstMetric(c.channelPktsInFetch, prometheus.GaugeValue, float64(channel.PktsInFetch.LoadAcquire()), label)
		ch <- prometheus.MustNewConstMetric(c.channelPktsInTx, prometheus.GaugeValue, float64(channel.PktsInTx.LoadAcquire()), label)
		ch <- prometheus.MustNewConstMetric(c.channelBytesInTx, prometheus.GaugeValue, float64(channel.BytesInTx.LoadAcquire()), label)
		ch <- prometheus.MustNewConstMetric(c.channelFCAvailable, prometheus.GaugeValue, boolToFloat(channel.Available()), label)
	}

	out := a.TDMAGate().Snapshot()
	ch <- prometheus.MustNewConstMetric(c.tdmaLocked, prometheus.GaugeValue, boolToFloat(out.Locked))
	ch <- prometheus.MustNewConstMetric(c.tdmaError, prometheus.GaugeValue, boolToFloat(out.Error))
	ch <- prometheus.MustNewConstMetric(c.tdmaTimeslotIndex, prometheus.GaugeValue, float64(out.TimeslotIndex))
}

func channelLabel(i int) string {
	return "channel" + strconv.Itoa(i)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
