// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import "code.hybscloud.com/atomix"

// FCScaleDefault is the default FC_SCALE exponent (spec §4.3: "1
// credit = 2^FC_SCALE bytes"), matching the register default at
// offset 0x1C bits 23:16.
const FCScaleDefault = 3

// refillSteps are the candidate credit-refill sizes tried largest
// first each cycle (spec §4.3: "k is the largest of {8, 4, 2, 1}").
var refillSteps = [...]int64{8, 4, 2, 1}

// Channel is one Flow-Control Accountant instance: a (port, TC) pair,
// the unit of flow-control accounting (spec §4.3). All counters are
// atomix.Int64 — spec invariant I6 requires "signed arithmetic modulo
// their width" — so the metrics collector can read live values from
// another goroutine without coordinating with the arbiter.
type Channel struct {
	_ pad

	PktsInFetch atomix.Int64
	PktsInTx    atomix.Int64
	BytesInTx   atomix.Int64 // credit units (1 credit = 2^FCScale bytes)

	PktLimit  atomix.Int64
	DataLimit atomix.Int64

	// PktBudget and DataBudget are host-settable per spec §6 register
	// 0x24/0x28. DataBudget feeds the data-limit estimate below.
	// PktBudget itself is the open question of spec §9: "written but
	// never read" in the source — preserved as RW with no behavioral
	// effect.
	PktBudget  atomix.Int64
	DataBudget atomix.Int64

	fetchFCLim       atomix.Int64
	fetchFCAvailable atomix.Bool

	// Enabled and Dest mirror the per-channel control/status register
	// (spec §6, "0x20+16n" and "0x24+16n" bits 15:0). Enabled gates
	// whether this channel may be selected during admission; Dest is
	// echoed verbatim into every TxRequest the channel originates.
	Enabled atomix.Bool
	Dest    atomix.Uint64

	FCScale uint8 // per-instance constant, spec §4.3 "typically 3-7"
}

// NewChannel returns a Channel with the host-set defaults applied
// (spec §4.3: "pkt_limit (host-set, default max), data_limit
// (host-set, default MTU-rounded)").
func NewChannel(pktLimit, dataLimit int64, fcScale uint8) *Channel {
	c := &Channel{FCScale: fcScale}
	c.PktLimit.StoreRelease(pktLimit)
	c.DataLimit.StoreRelease(dataLimit)
	// The default per-packet data budget is an equal share of data_limit,
	// so pktLimit outstanding fetches fit within data_limit.
	dataBudget := dataLimit
	if pktLimit > 0 {
		dataBudget = dataLimit / pktLimit
	}
	c.DataBudget.StoreRelease(dataBudget)
	return c
}

// Refresh recomputes fetch_fc_lim / fetch_fc_available for the
// current cycle (spec §4.3 "Credit generation"): the largest k in
// {8,4,2,1} such that granting k more fetches keeps the channel
// within both pkt_limit and data_limit, the latter estimated as
// pkt_fetch * data_budget + bytes_in_tx.
func (c *Channel) Refresh() {
	pktsInFetch := c.PktsInFetch.LoadRelaxed()
	pktsInTx := c.PktsInTx.LoadRelaxed()
	bytesInTx := c.BytesInTx.LoadRelaxed()
	pktLimit := c.PktLimit.LoadRelaxed()
	dataLimit := c.DataLimit.LoadRelaxed()
	dataBudget := c.DataBudget.LoadRelaxed()

	var k int64
	for _, step := range refillSteps {
		candidateFetch := pktsInFetch + step
		if candidateFetch+pktsInTx > pktLimit {
			continue
		}
		estimatedData := candidateFetch*dataBudget + bytesInTx
		if estimatedData > dataLimit {
			continue
		}
		k = step
		break
	}

	c.fetchFCLim.StoreRelease(pktsInFetch + k)
	c.fetchFCAvailable.StoreRelease(k > 0)
}

// Available reports fetch_fc_available: the gate the arbiter consults
// before popping the ready-set ring (spec §4.3).
func (c *Channel) Available() bool {
	return c.fetchFCAvailable.LoadAcquire()
}

// fetchConsume admits a request: bumps pkts_in_fetch (spec §4.3
// "fetch_consume").
func (c *Channel) fetchConsume() {
	c.PktsInFetch.AddAcqRel(1)
}

// fetchRelease frees the fetch reservation when the request produced
// no bytes on the wire (spec §4.3: "fetch_release_sched_fail |
// dequeue_fail | fetch_fail"). The spec §9 open question about two
// redundant release sites is resolved here: this is the single path
// called, once, per non-productive completion.
func (c *Channel) fetchRelease() {
	c.PktsInFetch.AddAcqRel(-1)
}

// txConsume moves accounting from fetch to tx on a successful
// fetch-start, recording the actual length in credit units (spec
// §4.3 "tx_consume").
func (c *Channel) txConsume(lenBytes uint32) {
	c.PktsInFetch.AddAcqRel(-1)
	c.PktsInTx.AddAcqRel(1)
	credits := int64(lenBytes) >> c.FCScale
	if lenBytes&((1<<c.FCScale)-1) != 0 {
		credits++ // round partial credit up, never under-account in-flight bytes
	}
	c.BytesInTx.AddAcqRel(credits)
}

// txRelease returns a packet and its bytes to the free pool on finish
// (spec §4.3 "tx_release").
func (c *Channel) txRelease(lenBytes uint32) {
	c.PktsInTx.AddAcqRel(-1)
	credits := int64(lenBytes) >> c.FCScale
	if lenBytes&((1<<c.FCScale)-1) != 0 {
		credits++
	}
	c.BytesInTx.AddAcqRel(-credits)
}
