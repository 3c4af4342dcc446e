// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched_test

import (
	"testing"

	"code.hybscloud.com/txsched"
)

func TestChannelCreditGeneration(t *testing.T) {
	ch := txsched.NewChannel(2, 1<<20, txsched.FCScaleDefault)
	ch.Refresh()
	if !ch.Available() {
		t.Fatal("a fresh channel under its limits must be available")
	}
}

func TestChannelPktLimitBound(t *testing.T) {
	ch := txsched.NewChannel(2, 1<<20, txsched.FCScaleDefault)

	for i := 0; i < 3; i++ {
		ch.Refresh()
		if !ch.Available() {
			break
		}
		ch.PktsInFetch.AddAcqRel(1)
	}

	if got := ch.PktsInFetch.LoadAcquire(); got > ch.PktLimit.LoadAcquire() {
		t.Fatalf("pkts_in_fetch exceeded pkt_limit: got %d, limit %d", got, ch.PktLimit.LoadAcquire())
	}
}

func TestChannelUnavailableWhenSaturated(t *testing.T) {
	ch := txsched.NewChannel(1, 1<<20, txsched.FCScaleDefault)
	ch.PktsInTx.AddAcqRel(1) // already at pkt_limit
	ch.Refresh()
	if ch.Available() {
		t.Fatal("channel must not grant fetch credit once in-flight packets reach pkt_limit")
	}
}
