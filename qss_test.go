// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched_test

import (
	"testing"

	"code.hybscloud.com/txsched"
)

func TestStoreCreatedZero(t *testing.T) {
	s := txsched.NewStore(4)
	if s.Len() != 16 {
		t.Fatalf("Len: got %d, want 16", s.Len())
	}
	rec := s.Get(3)
	if rec.Enabled.LoadAcquire() {
		t.Fatal("freshly created record must not be enabled")
	}
	if rec.Generation.LoadAcquire() != 0 {
		t.Fatal("freshly created record must have generation 0")
	}
}

func TestStoreGetWraps(t *testing.T) {
	s := txsched.NewStore(2) // 4 records
	a := s.Get(0)
	b := s.Get(4)
	if a != b {
		t.Fatal("Get must mask the index modulo 2^Q")
	}
}

func TestPortControlRoundTrip(t *testing.T) {
	var pc txsched.PortControl
	pc.SetTC(5)
	pc.SetEnable(true)
	pc.SetPause(true)
	pc.SetScheduledFlag(true)

	tc, enable, pause, scheduled := pc.Get()
	if tc != 5 || !enable || !pause || !scheduled {
		t.Fatalf("Get: got (%d,%v,%v,%v), want (5,true,true,true)", tc, enable, pause, scheduled)
	}

	pc.SetTC(2)
	tc, enable, pause, scheduled = pc.Get()
	if tc != 2 || !enable || !pause || !scheduled {
		t.Fatal("SetTC must not disturb other fields")
	}
}
