// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/txsched"
)

func TestOpTableAllocRelease(t *testing.T) {
	tbl := txsched.NewOpTable(2)
	if !tbl.HasFree() {
		t.Fatal("fresh table must have free slots")
	}

	id1, err := tbl.Alloc(7, 1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if tbl.Head(7) != id1 {
		t.Fatal("Head must return the just-allocated slot")
	}
	if tbl.Occupied() != 1 {
		t.Fatalf("Occupied: got %d, want 1", tbl.Occupied())
	}

	id2, err := tbl.Alloc(7, 2)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if tbl.Head(7) != id2 {
		t.Fatal("Head must move to the newest allocation")
	}

	if _, err := tbl.Alloc(9, 1); !errors.Is(err, txsched.ErrNoFreeSlot) {
		t.Fatalf("Alloc on exhausted pool: got %v, want ErrNoFreeSlot", err)
	}

	tbl.Release(id2)
	if tbl.Head(7) != id1 {
		t.Fatal("releasing the head must promote the remaining chain entry to head")
	}
	if tbl.Occupied() != 1 {
		t.Fatalf("Occupied after release: got %d, want 1", tbl.Occupied())
	}

	tbl.Release(id1)
	if tbl.Head(7) != -1 {
		t.Fatal("releasing the last chain entry must clear the queue's head")
	}
	if !tbl.HasFree() {
		t.Fatal("pool must have free slots again")
	}
}

func TestOpTableReleaseUnlinksMiddleOfChain(t *testing.T) {
	tbl := txsched.NewOpTable(4)
	id1, _ := tbl.Alloc(1, 0) // oldest
	id2, _ := tbl.Alloc(1, 0) // middle
	id3, _ := tbl.Alloc(1, 0) // head (newest)

	if tbl.Head(1) != id3 {
		t.Fatal("Head must be the newest allocation")
	}

	tbl.Release(id2)

	if tbl.Occupied() != 2 {
		t.Fatalf("Occupied: got %d, want 2", tbl.Occupied())
	}
	if tbl.Head(1) != id3 {
		t.Fatal("releasing a non-head slot must not move the head")
	}
	_ = id1
}
