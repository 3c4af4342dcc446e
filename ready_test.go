// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/txsched"
)

func TestReadySetFIFOOrder(t *testing.T) {
	r := txsched.NewReadySet(4)
	for _, q := range []uint32{3, 1, 2} {
		if err := r.Push(q); err != nil {
			t.Fatalf("Push(%d): %v", q, err)
		}
	}
	for _, want := range []uint32{3, 1, 2} {
		got, err := r.Pop()
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if got != want {
			t.Fatalf("Pop: got %d, want %d", got, want)
		}
	}
	if _, err := r.Pop(); !errors.Is(err, txsched.ErrWouldBlock) {
		t.Fatalf("Pop on empty: got %v, want ErrWouldBlock", err)
	}
}

func TestReadySetPeekDoesNotConsume(t *testing.T) {
	r := txsched.NewReadySet(4)
	r.Push(5)

	peeked, err := r.Peek()
	if err != nil || peeked != 5 {
		t.Fatalf("Peek: got (%d,%v), want (5,nil)", peeked, err)
	}
	if r.Len() != 1 {
		t.Fatal("Peek must not remove the entry")
	}
	popped, err := r.Pop()
	if err != nil || popped != 5 {
		t.Fatalf("Pop after Peek: got (%d,%v), want (5,nil)", popped, err)
	}
}

func TestReadySetCapacityRoundsUpToPow2(t *testing.T) {
	r := txsched.NewReadySet(5)
	if r.Cap() != 8 {
		t.Fatalf("Cap: got %d, want 8", r.Cap())
	}
}
