// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched_test

import (
	"errors"
	"sync"
	"testing"

	"code.hybscloud.com/txsched"
)

func TestIngressRingBasic(t *testing.T) {
	r := txsched.NewIngressRing[int](3)
	if r.Cap() != 4 {
		t.Fatalf("Cap: got %d, want 4", r.Cap())
	}

	for i := 0; i < 4; i++ {
		v := i + 100
		if err := r.Enqueue(&v); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	v := 999
	if err := r.Enqueue(&v); !errors.Is(err, txsched.ErrWouldBlock) {
		t.Fatalf("Enqueue on full: got %v, want ErrWouldBlock", err)
	}

	for i := 0; i < 4; i++ {
		got, err := r.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue(%d): %v", i, err)
		}
		if got != i+100 {
			t.Fatalf("Dequeue(%d): got %d, want %d", i, got, i+100)
		}
	}
	if _, err := r.Dequeue(); !errors.Is(err, txsched.ErrWouldBlock) {
		t.Fatalf("Dequeue on empty: got %v, want ErrWouldBlock", err)
	}
}

func TestIngressRingConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 200

	r := txsched.NewIngressRing[int](producers * perProducer)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := base + i
				for r.Enqueue(&v) != nil {
				}
			}
		}(p * perProducer)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := 0; i < producers*perProducer; i++ {
		v, err := r.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if seen[v] {
			t.Fatalf("value %d delivered twice", v)
		}
		seen[v] = true
	}
	if len(seen) != producers*perProducer {
		t.Fatalf("got %d distinct values, want %d", len(seen), producers*perProducer)
	}
}
