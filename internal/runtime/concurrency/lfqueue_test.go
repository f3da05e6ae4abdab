package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
)

// TestMPMCQueue_OwnerPushStealerPop exercises the exact access pattern
// taskqueue.Queue relies on: one owner goroutine enqueues discovered
// work in order, and Dequeue (called either by the owner or a stealing
// peer) must return it FIFO.
func TestMPMCQueue_OwnerPushStealerPop(t *testing.T) {
	q := NewMPMCQueue[int](8)
	if !q.Enqueue(1) || !q.Enqueue(2) {
		t.Fatal("enqueue failed")
	}
	var v int
	if !q.Dequeue(&v) || v != 1 {
		t.Fatalf("got %d, want 1 (owner pop)", v)
	}
	if !q.Dequeue(&v) || v != 2 {
		t.Fatalf("got %d, want 2 (stealer pop)", v)
	}
	if q.Dequeue(&v) {
		t.Fatal("expected drained queue to report empty")
	}
}

// TestMPMCQueue_FullRingRejectsEnqueue mirrors the backpressure a
// taskqueue.Queue worker hits when its discovered-work rate outpaces
// drain: Enqueue must fail rather than silently drop or block.
func TestMPMCQueue_FullRingRejectsEnqueue(t *testing.T) {
	q := NewMPMCQueue[int](4)
	for i := 0; i < 4; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("enqueue %d should have succeeded into an empty slot", i)
		}
	}
	if q.Enqueue(99) {
		t.Fatal("expected enqueue into a full ring to fail")
	}
	var v int
	if !q.Dequeue(&v) || v != 0 {
		t.Fatalf("got %d, want 0", v)
	}
	if !q.Enqueue(99) {
		t.Fatal("expected enqueue to succeed once a slot was freed")
	}
}

// TestMPMCQueue_ConcurrentWorkersDrainEverything simulates the
// mark-phase shape: several goroutines discover work concurrently
// (analogous to several queue owners pushing) while several more drain
// it (analogous to stealers), and every produced item must eventually
// be consumed exactly once.
func TestMPMCQueue_ConcurrentWorkersDrainEverything(t *testing.T) {
	q := NewMPMCQueue[int](1024)
	var produced, consumed uint64
	producers := 4
	consumers := 4
	itemsPerProducer := 4000

	var wgProd sync.WaitGroup
	wgProd.Add(producers)
	for p := 0; p < producers; p++ {
		go func(id int) {
			defer wgProd.Done()
			for i := 0; i < itemsPerProducer; i++ {
				for !q.Enqueue(i + id*itemsPerProducer) {
				}
				atomic.AddUint64(&produced, 1)
			}
		}(p)
	}

	done := make(chan struct{})
	var wgCons sync.WaitGroup
	wgCons.Add(consumers)
	for c := 0; c < consumers; c++ {
		go func() {
			defer wgCons.Done()
			var v int
			for {
				select {
				case <-done:
					return
				default:
				}
				if q.Dequeue(&v) {
					atomic.AddUint64(&consumed, 1)
				}
			}
		}()
	}

	wgProd.Wait()
	total := uint64(producers * itemsPerProducer)
	for atomic.LoadUint64(&consumed) < total {
		var v int
		if q.Dequeue(&v) {
			atomic.AddUint64(&consumed, 1)
		}
	}
	close(done)
	wgCons.Wait()

	if produced != consumed {
		t.Fatalf("mismatch produced=%d consumed=%d", produced, consumed)
	}
}
