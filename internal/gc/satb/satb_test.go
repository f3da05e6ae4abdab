package satb

import (
	"testing"

	"github.com/lumenvm/lumengc/internal/gc/region"
)

func TestBufferFillsAtCapacity(t *testing.T) {
	var b Buffer
	full := false
	for i := 0; i < BufferCapacity; i++ {
		full = b.Record(uintptr(i), 0)
	}
	if !full {
		t.Fatal("buffer should report full at capacity")
	}
	if b.Len() != BufferCapacity {
		t.Fatalf("len=%d want %d", b.Len(), BufferCapacity)
	}
}

func TestFlushResetsBufferAndQueues(t *testing.T) {
	var b Buffer
	b.Record(42, region.ID(1))
	b.Record(43, region.ID(2))
	q := NewQueueSet()
	q.Flush(&b)

	if b.Len() != 0 {
		t.Fatal("flush should reset the buffer")
	}
	if q.Pending() != 2 {
		t.Fatalf("pending=%d want 2", q.Pending())
	}
}

func TestDrainEmptiesQueueSet(t *testing.T) {
	var b Buffer
	b.Record(1, 0)
	q := NewQueueSet()
	q.Flush(&b)

	entries := q.Drain()
	if len(entries) != 1 || entries[0].Addr != 1 {
		t.Fatalf("unexpected drain result: %+v", entries)
	}
	if q.Pending() != 0 {
		t.Fatal("queue set should be empty after drain")
	}
	if got := q.Drain(); got != nil {
		t.Fatalf("second drain should return nil, got %v", got)
	}
}

func TestAbandonClearsAndDeactivates(t *testing.T) {
	var b Buffer
	b.Record(1, 0)
	q := NewQueueSet()
	q.Activate()
	q.Flush(&b)
	q.Abandon()

	if q.IsActive() {
		t.Fatal("abandon should deactivate the queue set")
	}
	if q.Pending() != 0 {
		t.Fatal("abandon should clear pending entries")
	}
}

func TestFilterForOldKeepsOnlyOldRegions(t *testing.T) {
	entries := []Entry{
		{Addr: 1, Region: 0},
		{Addr: 2, Region: 1},
		{Addr: 3, Region: 2},
	}
	old := map[region.ID]bool{1: true}
	filtered := FilterForOld(entries, func(id region.ID) bool { return old[id] })

	if len(filtered) != 1 || filtered[0].Addr != 2 {
		t.Fatalf("unexpected filter result: %+v", filtered)
	}
}
