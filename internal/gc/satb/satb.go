// Package satb implements the snapshot-at-the-beginning write barrier
// buffers and the queue set that collects them for concurrent marking
// for concurrent marking.
package satb

import (
	"sync"

	"github.com/lumenvm/lumengc/internal/gc/region"
)

// BufferCapacity is the number of entries a single mutator-local SATB
// buffer holds before it is filled and handed to the queue set.
const BufferCapacity = 256

// Entry is one snapshotted pre-write value: the address a reference
// field held immediately before being overwritten.
type Entry struct {
	Addr   uintptr
	Region region.ID
}

// Buffer is a single mutator's thread-local SATB log. Mutators never
// share a Buffer; each call to Record is sequential from the owning
// goroutine's perspective, so no internal locking is needed.
type Buffer struct {
	entries [BufferCapacity]Entry
	len     int
}

// Record appends addr to the buffer, returning true if the buffer
// became full as a result (the caller must then hand it to a QueueSet
// via Flush and start a fresh buffer).
func (b *Buffer) Record(addr uintptr, rid region.ID) bool {
	b.entries[b.len] = Entry{Addr: addr, Region: rid}
	b.len++
	return b.len == BufferCapacity
}

func (b *Buffer) Len() int { return b.len }

func (b *Buffer) snapshot() []Entry {
	out := make([]Entry, b.len)
	copy(out, b.entries[:b.len])
	return out
}

func (b *Buffer) reset() { b.len = 0 }

// QueueSet collects filled (or explicitly flushed) SATB buffers from
// all mutators and hands them to the marker as a stream of entries.
// It corresponds to ShenandoahSATBMarkQueueSet: a single shared sink
// guarded by one mutex, since buffer handoff is comparatively rare
// (only on buffer-full or thread termination) next to the per-write
// Record calls, which stay lock-free.
type QueueSet struct {
	mu      sync.Mutex
	pending [][]Entry
	active  bool
}

func NewQueueSet() *QueueSet {
	return &QueueSet{}
}

// Activate enables buffer collection; mutators must consult IsActive
// before recording so the pre-write barrier is a no-op outside a
// marking cycle.
func (q *QueueSet) Activate() {
	q.mu.Lock()
	q.active = true
	q.mu.Unlock()
}

func (q *QueueSet) Deactivate() {
	q.mu.Lock()
	q.active = false
	q.mu.Unlock()
}

func (q *QueueSet) IsActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Flush hands off a buffer's current contents to the queue set and
// resets it for reuse. Called when a buffer fills, and once more per
// mutator during the final mark pause to capture partial buffers.
func (q *QueueSet) Flush(b *Buffer) {
	if b.Len() == 0 {
		return
	}
	entries := b.snapshot()
	b.reset()
	q.mu.Lock()
	q.pending = append(q.pending, entries)
	q.mu.Unlock()
}

// Drain removes and returns all buffered entries collected so far,
// leaving the queue set empty. Called by marking workers in a loop
// until Drain returns nothing and no mutator is presently filling a
// buffer (checked by the caller via a handshake).
func (q *QueueSet) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	total := 0
	for _, p := range q.pending {
		total += len(p)
	}
	out := make([]Entry, 0, total)
	for _, p := range q.pending {
		out = append(out, p...)
	}
	q.pending = q.pending[:0]
	return out
}

// Abandon discards all buffered entries without marking through them.
// Used when a cycle degenerates before the SATB invariant can be
// honored incrementally and a STW catch-up pass will re-derive
// liveness from scratch instead.
func (q *QueueSet) Abandon() {
	q.mu.Lock()
	q.pending = q.pending[:0]
	q.active = false
	q.mu.Unlock()
}

// Pending reports the number of buffered (unfilled-into-marker) entries.
func (q *QueueSet) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, p := range q.pending {
		n += len(p)
	}
	return n
}

// FilterForOld keeps only entries belonging to old-generation regions,
// used when an old-gen bootstrap cycle must mark through snapshot
// entries produced while a young collection was concurrently running
// only entries whose Region is
// old-affiliated are relevant to the old marker).
func FilterForOld(entries []Entry, isOld func(region.ID) bool) []Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if isOld(e.Region) {
			out = append(out, e)
		}
	}
	return out
}
