// Package mutatorsim stands in for the out-of-scope JVM collaborators
// (class-file parser, verifier, JIT, JNI, interpreter): goroutine-based
// simulated mutators that allocate, mutate references, and
// occasionally request a GC against a Heap's public interface, so the
// collector can be driven end-to-end without a real VM.
package mutatorsim

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumenvm/lumengc/internal/gc/heap"
	"github.com/lumenvm/lumengc/internal/gc/region"
	"github.com/lumenvm/lumengc/internal/gc/satb"
)

// Heap is the subset of *heap.Heap a simulated mutator drives, kept as
// an interface so tests can substitute a lighter double.
type Heap interface {
	Allocate(heap.AllocRequest) heap.AllocResult
	SetLiveBytes(region.ID, uint64)
	PreWriteBarrier(*satb.Buffer, uintptr, region.ID)
	PostWriteCardBarrier(uintptr, *region.Region)
	LoadReferenceBarrier(*region.Region) bool
	Table() *region.Table
	RequestGC(heap.Cause)
}

// Config bounds one mutator goroutine's traffic pattern.
type Config struct {
	AllocSize      uintptr
	AllocPause     time.Duration
	ExplicitGCRate int // request an explicit GC roughly every N allocations; 0 disables
	LiveFraction   float64
}

// Mutator is one simulated application thread: it owns a private SATB
// buffer (standing in for a real Thread's thread-local SATB buffer)
// and loops allocating and, after every successful allocation, storing
// a reference until its context is cancelled.
type Mutator struct {
	id   int
	h    Heap
	cfg  Config
	buf  satb.Buffer
	rng  *rand.Rand
	allocs uint64
}

// NewMutator builds one simulated mutator with its own RNG stream so
// concurrent mutators don't contend on a shared one (mirrors a real
// per-thread allocation context).
func NewMutator(id int, h Heap, cfg Config) *Mutator {
	if cfg.AllocSize == 0 {
		cfg.AllocSize = 64
	}
	if cfg.LiveFraction <= 0 {
		cfg.LiveFraction = 0.3
	}
	return &Mutator{id: id, h: h, cfg: cfg, rng: rand.New(rand.NewSource(int64(id) + 1))}
}

// Run loops until ctx is cancelled, performing one allocate-and-maybe-
// store cycle per iteration, sleeping cfg.AllocPause between cycles.
func (m *Mutator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res := m.h.Allocate(heap.AllocRequest{Size: m.cfg.AllocSize, Type: heap.Shared, Affiliation: region.Young})
		if res.Ok {
			m.allocs++
			live := uint64(float64(m.cfg.AllocSize) * m.cfg.LiveFraction)
			m.h.SetLiveBytes(res.RegionID, live)
			m.maybeStore(res.RegionID)
		}

		if m.cfg.ExplicitGCRate > 0 && m.allocs > 0 && int(m.allocs)%m.cfg.ExplicitGCRate == 0 {
			m.h.RequestGC(heap.CauseExplicitGC)
		}

		if m.cfg.AllocPause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.AllocPause):
			}
		}
	}
}

// Allocs reports how many successful allocations this mutator has made,
// for test assertions and CLI progress reporting.
func (m *Mutator) Allocs() uint64 { return m.allocs }

// maybeStore picks a random region to simulate overwriting a
// reference field in it, running the pre-write SATB barrier and the
// post-write card barrier exactly as a real compiled store would.
func (m *Mutator) maybeStore(justAllocated region.ID) {
	tbl := m.h.Table()
	if tbl.Count() == 0 {
		return
	}
	target := region.ID(m.rng.Intn(tbl.Count()))
	r := tbl.Get(target)

	if m.h.LoadReferenceBarrier(r) {
		// A real barrier would resolve the forwarded copy here; the
		// simulator has no object graph to rewrite, so it only
		// exercises the check.
	}

	oldValue := r.Bottom()
	m.h.PreWriteBarrier(&m.buf, oldValue, target)
	m.h.PostWriteCardBarrier(r.Bottom(), r)
}

// Harness runs a fixed pool of mutators concurrently against one Heap
// and tallies total allocations across all of them.
type Harness struct {
	mutators []*Mutator
	total    atomic.Uint64
}

// NewHarness builds n mutators sharing cfg against h.
func NewHarness(h Heap, n int, cfg Config) *Harness {
	hs := &Harness{mutators: make([]*Mutator, n)}
	for i := 0; i < n; i++ {
		hs.mutators[i] = NewMutator(i, h, cfg)
	}
	return hs
}

// Run starts every mutator and blocks until ctx is cancelled and all of
// them have returned.
func (hs *Harness) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, m := range hs.mutators {
		wg.Add(1)
		go func(m *Mutator) {
			defer wg.Done()
			m.Run(ctx)
			hs.total.Add(m.Allocs())
		}(m)
	}
	wg.Wait()
}

// TotalAllocs reports the sum of every mutator's successful allocation
// count, valid after Run returns.
func (hs *Harness) TotalAllocs() uint64 { return hs.total.Load() }
