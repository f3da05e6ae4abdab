// Package engine implements the concurrent GC pipeline, its degenerated
// STW fallback, and the compacting full-GC fallback.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/lumenvm/lumengc/internal/gc/cset"
	"github.com/lumenvm/lumengc/internal/gc/freeset"
	"github.com/lumenvm/lumengc/internal/gc/generation"
	"github.com/lumenvm/lumengc/internal/gc/policy"
	"github.com/lumenvm/lumengc/internal/gc/refproc"
	"github.com/lumenvm/lumengc/internal/gc/region"
	"github.com/lumenvm/lumengc/internal/gc/rset"
	"github.com/lumenvm/lumengc/internal/gc/satb"
	"github.com/lumenvm/lumengc/internal/gc/taskqueue"
)

// Context bundles every component a cycle needs to touch. It is built
// by the heap package and handed to the engine fresh each cycle; the
// engine never stores it, keeping the pipeline functions free of
// hidden state.
type Context struct {
	Table  *region.Table
	Young  *generation.Generation
	Old    *generation.OldGeneration
	Global *generation.Generation

	Free *freeset.Set
	RSet *rset.Scanner
	SATB *satb.QueueSet
	Refs *refproc.Processor

	Tasks *taskqueue.Set

	Cancelled *atomic.Bool // chunked cooperative cancellation flag

	GenerationalMode bool
	Budgets          cset.Budgets

	// Hooks for the mutator simulation to observe phase boundaries in
	// tests without the engine depending on the mutatorsim package.
	OnPhase func(name string)
}

func (c *Context) phase(name string) {
	if c.OnPhase != nil {
		c.OnPhase(name)
	}
}

func (c *Context) cancelled() bool {
	return c.Cancelled != nil && c.Cancelled.Load()
}

// Result is the outcome of a concurrent cycle attempt.
type Result struct {
	Succeeded         bool
	Abbreviated       bool
	Progress          bool // at least one cset region was evacuated before a failure
	DegenerationPoint policy.DegenerationPoint
}

// RunConcurrent executes the nineteen-step concurrent pipeline,
// returning early with a degeneration point the moment
// the shared cancellation flag is observed set. liveBytesOf supplies the
// simulated liveness of a region to drive collection-set selection; it
// stands in for the object graph a real collector would walk.
func RunConcurrent(ctx *Context, gen *generation.Generation, liveBytesOf func(region.ID) uint64, promotionAgeCutoff uint32) Result {
	// Step 1: reset.
	ctx.phase("reset")
	ctx.Table.Iterate(func(r *region.Region) {
		if r.Affiliation() == affiliationFor(gen) || gen == ctx.Global {
			gen.Bitmap().ClearBitmap(r)
			gen.Bitmap().CaptureTopAtMarkStart(r)
		}
	})
	if gen == ctx.Global {
		ctx.RSet.ReadTable().Clear()
	}

	// Step 2: vmop_init_mark (STW, modeled as a synchronous section).
	ctx.phase("vmop_init_mark")
	if ctx.GenerationalMode && gen.Kind() == generation.Young {
		ctx.RSet.Swap()
	}
	gen.SetMarkingInProgress(true)
	ctx.SATB.Activate()

	if ctx.cancelled() {
		return degenerate(ctx, gen, policy.Roots)
	}

	// Step 3: scan_remembered_set (young only).
	if gen.Kind() == generation.Young && ctx.GenerationalMode {
		ctx.phase("scan_remembered_set")
		ctx.Table.Iterate(func(r *region.Region) {
			if r.Affiliation() != region.Old {
				return
			}
			ctx.RSet.ScanChunk(r, func(addr uintptr) { _ = addr })
		})
	}
	if ctx.cancelled() {
		return degenerate(ctx, gen, policy.Roots)
	}

	// Step 4-5: mark_roots, mark.
	ctx.phase("mark_roots")
	ctx.phase("mark")
	if ctx.cancelled() {
		return degenerate(ctx, gen, policy.Mark)
	}

	// Step 6: vmop_final_mark (STW): deactivate SATB (buffered entries
	// are not drained here), mark complete.
	ctx.phase("vmop_final_mark")
	ctx.SATB.Deactivate()
	ctx.Table.Iterate(func(r *region.Region) {
		r.SetLiveDataBytes(liveBytesOf(r.Index()))
	})
	gen.Bitmap().SetComplete(true)
	gen.SetMarkingInProgress(false)

	// Step 7: thread_roots handshake — modeled as a no-op synchronization point.
	ctx.phase("thread_roots")

	// Step 8: weak_refs.
	ctx.phase("weak_refs")
	ctx.Refs.Process(func(addr uintptr) bool { return addr != 0 })

	// Step 9: weak_roots.
	ctx.phase("weak_roots")

	// Step 10: class_unloading — optional, no-op here.

	// Step 11: cleanup_early — recycle already-trashed regions.
	ctx.phase("cleanup_early")
	recycleTrashed(ctx.Table)

	// Step 12: strong_roots.
	ctx.phase("strong_roots")

	// Build the collection set now that liveness is known.
	candidatesYoung, candidatesOld := buildCandidates(ctx.Table, liveBytesOf)
	built := cset.Build(ctx.Budgets, candidatesYoung, candidatesOld, promotionAgeCutoff)

	if len(built.YoungCset) == 0 && len(built.OldCset) == 0 {
		// Abbreviated cycle: skip straight to final_roots.
		ctx.phase("final_roots")
		ctx.Free.Rebuild(nil, nil)
		return Result{Succeeded: true, Abbreviated: true}
	}

	markCset(ctx.Table, built.YoungCset, built.OldCset)

	// Step 13: evacuate.
	ctx.phase("evacuate")
	if ctx.cancelled() {
		return degenerate(ctx, gen, policy.Evac)
	}
	if evacuated, ok := reserveAndEvacuate(ctx.Free, ctx.Table, built); !ok {
		// A worker's attempt to allocate into the gc-evacuation partition
		// failed (§7 evacuation failure, cause _shenandoah_alloc_failure_evac):
		// cancel and degenerate at the evac point so the STW finisher
		// completes evacuation with whatever free space remains.
		ctx.Cancelled.Store(true)
		res := degenerate(ctx, gen, policy.Evac)
		res.Progress = evacuated > 0
		return res
	}

	// Step 14: init_update_refs (STW).
	ctx.phase("init_update_refs")

	// Step 15-16: update_refs, update_thread_roots.
	ctx.phase("update_refs")
	if ctx.cancelled() {
		return degenerate(ctx, gen, policy.UpdateRefs)
	}
	ctx.phase("update_thread_roots")

	// Step 17: vmop_final_update_refs (STW).
	ctx.phase("vmop_final_update_refs")
	ctx.Free.Rebuild(built.YoungCset, built.OldCset)

	// Step 18-19: cleanup_complete, reset_after_collect.
	ctx.phase("cleanup_complete")
	trashRegions(ctx.Table, built.YoungCset, built.OldCset)
	recycleTrashed(ctx.Table)

	ctx.phase("reset_after_collect")

	return Result{Succeeded: true}
}

func degenerate(ctx *Context, gen *generation.Generation, point policy.DegenerationPoint) Result {
	ctx.SATB.Abandon()
	ctx.RSet.Merge()
	gen.SetMarkingInProgress(false)
	return Result{Succeeded: false, DegenerationPoint: point}
}

func affiliationFor(g *generation.Generation) region.Affiliation {
	switch g.Kind() {
	case generation.Young:
		return region.Young
	case generation.Old:
		return region.Old
	default:
		return region.Free
	}
}

func buildCandidates(t *region.Table, liveBytesOf func(region.ID) uint64) (young, old []cset.Candidate) {
	t.Iterate(func(r *region.Region) {
		if r.State() != region.Regular || r.IsPinned() {
			return
		}
		live := liveBytesOf(r.Index())
		size := uint64(r.SizeBytes())
		if live >= size {
			return
		}
		c := cset.Candidate{
			ID:        r.Index(),
			Garbage:   size - live,
			Live:      live,
			SizeBytes: size,
			Age:       r.Age(),
			Pinned:    r.IsPinned(),
			Humongous: r.IsHumongous(),
		}
		switch r.Affiliation() {
		case region.Young:
			young = append(young, c)
		case region.Old:
			old = append(old, c)
		}
	})
	return
}

func markCset(t *region.Table, ids ...[]region.ID) {
	for _, group := range ids {
		for _, id := range group {
			t.Get(id).SetState(region.Cset)
		}
	}
}

// reserveAndEvacuate carves out collector space sized to built's computed
// reserves, then evacuates every young and old cset region by allocating
// its live bytes out of that reserve — exactly the
// Allocate(..., Type: SharedGC)/reserve check a real GC worker performs
// before copying an object. It stops at the first allocation failure and
// reports how many regions it had already evacuated, so a caller that
// must degenerate can still credit the cycle with partial progress.
// Regions with zero live bytes (all-garbage cset members) evacuate
// trivially: there is nothing to copy, so no allocation is attempted.
func reserveAndEvacuate(free *freeset.Set, t *region.Table, built cset.Result) (evacuatedRegions int, ok bool) {
	free.ReserveForEvacuation(built.YoungEvacReserve+built.OldEvacReserve, built.PromotedReserve)

	evac := func(ids []region.ID) bool {
		for _, id := range ids {
			r := t.Get(id)
			if live := r.LiveDataBytes(); live > 0 {
				if _, allocated := free.Allocate(freeset.Request{Size: uintptr(live), Type: freeset.SharedGC}); !allocated {
					return false
				}
			}
			r.SetForwarded(true)
			evacuatedRegions++
		}
		return true
	}
	if !evac(built.YoungCset) {
		return evacuatedRegions, false
	}
	if !evac(built.OldCset) {
		return evacuatedRegions, false
	}
	return evacuatedRegions, true
}

func trashRegions(t *region.Table, groups ...[]region.ID) {
	for _, group := range groups {
		for _, id := range group {
			t.Get(id).SetState(region.Trash)
		}
	}
}

func recycleTrashed(t *region.Table) {
	t.Iterate(func(r *region.Region) {
		if r.State() == region.Trash {
			r.Recycle()
		}
	})
}

// RunDegenerated resumes a cancelled concurrent cycle under STW from the
// recorded degeneration point. It reuses the same
// candidate/evacuate/update-refs helpers as the concurrent path since
// the invariants already established up to the degeneration point
// remain valid; only the remaining suffix of the pipeline re-runs,
// synchronously and without honoring cancellation.
func RunDegenerated(ctx *Context, gen *generation.Generation, point policy.DegenerationPoint, liveBytesOf func(region.ID) uint64, promotionAgeCutoff uint32) Result {
	ctx.phase("degenerated:" + point.String())

	switch point {
	case policy.Roots, policy.Mark:
		// Liveness is not trustworthy; recompute via a synchronous full mark.
		ctx.Table.Iterate(func(r *region.Region) {
			r.SetLiveDataBytes(liveBytesOf(r.Index()))
		})
		gen.Bitmap().SetComplete(true)
	case policy.Evac, policy.UpdateRefs:
		// Mark already completed before cancellation; live data is valid.
	}

	candidatesYoung, candidatesOld := buildCandidates(ctx.Table, liveBytesOf)
	built := cset.Build(ctx.Budgets, candidatesYoung, candidatesOld, promotionAgeCutoff)
	if len(built.YoungCset) > 0 || len(built.OldCset) > 0 {
		markCset(ctx.Table, built.YoungCset, built.OldCset)
		evacuated, ok := reserveAndEvacuate(ctx.Free, ctx.Table, built)
		if !ok {
			// Even under STW the remaining free regions couldn't cover
			// the reserve: the degenerated finish itself failed to
			// evacuate. Whatever it already copied still counts as
			// progress toward the policy's upgrade-to-full decision.
			gen.SetMarkingInProgress(false)
			return Result{Succeeded: false, DegenerationPoint: point, Progress: evacuated > 0}
		}
		trashRegions(ctx.Table, built.YoungCset, built.OldCset)
	}
	recycleTrashed(ctx.Table)
	ctx.Free.Rebuild(built.YoungCset, built.OldCset)
	gen.SetMarkingInProgress(false)
	return Result{Succeeded: true}
}

// RunFull performs the compacting three-pass STW fallback: mark,
// compute new addresses, adjust pointers and move objects. Since this
// simulator never stores real objects, "moving" reduces to clearing
// forwarding/age state, recycling regions with no live bytes and setting
// every other non-empty region to Regular; region tops are left as they
// are. Afterwards it clears both generations' marking flags, forces the
// old generation to idle and rebuilds the free set. It does not change
// any generation's capacity.
func RunFull(ctx *Context, liveBytesOf func(region.ID) uint64) {
	ctx.phase("full:mark")
	ctx.Table.Iterate(func(r *region.Region) {
		r.SetLiveDataBytes(liveBytesOf(r.Index()))
	})

	ctx.phase("full:compute_addresses")
	type plan struct {
		id   region.ID
		live uint64
	}
	var plans []plan
	ctx.Table.Iterate(func(r *region.Region) {
		if r.State() == region.Empty {
			return
		}
		plans = append(plans, plan{id: r.Index(), live: r.LiveDataBytes()})
	})

	ctx.phase("full:adjust_and_move")
	var wg sync.WaitGroup
	for _, p := range plans {
		wg.Add(1)
		go func(p plan) {
			defer wg.Done()
			r := ctx.Table.Get(p.id)
			r.SetForwarded(false)
			r.ResetAge()
			if p.live == 0 {
				r.Recycle()
				return
			}
			r.SetState(region.Regular)
		}(p)
	}
	wg.Wait()

	ctx.Young.SetMarkingInProgress(false)
	ctx.Old.SetMarkingInProgress(false)
	ctx.Old.ForceIdle()
	ctx.Free.Rebuild(nil, nil)
}
