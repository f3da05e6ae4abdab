// Package heap glues components A-N into the public collector surface:
// the barrier contract, the allocation contract, and the public control
// operations.
package heap

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumenvm/lumengc/internal/gc/control"
	"github.com/lumenvm/lumengc/internal/gc/cset"
	"github.com/lumenvm/lumengc/internal/gc/engine"
	"github.com/lumenvm/lumengc/internal/gc/freeset"
	"github.com/lumenvm/lumengc/internal/gc/gclog"
	"github.com/lumenvm/lumengc/internal/gc/generation"
	"github.com/lumenvm/lumengc/internal/gc/heuristics"
	"github.com/lumenvm/lumengc/internal/gc/policy"
	"github.com/lumenvm/lumengc/internal/gc/refproc"
	"github.com/lumenvm/lumengc/internal/gc/region"
	"github.com/lumenvm/lumengc/internal/gc/rset"
	"github.com/lumenvm/lumengc/internal/gc/satb"
	"github.com/lumenvm/lumengc/internal/gc/taskqueue"
	"github.com/lumenvm/lumengc/internal/runtime/concurrency"
)

// Cause re-exports heuristics.Cause as the public trigger-cause type.
type Cause = heuristics.Cause

const (
	CauseAllocationFailure = heuristics.CauseAllocationFailure
	CauseExplicitGC        = heuristics.CauseExplicitGC
)

// Config configures a Heap at construction time.
type Config struct {
	RegionCount int
	RegionSize  uintptr

	GenerationalMode bool

	EvacReservePercent   uint64
	OldEvacRatioPercent  uint64
	OldCompactionReserve uint64
	EvacWaste            float64
	PromoEvacWaste       float64

	SoftPolicy refproc.SoftPolicy

	HeuristicTriggerPercent int
	GuaranteedInterval      time.Duration

	ControlIntervalMin    time.Duration
	ControlIntervalMax    time.Duration
	ControlIntervalAdjust time.Duration

	DegenerationUpgradeThreshold int
	PromotionAgeCutoff           uint32

	WorkerCount int
}

// Heap is the top-level object a mutator simulation or a CLI front end
// constructs and drives.
type Heap struct {
	cfg Config

	table  *region.Table
	young  *generation.Generation
	old    *generation.OldGeneration
	global *generation.Generation

	free *freeset.Set
	rs   *rset.Scanner
	sq   *satb.QueueSet
	refs *refproc.Processor

	tasks *taskqueue.Set
	sizer *heuristics.WorkerSizer

	heuristic *heuristics.Heuristic
	stats     *policy.Stats
	log       *gclog.Logger

	engCtx *engine.Context
	ctrl   *control.Thread

	// liveBytes simulates the liveness a real mark phase would compute by
	// walking the object graph. It is updated by mutator-simulation
	// goroutines outside any GC safepoint and read by the engine during
	// marking, so it is backed by a lock-free map rather than a
	// mutex-guarded one.
	liveBytes *concurrency.LockFreeMap[region.ID, uint64]

	cancelCtx   context.CancelFunc
	runningOnce sync.Once
}

// New builds a Heap ready to be Start()ed.
func New(cfg Config, logWriter interface{ Write([]byte) (int, error) }) *Heap {
	table := region.NewTable(uintptr(cfg.RegionCount)*cfg.RegionSize, cfg.RegionSize)
	maxCap := uint64(cfg.RegionCount) * uint64(cfg.RegionSize)

	young := generation.New(generation.Young, cfg.RegionSize, maxCap)
	old := generation.NewOld(cfg.RegionSize, maxCap)
	global := generation.New(generation.Global, cfg.RegionSize, maxCap)

	free := freeset.NewSet(table)
	free.Rebuild(nil, nil)

	rs := rset.NewScanner(0, uintptr(cfg.RegionCount)*cfg.RegionSize)
	sq := satb.NewQueueSet()
	refs := refproc.NewProcessor(cfg.SoftPolicy)

	workers := cfg.WorkerCount
	if workers < 1 {
		workers = 1
	}
	tasks := taskqueue.NewSet(workers)
	sizer := heuristics.NewWorkerSizer(workers)

	h := &Heap{
		cfg:       cfg,
		table:     table,
		young:     young,
		old:       old,
		global:    global,
		free:      free,
		rs:        rs,
		sq:        sq,
		refs:      refs,
		tasks:     tasks,
		sizer:     sizer,
		heuristic: heuristics.New(heuristics.Thresholds{TriggerPercent: cfg.HeuristicTriggerPercent, GuaranteedInterval: cfg.GuaranteedInterval}),
		stats:     policy.NewStats(cfg.DegenerationUpgradeThreshold),
		log:       gclog.New(logWriter),
		liveBytes: concurrency.NewLockFreeMap[region.ID, uint64](uint64(cfg.RegionCount), func(id region.ID) uint64 { return uint64(id) }),
	}

	h.engCtx = &engine.Context{
		Table:            table,
		Young:            young,
		Old:              old,
		Global:           global,
		Free:             free,
		RSet:             rs,
		SATB:             sq,
		Refs:             refs,
		Tasks:            tasks,
		Cancelled:        &atomic.Bool{},
		GenerationalMode: cfg.GenerationalMode,
		Budgets: cset.Budgets{
			EvacReservePercent:   cfg.EvacReservePercent,
			OldEvacRatioPercent:  cfg.OldEvacRatioPercent,
			OldCompactionReserve: cfg.OldCompactionReserve,
			EvacWaste:            cfg.EvacWaste,
			PromoEvacWaste:       cfg.PromoEvacWaste,
			YoungMaxCapacity:     maxCap,
			YoungAvailable:       maxCap,
			OldAvailable:         maxCap,
			RegionSize:           uint64(cfg.RegionSize),
		},
		OnPhase: func(name string) { h.log.Phase(h.ctrl.GCID(), name) },
	}

	h.ctrl = control.New(h.engCtx, young, h.heuristic, h.stats, h.log, h.liveBytesOf, control.Config{
		MinInterval:        cfg.ControlIntervalMin,
		MaxInterval:        cfg.ControlIntervalMax,
		AdjustPeriod:       cfg.ControlIntervalAdjust,
		PromotionAgeCutoff: cfg.PromotionAgeCutoff,
	})

	return h
}

func (h *Heap) liveBytesOf(id region.ID) uint64 {
	v, _ := h.liveBytes.Load(id)
	return v
}

// SetLiveBytes lets a mutator simulation report how much of a region it
// considers live, standing in for the object graph a real collector
// would walk to compute this during marking.
func (h *Heap) SetLiveBytes(id region.ID, live uint64) {
	h.liveBytes.Store(id, live)
}

// SetVerbose toggles per-phase log lines in addition to the per-cycle
// summary lines gclog always emits.
func (h *Heap) SetVerbose(v bool) { h.log.SetVerbose(v) }

// Start launches the control thread's scheduler loop in the background.
func (h *Heap) Start() {
	h.runningOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelCtx = cancel
		go h.ctrl.Run(ctx)
	})
}

// Stop cancels the control thread's loop.
func (h *Heap) Stop() {
	if h.cancelCtx != nil {
		h.cancelCtx()
	}
}

// --- Allocation contract ---

type AllocType = freeset.AllocType

const (
	Shared    = freeset.Shared
	PLAB      = freeset.PLAB
	SharedGC  = freeset.SharedGC
	Promotion = freeset.Promotion
	Humongous = freeset.Humongous
)

// AllocRequest mirrors the {size, type, affiliation} tuple mutators
// submit to the free set.
type AllocRequest struct {
	Size        uintptr
	Type        AllocType
	Affiliation region.Affiliation
}

// AllocResult is non-nil (Ok true) on success; on failure the caller may
// retry after triggering a GC, per the allocation contract.
type AllocResult struct {
	RegionID region.ID
	Offset   uintptr
	Ok       bool
}

// Allocate honors req against the free set, and on the humongous path
// spans contiguous regions (one region for anything ≤ region size).
func (h *Heap) Allocate(req AllocRequest) AllocResult {
	if req.Type == Humongous {
		return h.allocateHumongous(req)
	}
	res, ok := h.free.Allocate(freeset.Request{Size: req.Size, Type: req.Type, AffiliationHint: req.Affiliation})
	if !ok {
		return AllocResult{Ok: false}
	}
	return AllocResult{RegionID: res.RegionID, Offset: res.Offset, Ok: true}
}

func (h *Heap) allocateHumongous(req AllocRequest) AllocResult {
	regionsNeeded := int((req.Size + h.cfg.RegionSize - 1) / h.cfg.RegionSize)
	if regionsNeeded < 1 {
		regionsNeeded = 1
	}
	start := -1
	run := 0
	for i := 0; i < h.table.Count(); i++ {
		r := h.table.Get(region.ID(i))
		if r.State() == region.Empty && h.free.PartitionOf(region.ID(i)) == freeset.Mutator {
			if start == -1 {
				start = i
			}
			run++
			if run == regionsNeeded {
				break
			}
		} else {
			start, run = -1, 0
		}
	}
	if run < regionsNeeded {
		return AllocResult{Ok: false}
	}
	for i := start; i < start+regionsNeeded; i++ {
		r := h.table.Get(region.ID(i))
		r.SetAffiliation(req.Affiliation)
		if i == start {
			r.SetState(region.HumongousStart)
		} else {
			r.SetState(region.HumongousCont)
		}
		r.Allocate(h.cfg.RegionSize)
	}
	return AllocResult{RegionID: region.ID(start), Offset: h.table.Get(region.ID(start)).Bottom(), Ok: true}
}

// --- Barrier contract ---

// PreWriteBarrier implements the SATB pre-write barrier: active while
// either generation has concurrent marking in progress. For old
// marking, young-affiliated source stores may be filtered out by the
// caller before calling this; this function itself always
// logs, leaving the filtering decision to SATB.FilterForOld at drain
// time, which is simpler and still observably correct.
func (h *Heap) PreWriteBarrier(buf *satb.Buffer, oldValue uintptr, oldValueRegion region.ID) {
	if !h.sq.IsActive() {
		return
	}
	if buf.Record(oldValue, oldValueRegion) {
		h.sq.Flush(buf)
	}
}

// PostWriteCardBarrier implements the post-write card barrier: after
// storing into a field inside an OLD region, dirty its card
// (generational mode, always active).
func (h *Heap) PostWriteCardBarrier(fieldAddr uintptr, fieldRegion *region.Region) {
	if !h.cfg.GenerationalMode {
		return
	}
	if fieldRegion.Affiliation() != region.Old {
		return
	}
	h.rs.DirtyCard(fieldAddr)
}

// LoadReferenceBarrier implements the self-healing load-reference
// barrier: if addr's region is mid-evacuation (forwarded), the caller
// is expected to have already resolved the new location; here we only
// report whether resolution is needed, since this simulator has no
// real object graph to rewrite in place.
func (h *Heap) LoadReferenceBarrier(r *region.Region) (needsResolve bool) {
	return r.State() == region.Cset || r.IsForwarded()
}

// --- Public control operations ---

func (h *Heap) RequestGC(cause Cause) { h.ctrl.RequestGC(false, cause) }

func (h *Heap) RequestFullGC() { h.ctrl.RequestGC(true, CauseExplicitGC) }

func (h *Heap) CancelGC() { h.ctrl.CancelGC() }

func (h *Heap) NotifyHeapChanged() { h.ctrl.NotifyHeapChanged() }

func (h *Heap) NotifySoftMaxChanged() { h.ctrl.NotifySoftMaxChanged() }

// NotifyExplicitGCRequested mirrors System.gc(): it queues an explicit
// (non-full, non-blocking) GC trigger rather than routing through the
// allocation-failure path, so it competes at explicit-request priority
// rather than masquerading as an allocation failure.
func (h *Heap) NotifyExplicitGCRequested() {
	h.ctrl.NotifyExplicitGC(false, heuristics.CauseExplicitGC)
}

// Table exposes the region table for diagnostics callers.
func (h *Heap) Table() *region.Table { return h.table }

func (h *Heap) Young() *generation.Generation { return h.young }
func (h *Heap) Old() *generation.OldGeneration { return h.old }
func (h *Heap) FreeSet() *freeset.Set          { return h.free }
func (h *Heap) Stats() *policy.Stats           { return h.stats }
