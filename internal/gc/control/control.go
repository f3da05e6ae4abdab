// Package control implements the control thread: the long-running
// scheduler loop that reads triggers, picks a collection mode, runs the
// matching engine, and manages explicit-GC waiters.
//
// A JVM runs this loop on a dedicated OS thread and wakes it via
// condition variables; here it runs as one goroutine woken by a
// buffered channel, with callers setting atomic trigger flags instead
// of notifying a monitor.
package control

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumenvm/lumengc/internal/gc/engine"
	"github.com/lumenvm/lumengc/internal/gc/generation"
	"github.com/lumenvm/lumengc/internal/gc/gclog"
	"github.com/lumenvm/lumengc/internal/gc/heuristics"
	"github.com/lumenvm/lumengc/internal/gc/policy"
	"github.com/lumenvm/lumengc/internal/gc/region"
)

// Cause mirrors heuristics.Cause for the commands this package accepts;
// re-exported so callers outside gc/heuristics don't need that import
// just to request a GC.
type Cause = heuristics.Cause

// Thread is the control thread's state: its pending-trigger flags,
// current GC id, and every component needed to run a cycle. Triggers
// are held as a snapshot of flags rather than queued as a FIFO of
// commands, so that when more than one fires before the loop wakes it
// services them in §4.9 priority order (allocation failure > explicit
// request > heuristic trigger) instead of arrival order.
type Thread struct {
	engCtx             *engine.Context
	young              *generation.Generation
	heuristic          *heuristics.Heuristic
	stats              *policy.Stats
	log                *gclog.Logger
	liveBytesOf        func(region.ID) uint64
	promotionAgeCutoff uint32

	minInterval  time.Duration
	maxInterval  time.Duration
	adjustPeriod time.Duration

	mu               sync.Mutex
	gcID             uint64
	lastDegeneration policy.DegenerationPoint
	waiters          map[uint64][]chan struct{}

	allocFailurePending atomic.Bool
	explicitPending     atomic.Bool
	explicitFull        atomic.Bool
	explicitCause       atomic.Uint32
	heapChangedPending  atomic.Bool
	wake                chan struct{} // buffered 1; signalWake never blocks

	cancel *atomic.Bool

	started int32
}

// Config bundles the tunables the control loop needs beyond the
// per-cycle engine Context (ControlIntervalMin/Max/AdjustPeriod).
type Config struct {
	MinInterval          time.Duration
	MaxInterval           time.Duration
	AdjustPeriod          time.Duration
	PromotionAgeCutoff   uint32
}

func New(engCtx *engine.Context, young *generation.Generation, h *heuristics.Heuristic, s *policy.Stats, log *gclog.Logger, liveBytesOf func(region.ID) uint64, cfg Config) *Thread {
	return &Thread{
		engCtx:             engCtx,
		young:              young,
		heuristic:          h,
		stats:              s,
		log:                log,
		liveBytesOf:        liveBytesOf,
		promotionAgeCutoff: cfg.PromotionAgeCutoff,
		minInterval:        cfg.MinInterval,
		maxInterval:        cfg.MaxInterval,
		adjustPeriod:       cfg.AdjustPeriod,
		waiters:            make(map[uint64][]chan struct{}),
		wake:               make(chan struct{}, 1),
		cancel:             engCtx.Cancelled,
	}
}

// Run is the infinite scheduler loop. It returns when ctx is cancelled,
// the only clean shutdown path.
func (t *Thread) Run(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&t.started, 0, 1) {
		return
	}
	interval := t.minInterval
	lastAdjust := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.wake:
			t.serviceTriggers()
			interval = t.minInterval
			lastAdjust = time.Now()
			continue
		case <-time.After(interval):
		}

		ran := t.maybeRunHeuristicCycle()
		now := time.Now()
		if ran {
			interval = t.minInterval
			lastAdjust = now
			continue
		}
		if now.Sub(lastAdjust) >= t.adjustPeriod {
			interval *= 2
			if interval > t.maxInterval {
				interval = t.maxInterval
			}
			lastAdjust = now
		}
	}
}

// serviceTriggers snapshots and clears every pending trigger flag and
// runs at most one cycle, honoring the priority order from spec §4.9
// step 2: allocation failure beats an explicit request, which beats the
// heuristic's own threshold check. A heap/soft-max-changed notification
// carries no cycle of its own; it only exists to have reached this
// point and reset the caller's back-off clock.
func (t *Thread) serviceTriggers() {
	if t.allocFailurePending.CompareAndSwap(true, false) {
		t.runAllocationFailure()
		return
	}
	if t.explicitPending.CompareAndSwap(true, false) {
		full := t.explicitFull.Swap(false)
		cause := Cause(t.explicitCause.Load())
		t.runExplicit(full, cause)
		return
	}
	t.heapChangedPending.Store(false)
	t.maybeRunHeuristicCycle()
}

func (t *Thread) runAllocationFailure() {
	if t.stats.ShouldDegenerate() {
		t.runCycle(func() engine.Result {
			point := t.currentDegenerationPoint()
			return t.degeneratedResult(point)
		}, policy.Degenerated, heuristics.CauseAllocationFailure)
		return
	}
	t.runFull(heuristics.CauseAllocationFailure)
}

func (t *Thread) runExplicit(full bool, cause Cause) {
	if full || t.stats.ShouldUpgradeToFull() {
		t.runFull(cause)
		return
	}
	t.runCycle(func() engine.Result {
		return engine.RunConcurrent(t.engCtx, t.young, t.liveBytesOf, t.promotionAgeCutoff)
	}, policy.Concurrent, cause)
}

func (t *Thread) maybeRunHeuristicCycle() bool {
	usedPercent := percentUsed(t.young)
	ok, cause := t.heuristic.ShouldStartCycle(usedPercent, time.Now())
	if !ok {
		return false
	}
	t.runCycle(func() engine.Result {
		return engine.RunConcurrent(t.engCtx, t.young, t.liveBytesOf, t.promotionAgeCutoff)
	}, policy.Concurrent, cause)
	return true
}

func percentUsed(g *generation.Generation) int {
	avail := g.Available()
	used := g.Used()
	total := used + avail
	if total == 0 {
		return 0
	}
	return int(used * 100 / total)
}

func (t *Thread) currentDegenerationPoint() policy.DegenerationPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastDegeneration
}

func (t *Thread) degeneratedResult(point policy.DegenerationPoint) engine.Result {
	return engine.RunDegenerated(t.engCtx, t.young, point, t.liveBytesOf, t.promotionAgeCutoff)
}

func (t *Thread) runFull(cause Cause) {
	t.beginCycle(cause)
	engine.RunFull(t.engCtx, t.liveBytesOf)
	t.stats.RecordSuccess(policy.Full, false)
	t.heuristic.RecordCycleStart(time.Now())
	t.endCycle()
	t.log.AfterGC(t.gcIDUnsafe(), "Full", 0)
}

func (t *Thread) runCycle(run func() engine.Result, kind policy.CycleKind, cause Cause) {
	t.beginCycle(cause)
	start := time.Now()
	res := run()
	elapsed := time.Since(start)

	if res.Succeeded {
		t.stats.RecordSuccess(kind, res.Abbreviated)
		t.heuristic.RecordCycleStart(time.Now())
	} else {
		t.mu.Lock()
		t.lastDegeneration = res.DegenerationPoint
		t.mu.Unlock()
		t.stats.RecordFailure(kind, res.Progress)
	}
	t.endCycle()
	t.log.AfterGC(t.gcIDUnsafe(), kindName(kind, res), elapsed)
}

func kindName(kind policy.CycleKind, res engine.Result) string {
	switch kind {
	case policy.Concurrent:
		if res.Abbreviated {
			return "Concurrent (abbreviated)"
		}
		return "Concurrent"
	case policy.Degenerated:
		return "Degenerated"
	default:
		return "Full"
	}
}

func (t *Thread) beginCycle(cause Cause) {
	t.mu.Lock()
	t.gcID++
	t.mu.Unlock()
	t.cancel.Store(false)
	t.log.BeforeGC(t.gcIDUnsafe(), cause)
}

func (t *Thread) endCycle() {
	t.mu.Lock()
	id := t.gcID
	waiters := t.waiters[id]
	delete(t.waiters, id)
	for k, chans := range t.waiters {
		if k <= id {
			for _, c := range chans {
				close(c)
			}
			delete(t.waiters, k)
		}
	}
	t.mu.Unlock()
	for _, c := range waiters {
		close(c)
	}
}

func (t *Thread) gcIDUnsafe() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gcID
}

// RequestGC submits an explicit GC request and blocks until the current
// GC id advances past the id observed at request time.
func (t *Thread) RequestGC(full bool, cause Cause) {
	t.mu.Lock()
	observed := t.gcID
	wait := make(chan struct{})
	t.waiters[observed+1] = append(t.waiters[observed+1], wait)
	t.mu.Unlock()

	t.NotifyExplicitGC(full, cause)
	<-wait
}

// CancelGC sets the shared cooperative-cancellation flag; concurrent
// phases observe it between chunks of work.
func (t *Thread) CancelGC() { t.cancel.Store(true) }

// NotifyHeapChanged resets the control loop's back-off clock without
// queuing a cycle of its own.
func (t *Thread) NotifyHeapChanged() {
	t.heapChangedPending.Store(true)
	t.signalWake()
}

// NotifySoftMaxChanged resets the back-off clock exactly like
// NotifyHeapChanged. There is no uncommit pass, and nothing about the
// soft-max target itself is recorded.
func (t *Thread) NotifySoftMaxChanged() {
	t.heapChangedPending.Store(true)
	t.signalWake()
}

// NotifyAllocationFailure tells the control thread a mutator allocation
// just failed; it is serviced with top priority over explicit or
// heuristic triggers (spec §4.9 step 2).
func (t *Thread) NotifyAllocationFailure() {
	t.allocFailurePending.Store(true)
	t.signalWake()
}

// NotifyExplicitGC records an explicit-GC request as a pending trigger
// and wakes the control loop. Unlike RequestGC it does not block; it is
// the notify-only counterpart NotifyExplicitGCRequested uses, and
// RequestGC layers its own wait on top of it.
func (t *Thread) NotifyExplicitGC(full bool, cause Cause) {
	t.explicitCause.Store(uint32(cause))
	t.explicitFull.Store(full)
	t.explicitPending.Store(true)
	t.signalWake()
}

func (t *Thread) signalWake() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// GCID returns the most recently started cycle's id, for diagnostics.
func (t *Thread) GCID() uint64 { return t.gcIDUnsafe() }
