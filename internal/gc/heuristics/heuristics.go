// Package heuristics decides when to trigger a collection cycle and how
// many workers to run each phase with. The degenerate-or-full decision
// lives in package policy.
package heuristics

import (
	"sync"
	"time"
)

// Cause identifies why a cycle is about to run, echoed into gclog lines
// in gclog lines.
type Cause uint8

const (
	CauseAllocationFailure Cause = iota
	CauseExplicitGC
	CauseHeuristicTrigger
	CauseGuaranteedInterval
)

func (c Cause) String() string {
	switch c {
	case CauseAllocationFailure:
		return "Allocation Failure"
	case CauseExplicitGC:
		return "System.gc()"
	case CauseGuaranteedInterval:
		return "Guaranteed Interval"
	default:
		return "Heuristic"
	}
}

// Thresholds bundles the tunables read from ShenandoahGuaranteedGCInterval
// and the young/old occupancy trigger percentages. A single struct
// stands in for the config flags this package consults; gcconfig owns
// parsing and hot-reload, this package only reads the resolved values.
type Thresholds struct {
	TriggerPercent      int           // young used% that requests a cycle
	GuaranteedInterval  time.Duration // force a cycle after this much idle time
}

// Heuristic decides whether to request a cycle right now, based on the
// current young occupancy and how long it has been since the last cycle
// completed.
type Heuristic struct {
	mu            sync.Mutex
	thresholds    Thresholds
	lastCycleTime time.Time
}

func New(t Thresholds) *Heuristic {
	return &Heuristic{thresholds: t, lastCycleTime: time.Time{}}
}

// ShouldStartCycle consults the heuristic and decides whether a new
// cycle should start.
// usedPercent is young.used / young.max_capacity × 100. now is passed in
// rather than read from time.Now() so tests are deterministic.
func (h *Heuristic) ShouldStartCycle(usedPercent int, now time.Time) (bool, Cause) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if usedPercent >= h.thresholds.TriggerPercent {
		return true, CauseHeuristicTrigger
	}
	if h.thresholds.GuaranteedInterval > 0 && !h.lastCycleTime.IsZero() &&
		now.Sub(h.lastCycleTime) >= h.thresholds.GuaranteedInterval {
		return true, CauseGuaranteedInterval
	}
	return false, 0
}

// RecordCycleStart lets the control thread tell the heuristic a cycle
// just completed, resetting the guaranteed-interval clock.
func (h *Heuristic) RecordCycleStart(now time.Time) {
	h.mu.Lock()
	h.lastCycleTime = now
	h.mu.Unlock()
}

// WorkerSizer is a GC-phase-aware worker-count sizer: since this
// simulator has no real NUMA topology, the only input left that
// matters is which phase is about to run and the configured maximum
// worker count.
type WorkerSizer struct {
	maxWorkers int
}

func NewWorkerSizer(maxWorkers int) *WorkerSizer {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerSizer{maxWorkers: maxWorkers}
}

// Phase identifies a parallel GC phase whose worker count this sizer
// can tune independently, mirroring the per-phase worker budgets the
// original controller computes (mark/evac/update-refs get full
// parallelism; remembered-set scanning and cleanup are lighter-weight
// and scale back to leave room for mutator threads).
type Phase uint8

const (
	PhaseMarkRoots Phase = iota
	PhaseMark
	PhaseEvacuate
	PhaseUpdateRefs
	PhaseRemSetScan
	PhaseCleanup
)

// WorkersFor returns how many goroutines should run the given phase.
func (w *WorkerSizer) WorkersFor(p Phase) int {
	switch p {
	case PhaseMark, PhaseEvacuate, PhaseUpdateRefs:
		return w.maxWorkers
	case PhaseMarkRoots, PhaseRemSetScan:
		n := w.maxWorkers
		if n > 1 {
			n = n - n/4 // leave a quarter free, roots/remset are root-bound not worker-bound
		}
		return n
	default: // PhaseCleanup
		if w.maxWorkers > 2 {
			return 2
		}
		return w.maxWorkers
	}
}
