// Package policy counts successes and failures per cycle kind and
// decides whether a degenerated cycle should be upgraded to a full GC.
package policy

import "sync"

// CycleKind distinguishes the three engine kinds whose outcomes this
// package tracks separately.
type CycleKind uint8

const (
	Concurrent CycleKind = iota
	Degenerated
	Full
)

// DegenerationPoint records where a concurrent cycle was cancelled, so
// the degenerated engine can resume from the matching STW step.
type DegenerationPoint uint8

const (
	OutsideCycle DegenerationPoint = iota
	Roots
	Mark
	Evac
	UpdateRefs
)

func (d DegenerationPoint) String() string {
	switch d {
	case Roots:
		return "roots"
	case Mark:
		return "mark"
	case Evac:
		return "evac"
	case UpdateRefs:
		return "update_refs"
	default:
		return "outside_cycle"
	}
}

// Stats tracks per-cycle-kind counters and the consecutive-failure run
// used to decide on a full-GC upgrade.
type Stats struct {
	mu sync.Mutex

	successes map[CycleKind]uint64
	failures  map[CycleKind]uint64

	consecutiveDegeneratedNoProgress int
	upgradeThreshold                 int
}

// NewStats creates a Stats tracker. upgradeThreshold is the number of
// consecutive no-progress degenerations that forces the next trigger to
// run a full GC instead.
func NewStats(upgradeThreshold int) *Stats {
	return &Stats{
		successes:         make(map[CycleKind]uint64),
		failures:          make(map[CycleKind]uint64),
		upgradeThreshold:  upgradeThreshold,
	}
}

// RecordSuccess logs a successful cycle of the given kind and resets the
// degenerate-failure streak since the heap made forward progress.
// abbreviated says whether a concurrent cycle skipped evacuation
// entirely; it is accepted but not counted separately.
func (s *Stats) RecordSuccess(kind CycleKind, abbreviated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes[kind]++
	s.consecutiveDegeneratedNoProgress = 0
}

// RecordFailure logs a failed cycle. progress indicates whether the
// degenerated cycle still freed any memory even though it did not fully
// succeed; only no-progress failures accumulate toward the full-GC
// upgrade.
func (s *Stats) RecordFailure(kind CycleKind, progress bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[kind]++
	if kind == Degenerated && !progress {
		s.consecutiveDegeneratedNoProgress++
	} else {
		s.consecutiveDegeneratedNoProgress = 0
	}
}

// ShouldUpgradeToFull reports whether the control thread should run a
// full GC instead of another degenerated attempt, once the
// degenerate cycle has failed to make progress too many times in a
// row.
func (s *Stats) ShouldUpgradeToFull() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgradeThreshold > 0 && s.consecutiveDegeneratedNoProgress >= s.upgradeThreshold
}

func (s *Stats) Successes(kind CycleKind) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successes[kind]
}

func (s *Stats) Failures(kind CycleKind) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[kind]
}

// ShouldDegenerate decides, on allocation failure, between a
// degenerated resume and a full GC, based
// purely on whether progress still seems plausible (i.e. we have not
// already exhausted the upgrade threshold).
func (s *Stats) ShouldDegenerate() bool {
	return !s.ShouldUpgradeToFull()
}
