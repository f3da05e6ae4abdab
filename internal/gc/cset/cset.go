// Package cset implements the collection-set builder and the
// evacuation/promotion budget algorithm.
package cset

import (
	"sort"

	"github.com/lumenvm/lumengc/internal/gc/region"
)

// Candidate is one region under consideration for the collection set,
// carrying just enough accounting to sort and budget against.
type Candidate struct {
	ID        region.ID
	Garbage   uint64 // bytes reclaimable if evacuated (size - live)
	Live      uint64
	SizeBytes uint64
	Age       uint32
	Pinned    bool
	Humongous bool
}

// Budgets carries the inputs and intermediate results of the
// seven-step budget algorithm.
type Budgets struct {
	EvacReservePercent     uint64 // ShenandoahEvacReserve
	OldEvacRatioPercent    uint64 // ShenandoahOldEvacRatioPercent
	OldCompactionReserve   uint64 // ShenandoahOldCompactionReserve, a region count; not read by Build
	EvacWaste              float64
	PromoEvacWaste         float64

	YoungMaxCapacity uint64
	YoungAvailable   uint64
	OldAvailable     uint64
	RegionSize       uint64

	HasPendingOldCandidates bool
}

// Result is the outcome of Build: the chosen young and old collection
// sets plus the final reserve figures the free set should be configured
// with.
type Result struct {
	YoungCset          []region.ID
	OldCset            []region.ID
	Preselected        []region.ID // aged young regions preselected for promotion
	YoungEvacReserve   uint64
	OldEvacReserve     uint64
	PromotedReserve    uint64
}

// Build runs the seven-step budget and selection algorithm. candidates
// must contain every non-empty, unpinned-or-pinned region eligible for
// consideration; Build filters pinned and lone humongous-start regions
// itself, since no cset region may be a bare humongous-start region:
// humongous reclamation happens via direct trashing elsewhere, so
// humongous regions are excluded from the young/old selection pass.
func Build(b Budgets, youngCandidates, oldCandidates []Candidate, promotionAgeCutoff uint32) Result {
	// Step 1: max_young_evac, clamped to availability.
	maxYoungEvac := b.YoungMaxCapacity * b.EvacReservePercent / 100
	if maxYoungEvac > b.YoungAvailable {
		maxYoungEvac = b.YoungAvailable
	}

	// Step 2: max_old_evac derived from the young figure via the ratio,
	// clamped to old availability.
	var maxOldEvac uint64
	if b.OldEvacRatioPercent < 100 {
		maxOldEvac = maxYoungEvac * b.OldEvacRatioPercent / (100 - b.OldEvacRatioPercent)
	}
	if maxOldEvac > b.OldAvailable {
		maxOldEvac = b.OldAvailable
	}

	// Step 3: devote the old budget to compaction or promotion.
	var oldEvacReserve, promotedReserve uint64
	if b.HasPendingOldCandidates {
		oldEvacReserve = maxOldEvac
		promotedReserve = 0
	} else {
		oldEvacReserve = 0
		promotedReserve = maxOldEvac
	}

	// Step 4: clamp old evacuation to whole, unfragmented free regions.
	if b.RegionSize > 0 {
		wholeRegions := oldEvacReserve / b.RegionSize
		oldEvacReserve = wholeRegions * b.RegionSize
	}

	// Step 5: preselect aged young regions for promotion up to the
	// promotion reserve, largest-live-first so the budget is spent on
	// the regions most likely to pay off.
	var preselected []region.ID
	remainingPromo := promotedReserve
	aged := filterAged(youngCandidates, promotionAgeCutoff)
	sort.Slice(aged, func(i, j int) bool { return aged[i].Live > aged[j].Live })
	for _, c := range aged {
		if uint64(float64(c.Live)*b.PromoEvacWaste) > remainingPromo {
			continue
		}
		preselected = append(preselected, c.ID)
		remainingPromo -= uint64(float64(c.Live) * b.PromoEvacWaste)
	}

	// Step 6: choose the young collection set garbage-descending until
	// the young-evac budget is exhausted.
	eligible := filterEligible(youngCandidates)
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Garbage > eligible[j].Garbage })
	var youngCset []region.ID
	remainingYoungEvac := maxYoungEvac
	var youngEvacUsed uint64
	for _, c := range eligible {
		cost := uint64(float64(c.Live) * b.EvacWaste)
		if cost > remainingYoungEvac {
			continue
		}
		youngCset = append(youngCset, c.ID)
		remainingYoungEvac -= cost
		youngEvacUsed += cost
	}

	oldEligible := filterEligible(oldCandidates)
	sort.Slice(oldEligible, func(i, j int) bool { return oldEligible[i].Garbage > oldEligible[j].Garbage })
	var oldCset []region.ID
	remainingOldEvac := oldEvacReserve
	for _, c := range oldEligible {
		cost := uint64(float64(c.Live) * b.EvacWaste)
		if cost > remainingOldEvac {
			continue
		}
		oldCset = append(oldCset, c.ID)
		remainingOldEvac -= cost
	}

	// Step 7: retire unused evacuation reserve back to young, and fold
	// any residual old budget into the promotion reserve.
	youngEvacReserve := maxYoungEvac - remainingYoungEvac
	if remainingYoungEvac > 0 {
		youngEvacReserve = youngEvacUsed
	}
	promotedReserve += remainingOldEvac

	return Result{
		YoungCset:        youngCset,
		OldCset:          oldCset,
		Preselected:      preselected,
		YoungEvacReserve: youngEvacReserve,
		OldEvacReserve:   oldEvacReserve - remainingOldEvac,
		PromotedReserve:  promotedReserve,
	}
}

func filterEligible(cands []Candidate) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Pinned || c.Humongous || c.Garbage == 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

func filterAged(cands []Candidate, cutoff uint32) []Candidate {
	out := make([]Candidate, 0)
	for _, c := range cands {
		if c.Pinned || c.Humongous {
			continue
		}
		if c.Age >= cutoff {
			out = append(out, c)
		}
	}
	return out
}
