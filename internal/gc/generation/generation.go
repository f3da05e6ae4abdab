// Package generation implements per-generation capacity accounting
// and the old-generation state machine that interleaves old marking
// with young collection cycles.
package generation

import (
	"fmt"
	"sync"

	"github.com/lumenvm/lumengc/internal/gc/markbitmap"
	"github.com/lumenvm/lumengc/internal/gc/region"
	"github.com/lumenvm/lumengc/internal/gc/rset"
)

// Kind tags which generation this is, standing in for the virtual
// ShenandoahGeneration/YoungGeneration/OldGeneration/GlobalGeneration
// hierarchy with a flat tagged struct.
type Kind uint8

const (
	Young Kind = iota
	Old
	Global
)

func (k Kind) String() string {
	switch k {
	case Young:
		return "young"
	case Old:
		return "old"
	default:
		return "global"
	}
}

// Generation maintains aggregate capacity and liveness accounting under
// its own lock, standing in for the heap lock scope a single
// Generation method call is always lock-consistent under; cross-
// generation invariants are enforced by the caller coordinating two
// Generation instances, e.g. in cset/freeset.
type Generation struct {
	mu sync.Mutex

	kind         Kind
	regionSize   uintptr
	maxCapacity  uint64
	used         uint64
	humongousWaste uint64
	affiliatedRegions int

	bitmap *markbitmap.Context

	markingInProgress bool

	// preselectedForPromotion is scoped to exactly one collection-set
	// builder call: valid only for the duration of that call and
	// cleared immediately after.
	preselectedForPromotion []region.ID
}

func New(kind Kind, regionSize uintptr, maxCapacity uint64) *Generation {
	return &Generation{
		kind:        kind,
		regionSize:  regionSize,
		maxCapacity: maxCapacity,
		bitmap:      markbitmap.NewContext(),
	}
}

func (g *Generation) Kind() Kind { return g.kind }

// Available returns max_capacity - (used + humongous_waste), clamped at
// zero.
func (g *Generation) Available() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	spent := g.used + g.humongousWaste
	if spent >= g.maxCapacity {
		return 0
	}
	return g.maxCapacity - spent
}

// FreeUnaffiliatedRegions returns max_capacity/region_size -
// affiliated_region_count, clamped at zero.
func (g *Generation) FreeUnaffiliatedRegions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := int(g.maxCapacity / uint64(g.regionSize))
	free := total - g.affiliatedRegions
	if free < 0 {
		return 0
	}
	return free
}

// IncreaseCapacity grows max_capacity by delta, which must be a multiple
// of region size; returns an error rather than silently rounding, since
// a misaligned caller indicates a sizer bug.
func (g *Generation) IncreaseCapacity(delta uint64) error {
	return g.adjustCapacity(int64Signed(delta))
}

func (g *Generation) DecreaseCapacity(delta uint64) error {
	return g.adjustCapacity(-int64Signed(delta))
}

func int64Signed(v uint64) int64 { return int64(v) }

func (g *Generation) adjustCapacity(delta int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if delta%int64(g.regionSize) != 0 {
		return fmt.Errorf("generation: capacity delta %d is not a multiple of region size %d", delta, g.regionSize)
	}
	next := int64(g.maxCapacity) + delta
	if next < 0 {
		return fmt.Errorf("generation: capacity delta %d would underflow max_capacity %d", delta, g.maxCapacity)
	}
	if uint64(g.affiliatedRegions)*uint64(g.regionSize) > uint64(next) {
		return fmt.Errorf("generation: affiliated regions exceed requested capacity")
	}
	g.maxCapacity = uint64(next)
	return nil
}

// SetAffiliatedRegionCount lets the caller (the region table owner)
// report how many regions currently carry this generation's
// affiliation, maintained separately from capacity because transfers
// happen in whole-region units decided by the sizer.
func (g *Generation) SetAffiliatedRegionCount(n int) {
	g.mu.Lock()
	g.affiliatedRegions = n
	g.mu.Unlock()
}

func (g *Generation) SetUsed(used, humongousWaste uint64) {
	g.mu.Lock()
	g.used = used
	g.humongousWaste = humongousWaste
	g.mu.Unlock()
}

func (g *Generation) Used() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used
}

// Bitmap returns the marking-bitmap context this generation owns.
func (g *Generation) Bitmap() *markbitmap.Context { return g.bitmap }

// PrepareGC marks the bitmap invalid, captures TAMS for each affiliated
// region, and clears live data and the bitmap for the regions iterated
// by iterate.
func (g *Generation) PrepareGC(iterate func(func(*region.Region))) {
	g.bitmap.SetComplete(false)
	iterate(func(r *region.Region) {
		if r.Affiliation() != affiliationFor(g.kind) && g.kind != Global {
			return
		}
		g.bitmap.ClearBitmap(r)
		g.bitmap.CaptureTopAtMarkStart(r)
		r.ClearLiveData()
	})
}

func affiliationFor(k Kind) region.Affiliation {
	switch k {
	case Young:
		return region.Young
	case Old:
		return region.Old
	default:
		return region.Free
	}
}

// MarkingInProgress reports whether this generation is currently in a
// concurrent marking phase.
func (g *Generation) MarkingInProgress() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.markingInProgress
}

func (g *Generation) SetMarkingInProgress(v bool) {
	g.mu.Lock()
	g.markingInProgress = v
	g.mu.Unlock()
}

// CancelMarking clears task queues via dropTasks, tells the reference
// processor to drop discovery via dropRefs, and flips
// marking-in-progress to false.
func (g *Generation) CancelMarking(dropTasks func(), dropRefs func()) {
	dropTasks()
	dropRefs()
	g.SetMarkingInProgress(false)
}

// ScanRememberedSet drives the card-table scanner for every affiliated
// old region, pushing discovered cross-generational roots via push.
// Only meaningful for the young generation, which is the only one that
// scans a remembered set.
func (g *Generation) ScanRememberedSet(scanner *rset.Scanner, oldRegions []*region.Region, push func(cardAddr uintptr)) {
	for _, r := range oldRegions {
		scanner.ScanChunk(r, push)
	}
}

// SetPreselectedForPromotion installs the set of region IDs the
// collection-set builder chose to preselect for promotion. The caller
// must invoke ClearPreselected immediately after the builder call
// returns; nothing else may observe this field across calls.
func (g *Generation) SetPreselectedForPromotion(ids []region.ID) {
	g.mu.Lock()
	g.preselectedForPromotion = ids
	g.mu.Unlock()
}

func (g *Generation) PreselectedForPromotion() []region.ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.preselectedForPromotion
}

func (g *Generation) ClearPreselected() {
	g.mu.Lock()
	g.preselectedForPromotion = nil
	g.mu.Unlock()
}
