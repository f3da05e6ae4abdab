// Package freeset implements the free set: the partition of the region
// table into mutator-allocatable, collector-evacuation,
// collector-promotion, and retired regions.
package freeset

import (
	"fmt"
	"sync"

	"github.com/lumenvm/lumengc/internal/gc/region"
)

// AllocType is the request kind a caller of Allocate supplies.
type AllocType uint8

const (
	Shared AllocType = iota
	PLAB
	SharedGC
	Promotion
	Humongous
)

// Partition identifies which pool a region currently belongs to.
type Partition uint8

const (
	Retired Partition = iota
	Mutator
	Collector
	CollectorPromotion
)

func (p Partition) String() string {
	switch p {
	case Mutator:
		return "mutator"
	case Collector:
		return "collector"
	case CollectorPromotion:
		return "collector-promotion"
	default:
		return "retired"
	}
}

// Request describes one allocation ask: the
// {word_size, type, affiliation_hint} tuple.
type Request struct {
	Size           uintptr
	Type           AllocType
	AffiliationHint region.Affiliation
}

// Result is the region-local outcome of a successful allocation.
type Result struct {
	RegionID ID
	Offset   uintptr
}

// ID is a re-export alias so callers of this package don't need to
// import region just to name a region.ID.
type ID = region.ID

// Set owns the partition assignment for every region in the table and
// the evac/promotion reserve accounting consulted by Allocate.
type Set struct {
	mu        sync.Mutex
	table     *region.Table
	partition []Partition // indexed by region.ID

	evacReserve     uint64
	evacExpended    uint64
	promotedReserve uint64
	promotedExpended uint64
}

func NewSet(table *region.Table) *Set {
	return &Set{
		table:     table,
		partition: make([]Partition, table.Count()),
	}
}

// SetReserves configures the evacuation and promotion budgets computed
// by the collection-set builder; must be called before the next
// rebuild takes effect.
func (s *Set) SetReserves(evacReserve, promotedReserve uint64) {
	s.mu.Lock()
	s.evacReserve = evacReserve
	s.promotedReserve = promotedReserve
	s.evacExpended = 0
	s.promotedExpended = 0
	s.mu.Unlock()
}

// ReserveForEvacuation configures the evac/promotion byte budgets exactly
// like SetReserves, and additionally carves enough currently-empty,
// mutator-partitioned regions into the Collector and CollectorPromotion
// pools to actually back those budgets with allocatable space. The
// engine calls this once a collection set is chosen and before it starts
// evacuating, so Allocate has somewhere to land copies and can fail
// (reserve or space exhausted) instead of silently succeeding.
func (s *Set) ReserveForEvacuation(evacBytes, promotedBytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evacReserve = evacBytes
	s.promotedReserve = promotedBytes
	s.evacExpended = 0
	s.promotedExpended = 0

	regionSize := uint64(s.table.RegionSize())
	if regionSize == 0 {
		return
	}
	regionsFor := func(bytes uint64) int {
		n := bytes / regionSize
		if bytes%regionSize != 0 {
			n++
		}
		return int(n)
	}
	wantEvac := regionsFor(evacBytes)
	wantPromo := regionsFor(promotedBytes)

	for i := 0; i < len(s.partition) && (wantEvac > 0 || wantPromo > 0); i++ {
		id := region.ID(i)
		if s.partition[id] != Mutator {
			continue
		}
		r := s.table.Get(id)
		if r.State() != region.Empty {
			continue
		}
		switch {
		case wantEvac > 0:
			s.partition[id] = Collector
			wantEvac--
		default:
			s.partition[id] = CollectorPromotion
			wantPromo--
		}
	}
}

// Allocate honors a request against the mutator or collector partition
// depending on Type, failing if the relevant reserve would be exceeded.
func (s *Set) Allocate(req Request) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Type == Promotion && s.promotedExpended+uint64(req.Size) > s.promotedReserve {
		return Result{}, false
	}
	if (req.Type == SharedGC || req.Type == PLAB) && s.evacExpended+uint64(req.Size) > s.evacReserve {
		return Result{}, false
	}

	wantPartition := Mutator
	switch req.Type {
	case SharedGC:
		wantPartition = Collector
	case Promotion:
		wantPartition = CollectorPromotion
	case PLAB:
		wantPartition = Collector
	}

	for i := 0; i < len(s.partition); i++ {
		id := region.ID(i)
		if s.partition[id] != wantPartition {
			continue
		}
		r := s.table.Get(id)
		if off, ok := r.Allocate(req.Size); ok {
			if req.Type == Promotion {
				s.promotedExpended += uint64(req.Size)
			} else if req.Type == SharedGC || req.Type == PLAB {
				s.evacExpended += uint64(req.Size)
			}
			return Result{RegionID: id, Offset: off}, true
		}
	}
	return Result{}, false
}

// PrepareToRebuild counts regions about to be recycled (those currently
// in Cset or Trash state, whatever their partition), returning young and
// old counts separately.
func (s *Set) PrepareToRebuild() (youngCsetRegions, oldCsetRegions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < len(s.partition); i++ {
		r := s.table.Get(region.ID(i))
		if r.State() != region.Cset && r.State() != region.Trash {
			continue
		}
		switch r.Affiliation() {
		case region.Young:
			youngCsetRegions++
		case region.Old:
			oldCsetRegions++
		}
	}
	return
}

// Rebuild re-partitions every region: empty unaffiliated (Free) regions,
// including cset regions the caller has already recycled, become
// Mutator, available for either generation on first use; any other
// region listed in youngCset/oldCset becomes Retired; remaining old
// regions stay Retired (old never donates space to the
// mutator-allocatable partition); every other region becomes Mutator.
// No region is placed in Collector or CollectorPromotion here (cset
// recycling happens in the engine).
func (s *Set) Rebuild(youngCset, oldCset []region.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cset := make(map[region.ID]bool, len(youngCset)+len(oldCset))
	for _, id := range youngCset {
		cset[id] = true
	}
	for _, id := range oldCset {
		cset[id] = true
	}

	for i := 0; i < len(s.partition); i++ {
		id := region.ID(i)
		r := s.table.Get(id)
		switch {
		case r.State() == region.Empty && r.Affiliation() == region.Free:
			s.partition[id] = Mutator
		case cset[id]:
			s.partition[id] = Retired
		case r.Affiliation() == region.Old:
			s.partition[id] = Retired
		default:
			s.partition[id] = Mutator
		}
	}
}

// ReserveCollector moves a specific region explicitly into the collector
// (or collector-promotion) partition, used when the collection-set
// builder preselects regions for evacuation or promotion.
func (s *Set) ReserveCollector(id region.ID, promotion bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if promotion {
		s.partition[id] = CollectorPromotion
	} else {
		s.partition[id] = Collector
	}
}

func (s *Set) PartitionOf(id region.ID) Partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partition[id]
}

// LogStatusUnderLock renders a diagnostic summary of partition
// membership counts, meant for infrequent, human-facing heap status
// lines.
func (s *Set) LogStatusUnderLock() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[Partition]int{}
	for _, p := range s.partition {
		counts[p]++
	}
	return fmt.Sprintf("freeset: mutator=%d collector=%d collector-promotion=%d retired=%d evac=%d/%d promoted=%d/%d",
		counts[Mutator], counts[Collector], counts[CollectorPromotion], counts[Retired],
		s.evacExpended, s.evacReserve, s.promotedExpended, s.promotedReserve)
}
