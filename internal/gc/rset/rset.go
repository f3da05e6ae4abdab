// Package rset implements the remembered set: a pair of card tables
// tracking old→young pointers, owned by the old generation. The read
// table drives remembered-set scanning; the write table is stamped by
// mutator post-write barriers. They are swapped at mark start and
// merged on a degenerate fallback.
package rset

import (
	"sync/atomic"

	"github.com/lumenvm/lumengc/internal/gc/region"
)

// CardBytes is the fixed card granularity. Making this a runtime
// choice interacts subtly with the object-start table and is
// explicitly not attempted here.
const CardBytes = 512

type cardState uint8

const (
	clean cardState = 0
	dirty cardState = 1
)

// CardTable is a single table of per-card state for the whole heap
// address range covered by a region.Table.
type CardTable struct {
	bottom uintptr
	cards  []uint32
}

func newCardTable(heapBytes uintptr) *CardTable {
	n := int((heapBytes + CardBytes - 1) / CardBytes)
	return &CardTable{cards: make([]uint32, n)}
}

func (ct *CardTable) cardIndex(addr uintptr) int {
	return int((addr - ct.bottom) / CardBytes)
}

func (ct *CardTable) Dirty(addr uintptr) {
	atomic.StoreUint32(&ct.cards[ct.cardIndex(addr)], uint32(dirty))
}

func (ct *CardTable) IsDirty(addr uintptr) bool {
	return atomic.LoadUint32(&ct.cards[ct.cardIndex(addr)]) == uint32(dirty)
}

func (ct *CardTable) Clean(addr uintptr) {
	atomic.StoreUint32(&ct.cards[ct.cardIndex(addr)], uint32(clean))
}

// RangeDirty calls fn for every dirty card whose address range falls
// within [bottom, bottom+words*8), used by the remembered-set scanner
// to partition old regions into work chunks.
func (ct *CardTable) RangeDirty(bottom uintptr, words uintptr, fn func(cardAddr uintptr)) {
	end := bottom + words*8
	startCard := ct.cardIndex(bottom)
	endCard := ct.cardIndex(end)
	for i := startCard; i < endCard && i < len(ct.cards); i++ {
		if atomic.LoadUint32(&ct.cards[i]) == uint32(dirty) {
			fn(ct.bottom + uintptr(i)*CardBytes)
		}
	}
}

// Clear zeroes every card in the table. Exposed for the engine's
// old-bootstrap reset, where the whole read table (not a single
// region's range) must be marked clean.
func (ct *CardTable) Clear() {
	ct.clear()
}

// clear zeroes every card, used when resetting the write table at the
// start of a generation's prepare_gc.
func (ct *CardTable) clear() {
	for i := range ct.cards {
		atomic.StoreUint32(&ct.cards[i], uint32(clean))
	}
}

// Scanner owns the read/write card table pair for the old generation.
type Scanner struct {
	heapBottom uintptr
	read       *CardTable
	write      *CardTable
}

func NewScanner(heapBottom, heapBytes uintptr) *Scanner {
	r := newCardTable(heapBytes)
	w := newCardTable(heapBytes)
	r.bottom, w.bottom = heapBottom, heapBottom
	return &Scanner{heapBottom: heapBottom, read: r, write: w}
}

// ReadTable is read-only during remembered-set scanning.
func (s *Scanner) ReadTable() *CardTable { return s.read }

// WriteTable is mutated only by post-write card barriers.
func (s *Scanner) WriteTable() *CardTable { return s.write }

// DirtyCard is the post-write card barrier entry point: mark the card
// containing addr as dirty in the write table.
func (s *Scanner) DirtyCard(addr uintptr) {
	s.write.Dirty(addr)
}

// Swap copies the write table onto the read table and clears the write
// table. Must run at a safepoint once marking for the cycle is known to
// be complete. This copies rather than exchanging pointers, since
// mutator barriers address a fixed write-table instance.
func (s *Scanner) Swap() {
	copy(s.read.cards, s.write.cards)
	s.write.clear()
}

// Merge folds the write table into the read table (write ∪ read →
// read) without clearing the write table, used when a cycle is
// cancelled after the swap point so no dirty card written during the
// transition to degenerate is lost.
func (s *Scanner) Merge() {
	for i := range s.read.cards {
		if s.write.cards[i] == uint32(dirty) {
			s.read.cards[i] = uint32(dirty)
		}
	}
}

// ResetRemSet clears the card state for a region's address range, used
// during reset-for-bootstrap.
func (s *Scanner) ResetRemSet(r *region.Region) {
	s.read.RangeDirty(r.Bottom(), r.SizeBytes()/8, func(addr uintptr) {
		s.read.Clean(addr)
	})
}

// ScanChunk walks the read table's dirty cards within a region, calling
// fn once per dirty card address. Workers call this over disjoint
// region stripes claimed from an atomic counter (see cset chunker in
// the engine package) to parallelize remembered-set scanning.
func (s *Scanner) ScanChunk(r *region.Region, fn func(cardAddr uintptr)) {
	s.read.RangeDirty(r.Bottom(), r.SizeBytes()/8, fn)
}
