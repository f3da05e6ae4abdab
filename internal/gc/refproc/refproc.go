// Package refproc implements weak-reference discovery and processing:
// soft, weak, final, and phantom references discovered during marking
// and resolved after final mark.
package refproc

import "sync"

// Kind distinguishes the four reference strengths the processor
// handles differently.
type Kind uint8

const (
	Soft Kind = iota
	Weak
	Final
	Phantom
)

// SoftPolicy controls whether soft references are cleared unconditionally
// or kept alive up to an LRU/max-heap budget.
type SoftPolicy uint8

const (
	ClearAllSoft SoftPolicy = iota
	LRUMaxHeapSoft
)

// Reference models one discovered reference object. StronglyLive is
// consulted by the discovery predicate at the point of discovery; the
// referent's liveness is re-checked by Process after marking completes.
// Discovered references are kept in per-worker slices (see WorkerList),
// not in a list threaded through the references themselves.
type Reference struct {
	Kind         Kind
	Referent     uintptr
	StronglyLive bool

	discovered *Reference // not set by this package; worker lists are slices
	next       *Reference // self-looped for FINAL once scheduled
	cleared    bool
}

// Processor accumulates discovered references across worker-local lists
// during concurrent marking and resolves them in one pass after final
// mark, publishing survivors to a single pending list under the heap
// lock.
type Processor struct {
	mu       sync.Mutex
	lists    [][]*Reference // one slice per worker, appended to directly
	pending  []*Reference   // published survivors, drained by the runtime
	policy   SoftPolicy
	lastGCID uint64 // used for LRU-max-heap soft clearing heuristics
}

func NewProcessor(policy SoftPolicy) *Processor {
	return &Processor{policy: policy}
}

// WorkerList returns a fresh per-worker discovery buffer. Workers append
// to the returned slice directly; no cross-worker synchronization is
// needed until Process merges them.
func (p *Processor) WorkerList() *[]*Reference {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.lists)
	p.lists = append(p.lists, nil)
	return &p.lists[idx]
}

// ShouldDiscover applies the three-part discover predicate: a
// reference is discovered only if its referent is not yet known-live,
// is not itself strongly reachable, and (for Soft) survives the
// configured soft policy.
func (p *Processor) ShouldDiscover(ref *Reference, referentMarked bool, gcID uint64) bool {
	if referentMarked || ref.StronglyLive {
		return false
	}
	if ref.Kind == Soft && p.policy == ClearAllSoft {
		return true
	}
	if ref.Kind == Soft && p.policy == LRUMaxHeapSoft {
		// Older references (larger GC-id gap) are cleared first under
		// memory pressure; this stands in for the clock-based policy.
		return gcID-p.lastGCID > 0
	}
	return true
}

// Discover appends ref to the end of the given worker list.
func Discover(list *[]*Reference, ref *Reference) {
	*list = append(*list, ref)
}

// Process runs the after-final-mark pass: for each discovered reference,
// decide retain-or-clear using isMarked to test current referent
// liveness now that marking is complete. Non-final references that lose
// liveness have their Referent cleared; FINAL references that lose
// liveness are scheduled for a second weaker mark (self-looped next) so
// the referent is kept alive exactly once more, matching the two-phase
// finalization contract. Survivors are spliced into the processor's
// pending list for publication under the heap lock.
func (p *Processor) Process(isMarked func(addr uintptr) bool) {
	p.mu.Lock()
	lists := p.lists
	p.lists = nil
	p.mu.Unlock()

	var survivors []*Reference
	for _, list := range lists {
		for _, ref := range list {
			if isMarked(ref.Referent) {
				continue // referent turned out live after all; drop discovery
			}
			if ref.Kind == Final {
				ref.next = ref // self-loop: scheduled for the weaker second mark
				survivors = append(survivors, ref)
				continue
			}
			ref.Referent = 0
			ref.cleared = true
			survivors = append(survivors, ref)
		}
	}

	p.mu.Lock()
	p.pending = append(p.pending, survivors...)
	p.mu.Unlock()
}

// Publish drains and returns the pending list for handoff to the
// runtime under the heap lock.
func (p *Processor) Publish() []*Reference {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out
}

// NoteCycle records the GC id of the cycle that just ran, used by the
// LRU-max-heap soft-reference policy to decide which references have
// aged past their budget.
func (p *Processor) NoteCycle(gcID uint64) {
	p.mu.Lock()
	p.lastGCID = gcID
	p.mu.Unlock()
}
