package refproc

import "testing"

func TestShouldDiscoverSkipsStronglyLiveAndMarked(t *testing.T) {
	p := NewProcessor(ClearAllSoft)
	ref := &Reference{Kind: Weak, Referent: 1}
	if p.ShouldDiscover(ref, true, 0) {
		t.Fatal("a marked referent must not be discovered")
	}
	ref.StronglyLive = true
	if p.ShouldDiscover(ref, false, 0) {
		t.Fatal("a strongly live reference must not be discovered")
	}
}

func TestProcessClearsNonFinalDeadReferents(t *testing.T) {
	p := NewProcessor(ClearAllSoft)
	list := p.WorkerList()
	ref := &Reference{Kind: Weak, Referent: 42}
	Discover(list, ref)

	p.Process(func(addr uintptr) bool { return false })

	survivors := p.Publish()
	if len(survivors) != 1 {
		t.Fatalf("expected 1 survivor, got %d", len(survivors))
	}
	if survivors[0].Referent != 0 || !survivors[0].cleared {
		t.Fatal("expected referent cleared for dead weak reference")
	}
}

func TestProcessSelfLoopsFinalReferences(t *testing.T) {
	p := NewProcessor(ClearAllSoft)
	list := p.WorkerList()
	ref := &Reference{Kind: Final, Referent: 7}
	Discover(list, ref)

	p.Process(func(addr uintptr) bool { return false })

	survivors := p.Publish()
	if len(survivors) != 1 || survivors[0].next != survivors[0] {
		t.Fatal("expected final reference to be self-looped, not cleared")
	}
	if survivors[0].Referent != 7 {
		t.Fatal("final reference referent must survive the first pass")
	}
}

func TestProcessDropsReferencesThatTurnedOutLive(t *testing.T) {
	p := NewProcessor(ClearAllSoft)
	list := p.WorkerList()
	ref := &Reference{Kind: Weak, Referent: 5}
	Discover(list, ref)

	p.Process(func(addr uintptr) bool { return true })

	if survivors := p.Publish(); len(survivors) != 0 {
		t.Fatalf("expected no survivors when referent is live, got %d", len(survivors))
	}
}
