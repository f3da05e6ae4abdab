package policy

import "testing"

func TestShouldUpgradeToFullAfterThreshold(t *testing.T) {
	s := NewStats(3)
	for i := 0; i < 2; i++ {
		s.RecordFailure(Degenerated, false)
	}
	if s.ShouldUpgradeToFull() {
		t.Fatal("should not upgrade before reaching the threshold")
	}
	s.RecordFailure(Degenerated, false)
	if !s.ShouldUpgradeToFull() {
		t.Fatal("expected upgrade after reaching the threshold")
	}
}

func TestProgressResetsConsecutiveCounter(t *testing.T) {
	s := NewStats(2)
	s.RecordFailure(Degenerated, false)
	s.RecordFailure(Degenerated, true) // made progress, resets the streak
	s.RecordFailure(Degenerated, false)
	if s.ShouldUpgradeToFull() {
		t.Fatal("progress should have reset the no-progress streak")
	}
}

func TestSuccessResetsStreak(t *testing.T) {
	s := NewStats(1)
	s.RecordFailure(Degenerated, false)
	s.RecordSuccess(Concurrent, false)
	if s.ShouldUpgradeToFull() {
		t.Fatal("a later success should reset the degenerate failure streak")
	}
}

func TestShouldDegenerateMirrorsUpgradeDecision(t *testing.T) {
	s := NewStats(1)
	if !s.ShouldDegenerate() {
		t.Fatal("expected degeneration to be preferred before the threshold")
	}
	s.RecordFailure(Degenerated, false)
	if s.ShouldDegenerate() {
		t.Fatal("expected full GC to be preferred once the threshold is reached")
	}
}
