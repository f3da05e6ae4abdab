package heap

import (
	"bytes"
	"testing"
	"time"

	"github.com/lumenvm/lumengc/internal/gc/policy"
	"github.com/lumenvm/lumengc/internal/gc/refproc"
	"github.com/lumenvm/lumengc/internal/gc/region"
)

func testConfig(regionCount int) Config {
	return Config{
		RegionCount:                  regionCount,
		RegionSize:                   1 << 16,
		GenerationalMode:             true,
		EvacReservePercent:           50,
		OldEvacRatioPercent:          50,
		OldCompactionReserve:         1,
		EvacWaste:                   1.2,
		PromoEvacWaste:               1.2,
		SoftPolicy:                   refproc.ClearAllSoft,
		HeuristicTriggerPercent:      101, // never fires on its own in this test
		GuaranteedInterval:           0,
		ControlIntervalMin:           time.Millisecond,
		ControlIntervalMax:           10 * time.Millisecond,
		ControlIntervalAdjust:        10 * time.Millisecond,
		DegenerationUpgradeThreshold: 3,
		PromotionAgeCutoff:           5,
		WorkerCount:                  2,
	}
}

// TestConcurrentCycleReclaimsAllGarbageRegions drives a young
// generation entirely made of garbage regions through an explicit
// request, and asserts that the cycle both succeeds and is recorded
// against the policy statistics.
func TestConcurrentCycleReclaimsAllGarbageRegions(t *testing.T) {
	var buf bytes.Buffer
	h := New(testConfig(4), &buf)

	h.Table().Iterate(func(r *region.Region) {
		r.SetAffiliation(region.Young)
		r.SetState(region.Regular)
		r.Allocate(1 << 15)
		h.SetLiveBytes(r.Index(), 0) // entirely garbage
	})

	h.Start()
	defer h.Stop()

	h.RequestGC(CauseExplicitGC)

	if h.Stats().Successes(policy.Concurrent) == 0 {
		t.Fatalf("expected at least one recorded concurrent success, log:\n%s", buf.String())
	}

	recycled := 0
	h.Table().Iterate(func(r *region.Region) {
		if r.State() == region.Empty {
			recycled++
		}
	})
	if recycled == 0 {
		t.Fatal("expected at least one all-garbage region to be recycled")
	}
}

// TestAbbreviatedCycleSkipsEvacuation exercises the abbreviated-cycle
// boundary behavior: every region still fully live means the
// collection set is empty and the cycle completes without evacuating
// or updating references.
func TestAbbreviatedCycleSkipsEvacuation(t *testing.T) {
	var buf bytes.Buffer
	h := New(testConfig(2), &buf)

	h.Table().Iterate(func(r *region.Region) {
		r.SetAffiliation(region.Young)
		r.SetState(region.Regular)
		off, _ := r.Allocate(1 << 15)
		_ = off
		h.SetLiveBytes(r.Index(), uint64(r.SizeBytes()))
	})

	h.Start()
	defer h.Stop()

	h.RequestGC(CauseExplicitGC)

	h.Table().Iterate(func(r *region.Region) {
		if r.IsForwarded() {
			t.Fatalf("region %d should not have been evacuated in an abbreviated cycle", r.Index())
		}
	})
}

// TestAllocateHonorsRegionSize exercises the allocation contract: a
// SHARED request within one region's size succeeds and returns a
// valid region id.
func TestAllocateHonorsRegionSize(t *testing.T) {
	var buf bytes.Buffer
	h := New(testConfig(4), &buf)

	res := h.Allocate(AllocRequest{Size: 1024, Type: Shared, Affiliation: region.Young})
	if !res.Ok {
		t.Fatal("expected allocation to succeed")
	}
}

// TestAllocateHumongousSpansContiguousRegions exercises the humongous
// allocation path: humongous objects span contiguous regions, and a
// humongous-start region is never subdivided.
func TestAllocateHumongousSpansContiguousRegions(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig(4)
	h := New(cfg, &buf)

	res := h.Allocate(AllocRequest{Size: uintptr(cfg.RegionSize) * 3, Type: Humongous, Affiliation: region.Young})
	if !res.Ok {
		t.Fatal("expected humongous allocation to succeed")
	}
	start := h.Table().Get(res.RegionID)
	if start.State() != region.HumongousStart {
		t.Fatalf("expected start region state HUMONGOUS_START, got %v", start.State())
	}
	cont := h.Table().Get(res.RegionID + 1)
	if cont.State() != region.HumongousCont {
		t.Fatalf("expected second region state HUMONGOUS_CONT, got %v", cont.State())
	}
}

// TestRequestGCBlocksUntilCycleCompletes exercises the explicit-GC
// waiter contract: RequestGC must not return before the GC id has
// advanced past the id observed at request time.
func TestRequestGCBlocksUntilCycleCompletes(t *testing.T) {
	var buf bytes.Buffer
	h := New(testConfig(2), &buf)
	h.Table().Iterate(func(r *region.Region) {
		r.SetAffiliation(region.Young)
		r.SetState(region.Regular)
	})

	h.Start()
	defer h.Stop()

	before := h.ctrl.GCID()
	h.RequestGC(CauseExplicitGC)
	after := h.ctrl.GCID()

	if after <= before {
		t.Fatalf("expected GC id to advance past %d, got %d", before, after)
	}
}
