package control

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumenvm/lumengc/internal/gc/cset"
	"github.com/lumenvm/lumengc/internal/gc/engine"
	"github.com/lumenvm/lumengc/internal/gc/freeset"
	"github.com/lumenvm/lumengc/internal/gc/gclog"
	"github.com/lumenvm/lumengc/internal/gc/generation"
	"github.com/lumenvm/lumengc/internal/gc/heuristics"
	"github.com/lumenvm/lumengc/internal/gc/policy"
	"github.com/lumenvm/lumengc/internal/gc/refproc"
	"github.com/lumenvm/lumengc/internal/gc/region"
	"github.com/lumenvm/lumengc/internal/gc/rset"
	"github.com/lumenvm/lumengc/internal/gc/satb"
	"github.com/lumenvm/lumengc/internal/gc/taskqueue"
)

func newThread(t *testing.T, buf *bytes.Buffer, trigger int) *Thread {
	t.Helper()
	const nRegions = 4
	tbl := region.NewTable(nRegions*region.DefaultRegionSize, region.DefaultRegionSize)
	tbl.Iterate(func(r *region.Region) {
		r.SetAffiliation(region.Young)
		r.SetState(region.Regular)
	})
	young := generation.New(generation.Young, region.DefaultRegionSize, nRegions*uint64(region.DefaultRegionSize))
	young.SetUsed(uint64(trigger)*uint64(region.DefaultRegionSize)/100*nRegions, 0)
	old := generation.NewOld(region.DefaultRegionSize, nRegions*uint64(region.DefaultRegionSize))
	free := freeset.NewSet(tbl)
	free.Rebuild(nil, nil)

	engCtx := &engine.Context{
		Table:     tbl,
		Young:     young,
		Old:       old,
		Global:    generation.New(generation.Global, region.DefaultRegionSize, nRegions*uint64(region.DefaultRegionSize)),
		Free:      free,
		RSet:      rset.NewScanner(0, nRegions*region.DefaultRegionSize),
		SATB:      satb.NewQueueSet(),
		Refs:      refproc.NewProcessor(refproc.ClearAllSoft),
		Tasks:     taskqueue.NewSet(2),
		Cancelled: &atomic.Bool{},
		Budgets: cset.Budgets{
			EvacReservePercent:  50,
			OldEvacRatioPercent: 50,
			EvacWaste:           1.2,
			PromoEvacWaste:      1.2,
			YoungMaxCapacity:    nRegions * uint64(region.DefaultRegionSize),
			YoungAvailable:      nRegions * uint64(region.DefaultRegionSize),
			OldAvailable:        nRegions * uint64(region.DefaultRegionSize),
			RegionSize:          uint64(region.DefaultRegionSize),
		},
	}

	h := heuristics.New(heuristics.Thresholds{TriggerPercent: 80})
	s := policy.NewStats(3)
	log := gclog.New(buf)

	return New(engCtx, young, h, s, log, func(id region.ID) uint64 { return 0 }, Config{
		MinInterval:  5 * time.Millisecond,
		MaxInterval:  20 * time.Millisecond,
		AdjustPeriod: 10 * time.Millisecond,
	})
}

func TestRequestGCUnblocksAfterCycle(t *testing.T) {
	var buf bytes.Buffer
	th := newThread(t, &buf, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go th.Run(ctx)

	done := make(chan struct{})
	go func() {
		th.RequestGC(false, heuristics.CauseExplicitGC)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RequestGC did not unblock in time")
	}
	if th.GCID() == 0 {
		t.Fatal("expected gcID to have advanced")
	}
}

func TestAllocationFailureOutranksExplicitAndHeuristicTriggers(t *testing.T) {
	var buf bytes.Buffer
	// trigger=95 keeps the heuristic threshold (80%) satisfied too, so
	// all three triggers are simultaneously viable; only priority order
	// should decide which one the loop services first.
	th := newThread(t, &buf, 95)

	// Arm the explicit and allocation-failure triggers before the loop
	// ever runs, so the first iteration of Run observes all three
	// pending at once.
	th.NotifyExplicitGC(false, heuristics.CauseExplicitGC)
	th.NotifyAllocationFailure()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go th.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if th.GCID() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if th.GCID() == 0 {
		t.Fatal("expected at least one cycle to run")
	}

	first := buf.String()
	if !contains(first, "Degenerated") {
		t.Fatalf("expected the first serviced cycle to be the allocation-failure degenerated path, got log:\n%s", first)
	}
	if contains(firstNLines(first, 2), "Concurrent") {
		t.Fatalf("explicit/heuristic trigger ran ahead of the pending allocation failure:\n%s", first)
	}
}

func contains(s, substr string) bool {
	return bytes.Contains([]byte(s), []byte(substr))
}

func firstNLines(s string, n int) string {
	lines := bytes.SplitN([]byte(s), []byte("\n"), n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return string(bytes.Join(lines, []byte("\n")))
}

func TestHeuristicTriggerRunsConcurrentCycle(t *testing.T) {
	var buf bytes.Buffer
	th := newThread(t, &buf, 95)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go th.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if th.GCID() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected heuristic trigger to run at least one cycle")
}
