package diag

import (
	"strings"
	"testing"

	"github.com/lumenvm/lumengc/internal/gc/freeset"
	"github.com/lumenvm/lumengc/internal/gc/generation"
	"github.com/lumenvm/lumengc/internal/gc/policy"
	"github.com/lumenvm/lumengc/internal/gc/region"
)

type fakeHeap struct {
	table *region.Table
	young *generation.Generation
	old   *generation.OldGeneration
	free  *freeset.Set
	stats *policy.Stats
}

func (f *fakeHeap) Table() *region.Table             { return f.table }
func (f *fakeHeap) Young() *generation.Generation     { return f.young }
func (f *fakeHeap) Old() *generation.OldGeneration    { return f.old }
func (f *fakeHeap) FreeSet() *freeset.Set             { return f.free }
func (f *fakeHeap) Stats() *policy.Stats              { return f.stats }

func newFakeHeap() *fakeHeap {
	table := region.NewTable(16*region.Size(1<<20), 1<<20)
	return &fakeHeap{
		table: table,
		young: generation.New(generation.Young, 1<<20, 16*(1<<20)),
		old:   generation.NewOld(1<<20, 16*(1<<20)),
		free:  freeset.NewSet(table),
		stats: policy.NewStats(3),
	}
}

func TestRenderIsSortedAndSanitized(t *testing.T) {
	h := newFakeHeap()
	h.young.SetUsed(1024, 0)
	h.stats.RecordSuccess(policy.Concurrent, false)

	out := Render(Collectors(h))

	if !strings.Contains(out, "young_used_bytes 1024\n") {
		t.Fatalf("missing young_used_bytes line:\n%s", out)
	}
	if !strings.Contains(out, "policy_concurrent_successes 1\n") {
		t.Fatalf("missing policy_concurrent_successes line:\n%s", out)
	}
	if !strings.Contains(out, "regions_total 16\n") {
		t.Fatalf("missing regions_total line:\n%s", out)
	}

	// Collector names appear in sorted order.
	oldIdx := strings.Index(out, "old_")
	policyIdx := strings.Index(out, "policy_")
	regionsIdx := strings.Index(out, "regions_")
	youngIdx := strings.Index(out, "young_")
	if !(oldIdx < policyIdx && policyIdx < regionsIdx && regionsIdx < youngIdx) {
		t.Fatalf("collectors not rendered in sorted order: old=%d policy=%d regions=%d young=%d", oldIdx, policyIdx, regionsIdx, youngIdx)
	}
}

func TestSanitizeMetricToken(t *testing.T) {
	if got := sanitizeMetricToken("young used-bytes"); got != "young_used_bytes" {
		t.Fatalf("got %q", got)
	}
	if got := sanitizeMetricToken("9lives"); got != "_9lives" {
		t.Fatalf("got %q", got)
	}
}
