// Package diag exposes the collector's logging-surface data as a
// scrape-able metrics snapshot, and optionally serves it over HTTP/3
// through a netstack.HTTP3Server.
package diag

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/lumenvm/lumengc/internal/gc/freeset"
	"github.com/lumenvm/lumengc/internal/gc/generation"
	"github.com/lumenvm/lumengc/internal/gc/policy"
	"github.com/lumenvm/lumengc/internal/gc/region"
	"github.com/lumenvm/lumengc/internal/runtime/netstack"
)

// MetricFunc returns a named snapshot of float64 metrics, mirroring the
// teacher's runtime.MetricFunc shape so the same sanitize/sort
// exposition logic applies unchanged.
type MetricFunc func() map[string]float64

// HeapSource is the minimal view diag needs of a running heap. It is an
// interface (not the concrete heap.Heap) so diag does not import
// internal/gc/heap, avoiding an import cycle with heap's own use of
// diag-adjacent wiring in cmd/lumengc-sim.
type HeapSource interface {
	Table() *region.Table
	Young() *generation.Generation
	Old() *generation.OldGeneration
	FreeSet() *freeset.Set
	Stats() *policy.Stats
}

// Collectors builds the named MetricFunc set an exporter expects: one
// collector per component, each returning a flat name->value map.
func Collectors(h HeapSource) map[string]MetricFunc {
	return map[string]MetricFunc{
		"young":   generationMetrics(h.Young),
		"old":     oldGenerationMetrics(h.Old),
		"regions": regionMetrics(h.Table),
		"policy":  policyMetrics(h.Stats),
	}
}

func generationMetrics(g func() *generation.Generation) MetricFunc {
	return func() map[string]float64 {
		gen := g()
		return map[string]float64{
			"used_bytes":      float64(gen.Used()),
			"available_bytes": float64(gen.Available()),
			"free_regions":    float64(gen.FreeUnaffiliatedRegions()),
		}
	}
}

func oldGenerationMetrics(o func() *generation.OldGeneration) MetricFunc {
	return func() map[string]float64 {
		old := o()
		return map[string]float64{
			"used_bytes":      float64(old.Used()),
			"available_bytes": float64(old.Available()),
			"state":           float64(old.State()),
		}
	}
}

func regionMetrics(t func() *region.Table) MetricFunc {
	return func() map[string]float64 {
		tbl := t()
		counts := map[region.State]float64{}
		var humongousRegions float64
		tbl.Iterate(func(r *region.Region) {
			counts[r.State()]++
			if r.IsHumongous() {
				humongousRegions++
			}
		})
		return map[string]float64{
			"total":             float64(tbl.Count()),
			"empty":             counts[region.Empty],
			"regular":           counts[region.Regular],
			"cset":              counts[region.Cset],
			"trash":             counts[region.Trash],
			"pinned":            counts[region.Pinned],
			"humongous_regions": humongousRegions,
		}
	}
}

func policyMetrics(s func() *policy.Stats) MetricFunc {
	return func() map[string]float64 {
		st := s()
		return map[string]float64{
			"concurrent_successes":  float64(st.Successes(policy.Concurrent)),
			"concurrent_failures":   float64(st.Failures(policy.Concurrent)),
			"degenerated_successes": float64(st.Successes(policy.Degenerated)),
			"degenerated_failures":  float64(st.Failures(policy.Degenerated)),
			"full_successes":        float64(st.Successes(policy.Full)),
			"full_failures":         float64(st.Failures(policy.Full)),
		}
	}
}

// Render formats collectors with sorted collector names and sorted
// metric keys within each, sanitized into "collector_metric value"
// lines.
func Render(collectors map[string]MetricFunc) string {
	names := make([]string, 0, len(collectors))
	for name := range collectors {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []byte
	for _, name := range names {
		fn := collectors[name]
		if fn == nil {
			continue
		}
		snapshot := fn()
		keys := make([]string, 0, len(snapshot))
		for k := range snapshot {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			line := fmt.Sprintf("%s %g\n", sanitizeMetricToken(name+"_"+k), snapshot[k])
			out = append(out, line...)
		}
	}
	return string(out)
}

func sanitizeMetricToken(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == ':' {
			b[i] = c
		} else {
			b[i] = '_'
		}
	}
	if len(b) > 0 && b[0] >= '0' && b[0] <= '9' {
		return "_" + string(b)
	}
	return string(b)
}

// Listener serves a HeapSource's metrics at GET /gc/status over
// HTTP/3, reusing netstack's self-signed TLS helper so a standalone
// simulation doesn't need an operator-provided certificate.
type Listener struct {
	srv *netstack.HTTP3Server
}

// Start binds addr (":0" for an ephemeral UDP port) and begins serving.
// It returns the bound address so callers using ":0" can discover the
// real port.
func Start(addr string, h HeapSource) (*Listener, string, error) {
	tlsCfg, err := netstack.GenerateSelfSignedTLS([]string{"localhost", "127.0.0.1"}, 24*time.Hour)
	if err != nil {
		return nil, "", err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/gc/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, Render(Collectors(h)))
	})

	srv := netstack.NewHTTP3Server(addr, tlsCfg, mux)
	bound, err := srv.Start()
	if err != nil {
		return nil, "", err
	}
	return &Listener{srv: srv}, bound, nil
}

// Stop shuts the listener down.
func (l *Listener) Stop() error { return l.srv.Stop() }

// Error returns the server's non-blocking error channel.
func (l *Listener) Error() <-chan error { return l.srv.Error() }
