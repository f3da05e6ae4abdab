// Package gclog formats the collector's log lines. No structured
// logging library appears anywhere in the dependency stack this module
// is grounded on, so this package wraps the standard library's log
// package the same way the rest of that stack reports progress: plain
// prefixed lines to an io.Writer.
package gclog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"
)

// Logger renders lines in the "[info][gc] <id> <kind> <from>-><to>
// <duration>ms" format and periodic heap-status blocks.
type Logger struct {
	l       *log.Logger
	verbose int32 // atomic bool: include Phase lines (heap-status blocks always print)
}

// New creates a Logger writing to w with no extra timestamp prefix
// (each line already carries its own id/kind/duration fields).
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{l: log.New(w, "", 0)}
}

func (g *Logger) SetVerbose(v bool) {
	if v {
		atomic.StoreInt32(&g.verbose, 1)
	} else {
		atomic.StoreInt32(&g.verbose, 0)
	}
}

// BeforeGC prints the "before GC" summary line.
func (g *Logger) BeforeGC(id uint64, cause fmt.Stringer) {
	g.l.Printf("[info][gc] %d %s starting, cause=%s", id, "GC", cause)
}

// AfterGC prints the "<id> <kind> <from>-><to> <duration>ms" line
// from/to are fixed to "in-progress" and "idle" since this simulator
// does not track a richer phase-name transition history; callers
// wanting per-phase lines use Phase.
func (g *Logger) AfterGC(id uint64, kind string, duration time.Duration) {
	g.l.Printf("[info][gc] %d %s in-progress->idle %dms", id, kind, duration.Milliseconds())
}

// Phase logs one phase-boundary line, used by engine.Context.OnPhase
// hooks when verbose logging is enabled.
func (g *Logger) Phase(id uint64, name string) {
	if atomic.LoadInt32(&g.verbose) == 0 {
		return
	}
	g.l.Printf("[info][gc] %d phase %s", id, name)
}

// HeapStatus prints a periodic heap-occupancy block, matching the
// collector's "after GC" free-set and capacity log.
func (g *Logger) HeapStatus(id uint64, status string) {
	g.l.Printf("[info][gc] %d heap %s", id, status)
}
