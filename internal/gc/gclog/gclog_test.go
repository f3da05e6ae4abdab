package gclog

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type stringerCause string

func (s stringerCause) String() string { return string(s) }

func TestAfterGCFormatsExpectedLine(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.AfterGC(3, "Concurrent", 42*time.Millisecond)

	out := buf.String()
	if !strings.Contains(out, "[info][gc] 3 Concurrent in-progress->idle 42ms") {
		t.Fatalf("unexpected log line: %q", out)
	}
}

func TestBeforeGCIncludesCause(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.BeforeGC(1, stringerCause("Allocation Failure"))

	if !strings.Contains(buf.String(), "cause=Allocation Failure") {
		t.Fatalf("expected cause in output, got %q", buf.String())
	}
}

func TestPhaseSuppressedUnlessVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Phase(1, "mark")
	if buf.Len() != 0 {
		t.Fatal("expected no output when verbose is off")
	}
	l.SetVerbose(true)
	l.Phase(1, "mark")
	if buf.Len() == 0 {
		t.Fatal("expected output once verbose is enabled")
	}
}
