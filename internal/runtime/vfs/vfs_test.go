package vfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestOSFS_RoundTrip exercises the OSFS/File contract the way
// gcconfig.Load does: open the config path, read it back whole.
func TestOSFS_RoundTrip(t *testing.T) {
	fsys := NewOS()
	dir := t.TempDir()
	p := filepath.Join(dir, "gc.conf")
	f, err := fsys.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("schema = 1.0.0\n")); err != nil {
		t.Fatal(err)
	}
	if err := f.Sync(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	read, err := fsys.Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer read.Close()
	buf := make([]byte, len("schema = 1.0.0\n"))
	if _, err := read.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "schema = 1.0.0\n" {
		t.Fatalf("got %q", string(buf))
	}
}

// TestMemFS_DirectoryLayout exercises the directory operations
// gcconfig's diagnostics dump would use to locate a config directory:
// MkdirAll followed by ReadDir/Walk over the files it created.
func TestMemFS_DirectoryLayout(t *testing.T) {
	m := NewMem()
	if err := m.MkdirAll("/etc/lumengc", 0); err != nil {
		t.Fatal(err)
	}
	f, err := m.Create("/etc/lumengc/gc.conf")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("schema = 1.0.0\n")); err != nil {
		t.Fatal(err)
	}
	f.Sync()

	ds, err := m.ReadDir("/etc/lumengc")
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Name() != "gc.conf" {
		t.Fatalf("expected single gc.conf entry, got %v", ds)
	}

	var walked []string
	if err := m.Walk("/etc", func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		walked = append(walked, p)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(walked) == 0 {
		t.Fatal("expected Walk to visit the config directory tree")
	}
}

// TestSimpleWatcher_DetectsConfigRewrite exercises the polling watcher
// the way gcconfig.Store.Watch drives it against a real config file:
// a write to the watched path must surface as an OpWrite event.
func TestSimpleWatcher_DetectsConfigRewrite(t *testing.T) {
	fsys := NewOS()
	dir := t.TempDir()
	p := filepath.Join(dir, "gc.conf")
	f, err := fsys.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	w := NewSimpleWatcher(fsys)
	ctx, cancel := WithTimeout(nil, 2*time.Second)
	defer cancel()
	if err := w.StartPolling(ctx, p, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	go func() { _ = os.WriteFile(p, []byte("schema = 1.1.0\nShenandoahEvacReserve = 40\n"), 0o644) }()

	select {
	case ev := <-w.Events():
		if ev.Path != p {
			t.Fatalf("event path = %q, want %q", ev.Path, p)
		}
		if ev.Op&OpWrite == 0 {
			t.Fatalf("expected OpWrite, got %v", ev.Op)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the rewritten config to be detected")
	}
}

// TestFSNotifyWatcher_DetectsConfigRewrite mirrors the above against
// the native fsnotify-backed watcher, skipping where the platform
// doesn't support inotify/kqueue/ReadDirectoryChangesW.
func TestFSNotifyWatcher_DetectsConfigRewrite(t *testing.T) {
	fw, err := NewFSWatcher()
	if err != nil {
		t.Skip("fsnotify not supported:", err)
	}
	defer fw.Close()

	dir := t.TempDir()
	if err := fw.Add(dir); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, "gc.conf")
	go func() { _ = os.WriteFile(p, []byte("schema = 1.0.0\n"), 0o644) }()

	select {
	case ev := <-fw.Events():
		if ev.Path == "" {
			t.Fatal("empty event path")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for fsnotify event on config file")
	}
}
