package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrepareAndCleanup(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dir, err := m.Prepare("run-1")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stale"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	again, err := m.Prepare("run-1")
	if err != nil {
		t.Fatalf("prepare again: %v", err)
	}
	if _, err := os.Stat(filepath.Join(again, "stale")); !os.IsNotExist(err) {
		t.Fatalf("expected prepare to reset the directory")
	}
	if err := m.Cleanup(again); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(again); !os.IsNotExist(err) {
		t.Fatalf("expected directory to be removed")
	}
}

func TestCleanupRefusesOutsideRoot(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := m.Cleanup(t.TempDir()); err == nil {
		t.Fatalf("expected error for path outside root")
	}
	if err := m.Cleanup(m.Root()); err == nil {
		t.Fatalf("expected error for the root itself")
	}
	if _, err := m.Prepare("../escape"); err == nil {
		t.Fatalf("expected error for traversal identifier")
	}
}

func TestScratchRelease(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dir, release, err := m.Scratch("clone")
	if err != nil {
		t.Fatalf("scratch: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(dir), "clone-") {
		t.Fatalf("unexpected scratch name %q", dir)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected scratch dir removed")
	}
}
