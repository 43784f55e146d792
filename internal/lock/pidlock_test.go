package lock

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run", "interhook.pid")
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	pid, ok := Holder(path)
	if !ok || pid != os.Getpid() {
		t.Fatalf("Holder() = %d, %v; want %d", pid, ok, os.Getpid())
	}
	if l.Path() != path {
		t.Errorf("Path() = %q, want %q", l.Path(), path)
	}
}

func TestAcquireRejectsSecondHolder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "interhook.pid")
	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	if _, err := Acquire(path); err == nil {
		t.Fatal("second Acquire should fail while the first holds the lock")
	} else if !strings.Contains(err.Error(), "already running") {
		t.Errorf("error = %v, want it to name the running pid", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	again, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = again.Release()
}

func TestAcquireEmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := Acquire(""); err == nil {
		t.Fatal("Acquire(\"\") should fail")
	}
}

func TestHolderUnreadable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if _, ok := Holder(filepath.Join(dir, "absent")); ok {
		t.Error("Holder on a missing file should report false")
	}

	junk := filepath.Join(dir, "junk")
	if err := os.WriteFile(junk, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := Holder(junk); ok {
		t.Error("Holder on junk should report false")
	}
}
