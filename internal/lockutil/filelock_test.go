package lockutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestFileLockMutualExclusion exercises Fd-1 / I-1: two FileLock handles
// on the same path must never both report the lock acquired.
func TestFileLockMutualExclusion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gvm-process-report-1")

	a := NewFileLock(path)
	b := NewFileLock(path)

	ok, err := a.Acquire(context.Background(), true)
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed: ok=%v err=%v", ok, err)
	}
	defer a.Release()

	ok, err = b.Acquire(context.Background(), true)
	if err != nil {
		t.Fatalf("nonblocking acquire of a held lock must not error: %v", err)
	}
	if ok {
		t.Fatal("second nonblocking acquire must report already-held, not succeed")
	}
}

func TestFileLockReleaseTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gvm-lock-feed")

	l := NewFileLock(path)
	ok, err := l.Acquire(context.Background(), true)
	if err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}

	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		t.Fatalf("expected a timestamp written into the lock file: data=%q err=%v", data, err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("lock file should still exist after release: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("release must truncate the lock file, got %q", data)
	}
}

func TestFileLockAcquireTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gvm-lock-feed-2")

	a := NewFileLock(path)
	ok, err := a.Acquire(context.Background(), true)
	if err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}
	defer a.Release()

	b := NewFileLock(path)
	start := time.Now()
	ok, err = b.AcquireTimeout(100 * time.Millisecond)
	elapsed := time.Since(start)
	if err == nil && ok {
		t.Fatal("expected second blocking acquire to time out")
	}
	if elapsed > time.Second {
		t.Fatalf("AcquireTimeout took too long: %v", elapsed)
	}
}
