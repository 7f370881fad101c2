package lock

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "queue.json.lock")
	l, err := Acquire(lockPath, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if l.Path() != lockPath {
		t.Fatalf("Path() = %q, want %q", l.Path(), lockPath)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// Double release is safe.
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "queue.json.lock")
	held, err := Acquire(lockPath, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = held.Release() })

	start := time.Now()
	_, err = Acquire(lockPath, 200*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("returned before deadline: %v", elapsed)
	}
}

func TestAcquireSucceedsAfterRelease(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "queue.json.lock")
	held, err := Acquire(lockPath, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = held.Release()
	}()

	l, err := Acquire(lockPath, 2*time.Second)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = l.Release()
}

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "docq.lock")
	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		t.Fatalf("expected PID in lock file, got empty")
	}
}
