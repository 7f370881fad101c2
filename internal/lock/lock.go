// Package lock implements cooperative advisory file locking via flock(2).
//
// Two flavors are provided: FileLock, a bounded-wait exclusive lock used to
// serialize queue mutations across processes, and PIDLock, a non-blocking
// single-instance lock held by the worker daemon for its whole lifetime.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrTimeout reports that the lock could not be acquired within the deadline.
// Callers must treat it as "skip this round", never as "resource is empty".
var ErrTimeout = errors.New("lock acquisition timed out")

// retryInterval is the poll interval between non-blocking flock attempts.
const retryInterval = 50 * time.Millisecond

// FileLock is an exclusive advisory lock on a file. The lock is held as long
// as the file descriptor stays open.
type FileLock struct {
	path string
	f    *os.File
}

// Acquire obtains an exclusive flock on lockPath, retrying non-blocking
// attempts until timeout elapses. A timeout <= 0 means a single attempt.
func Acquire(lockPath string, timeout time.Duration) (*FileLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &FileLock{path: lockPath, f: f}, nil
		}
		if err != syscall.EWOULDBLOCK && err != syscall.EAGAIN {
			_ = f.Close()
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, fmt.Errorf("acquire lock %s: %w", lockPath, ErrTimeout)
		}
		time.Sleep(retryInterval)
	}
}

// Path returns the lock file location.
func (l *FileLock) Path() string { return l.path }

// Release unlocks and closes the lock file. Safe to call on a nil lock.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}

// IsTimeout reports whether err is (or wraps) a lock acquisition timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
