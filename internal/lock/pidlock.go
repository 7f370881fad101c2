package lock

import (
	"fmt"
	"os"
)

// PIDLock is a single-instance lock implemented via a PID file + flock(2).
// Keep the lock alive by keeping the file descriptor open.
type PIDLock struct {
	*FileLock
}

// AcquirePIDLock acquires an exclusive non-blocking lock at lockPath and
// writes the current PID into the file. It fails immediately if another
// process holds the lock.
func AcquirePIDLock(lockPath string) (*PIDLock, error) {
	fl, err := Acquire(lockPath, 0)
	if err != nil {
		return nil, err
	}

	if err := fl.f.Truncate(0); err != nil {
		_ = fl.Release()
		return nil, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := fl.f.Seek(0, 0); err != nil {
		_ = fl.Release()
		return nil, fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(fl.f, "%d\n", os.Getpid()); err != nil {
		_ = fl.Release()
		return nil, fmt.Errorf("write pid: %w", err)
	}
	if err := fl.f.Sync(); err != nil {
		_ = fl.Release()
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return &PIDLock{FileLock: fl}, nil
}
