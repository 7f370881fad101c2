// Package worker supervises the long-running documentation worker daemon
// using only a PID marker file and signal-based liveness probing. No
// privileged process-table access is required: the marker records the pid,
// a zero signal probes it, and /proc (where available) confirms identity.
//
// Every operation here is advisory best-effort. Nothing in this package may
// abort a calling foreground event; failures come back as typed results.
package worker

import (
	"errors"
	"time"
)

// State describes the supervised process lifecycle. not_running is the
// terminal state, reachable from any other on crash or forced stop.
type State string

const (
	StateNotRunning State = "not_running"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
)

// Handle represents a supervised worker process believed to be alive.
type Handle struct {
	// PID is the operating-system process identifier from the marker.
	PID int
	// StartedAt is best-effort, derived from marker-file metadata.
	StartedAt time.Time
	// MarkerPath is where the marker lives.
	MarkerPath string
}

var (
	// ErrStartup reports that the worker exited during its startup grace
	// window.
	ErrStartup = errors.New("worker exited during startup")

	// ErrStopTimeout reports that the worker outlived the graceful stop
	// window and was not forced.
	ErrStopTimeout = errors.New("worker did not stop within the wait window")
)

// SpawnFunc starts the worker as a detached background process and returns
// the actual spawned pid (never a shell intermediary's).
type SpawnFunc func() (int, error)
