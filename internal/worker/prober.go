package worker

import (
	"errors"
	"os"
	"syscall"
)

// Prober answers whether a pid belongs to a live process. It is an interface
// so platforms without unix signal semantics (and tests) can substitute a
// handle/wait-based check.
type Prober interface {
	Alive(pid int) bool
}

// SignalProber probes liveness by sending signal 0.
type SignalProber struct{}

// Alive reports whether pid exists. EPERM means the process exists but
// belongs to another user, which still counts as alive.
func (SignalProber) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
