package worker

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/docqueue/docq/internal/atomicfile"
	"github.com/docqueue/docq/internal/log"
)

const (
	// startupGrace is how long Start waits before re-probing a freshly
	// spawned worker to catch immediate exits.
	startupGrace = 500 * time.Millisecond

	// stopPollInterval is the liveness poll cadence during Stop.
	stopPollInterval = 100 * time.Millisecond

	// forceStopGrace is the shortened window a forced stop still grants the
	// worker to exit on SIGTERM before SIGKILL.
	forceStopGrace = 500 * time.Millisecond

	// restartSettle gives the OS a moment to reclaim the prior process's
	// resources between the stop and start phases of Restart.
	restartSettle = 500 * time.Millisecond

	// DefaultStopTimeout bounds the graceful-termination wait.
	DefaultStopTimeout = 10 * time.Second
)

// Supervisor manages the lifecycle of one worker daemon via a PID marker
// file.
type Supervisor struct {
	markerPath  string
	signature   string
	spawn       SpawnFunc
	prober      Prober
	stopTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithProber substitutes the liveness prober.
func WithProber(p Prober) Option {
	return func(s *Supervisor) {
		if p != nil {
			s.prober = p
		}
	}
}

// WithStopTimeout overrides the graceful stop window.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithSignature sets the command-line substring used for deep identity
// verification in Status.
func WithSignature(sig string) Option {
	return func(s *Supervisor) { s.signature = sig }
}

// New creates a Supervisor over markerPath that spawns workers via spawn.
func New(markerPath string, spawn SpawnFunc, opts ...Option) (*Supervisor, error) {
	if strings.TrimSpace(markerPath) == "" {
		return nil, fmt.Errorf("marker path is empty")
	}
	s := &Supervisor{
		markerPath:  markerPath,
		spawn:       spawn,
		prober:      SignalProber{},
		stopTimeout: DefaultStopTimeout,
		logger:      log.WithComponent("supervisor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MarkerPath returns the marker file location.
func (s *Supervisor) MarkerPath() string { return s.markerPath }

// Start spawns the worker daemon unless a valid one is already running, in
// which case it is a no-op returning the existing pid.
func (s *Supervisor) Start() (int, error) {
	if h := s.Status(); h != nil {
		s.logger.Info("worker already running", "pid", h.PID)
		return h.PID, nil
	}

	if s.spawn == nil {
		return 0, fmt.Errorf("no spawn function configured")
	}

	pid, err := s.spawn()
	if err != nil {
		return 0, fmt.Errorf("spawn worker: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("spawn returned invalid pid %d", pid)
	}

	if err := s.writeMarker(pid); err != nil {
		return 0, fmt.Errorf("persist marker: %w", err)
	}

	// Catch workers that die immediately (bad config, port in use).
	time.Sleep(startupGrace)
	if !s.prober.Alive(pid) {
		s.retireMarker()
		return 0, fmt.Errorf("pid %d: %w", pid, ErrStartup)
	}

	s.logger.Info("worker started", "pid", pid, "marker", s.markerPath)
	return pid, nil
}

// Stop terminates the worker. SIGTERM always goes first so the daemon can
// retire its marker and finish the item in flight; force only shortens the
// grace window before the SIGKILL escalation. A worker that is already gone
// is success.
func (s *Supervisor) Stop(force bool) error {
	pid, _, err := s.readMarker()
	if err != nil {
		s.logger.Debug("no usable marker, treating worker as stopped", "error", err)
		s.retireMarker()
		return nil
	}
	if !s.prober.Alive(pid) {
		s.retireMarker()
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		s.retireMarker()
		return nil
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone between probe and signal.
		s.retireMarker()
		return nil
	}

	grace := s.stopTimeout
	if force {
		grace = forceStopGrace
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !s.prober.Alive(pid) {
			s.retireMarker()
			s.logger.Info("worker stopped", "pid", pid)
			return nil
		}
		time.Sleep(stopPollInterval)
	}

	// Window elapsed: escalate.
	s.logger.Warn("worker did not exit after SIGTERM, sending SIGKILL", "pid", pid)
	_ = proc.Kill()

	killDeadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(killDeadline) {
		if !s.prober.Alive(pid) {
			s.retireMarker()
			return nil
		}
		time.Sleep(stopPollInterval)
	}
	return fmt.Errorf("pid %d: %w", pid, ErrStopTimeout)
}

// Restart stops the worker if running, pauses briefly, and starts it again.
func (s *Supervisor) Restart() (int, error) {
	if err := s.Stop(false); err != nil {
		return 0, fmt.Errorf("stop phase: %w", err)
	}
	time.Sleep(restartSettle)
	return s.Start()
}

// Status performs the full validity check: marker present, contents parse as
// a positive pid, liveness probe succeeds, and the process identity matches
// the worker signature. Any violation retires the marker as a side effect,
// so every status query is also a cleanup opportunity.
func (s *Supervisor) Status() *Handle {
	pid, startedAt, err := s.readMarker()
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("retiring unusable marker", "path", s.markerPath, "error", err)
			s.retireMarker()
		}
		return nil
	}

	if !s.prober.Alive(pid) {
		s.logger.Info("retiring stale marker", "path", s.markerPath, "pid", pid)
		s.retireMarker()
		return nil
	}

	if !matchesIdentity(pid, s.signature) {
		s.logger.Warn("pid is alive but is not our worker, retiring marker",
			"path", s.markerPath, "pid", pid, "signature", s.signature)
		s.retireMarker()
		return nil
	}

	return &Handle{PID: pid, StartedAt: startedAt, MarkerPath: s.markerPath}
}

// State maps the full validity check onto the lifecycle state machine.
func (s *Supervisor) State() State {
	if s.Status() != nil {
		return StateRunning
	}
	return StateNotRunning
}

// IsRunningLightweight is the dependency-minimal liveness check used by the
// latency-sensitive dispatch path: marker read, pid parse, signal probe. It
// never mutates the marker file; a failed verification here must not race
// with a legitimate concurrent Start.
func IsRunningLightweight(markerPath string, prober Prober) bool {
	if prober == nil {
		prober = SignalProber{}
	}
	pid, err := parseMarker(markerPath)
	if err != nil {
		return false
	}
	return prober.Alive(pid)
}

// InspectMarker reads the marker without mutating it and reports the
// recorded pid, the marker's mtime as the approximate start time, and
// whether the process is alive. Display-only callers use this.
func InspectMarker(markerPath string, prober Prober) (pid int, startedAt time.Time, alive bool) {
	if prober == nil {
		prober = SignalProber{}
	}
	pid, err := parseMarker(markerPath)
	if err != nil {
		return 0, time.Time{}, false
	}
	if info, err := os.Stat(markerPath); err == nil {
		startedAt = info.ModTime()
	}
	return pid, startedAt, prober.Alive(pid)
}

func (s *Supervisor) readMarker() (int, time.Time, error) {
	pid, err := parseMarker(s.markerPath)
	if err != nil {
		return 0, time.Time{}, err
	}
	var startedAt time.Time
	if info, err := os.Stat(s.markerPath); err == nil {
		startedAt = info.ModTime()
	}
	return pid, startedAt, nil
}

func parseMarker(markerPath string) (int, error) {
	data, err := os.ReadFile(markerPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("marker %s does not contain a pid: %w", markerPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("marker %s contains non-positive pid %d", markerPath, pid)
	}
	return pid, nil
}

func (s *Supervisor) writeMarker(pid int) error {
	return atomicfile.WriteFile(s.markerPath, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// retireMarker removes the marker via rename-then-delete so a marker a
// concurrent Start just wrote is never the one deleted.
func (s *Supervisor) retireMarker() {
	retired := fmt.Sprintf("%s.stale-%d", s.markerPath, time.Now().UnixNano())
	if err := atomicfile.Retire(s.markerPath, retired); err != nil {
		s.logger.Warn("failed to retire marker", "path", s.markerPath, "error", err)
	}
}
