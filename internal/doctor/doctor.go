// Package doctor runs environment diagnostics beyond what settings
// validation can see: tool availability, writable paths, and worker state
// consistency.
package doctor

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/docqueue/docq/internal/config"
	"github.com/docqueue/docq/internal/worker"
)

// Result holds the outcome of a diagnostic run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single diagnostic error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor inspects a loaded configuration against the live environment.
type Doctor struct {
	cfg        *config.Config
	configPath string
	prober     worker.Prober
}

// New creates a Doctor. configPath is where cfg was loaded from; it is used
// for the integrity check.
func New(cfg *config.Config, configPath string) *Doctor {
	return &Doctor{cfg: cfg, configPath: configPath, prober: worker.SignalProber{}}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkGenerator(r)
	d.checkPaths(r)
	d.checkListen(r)
	d.checkIntegrity(r)
	d.checkWorkerState(r)
	d.warnDispatchSettings(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// checkGenerator verifies the external tool is actually invocable.
func (d *Doctor) checkGenerator(r *Result) {
	if _, err := exec.LookPath(d.cfg.Generator.Command); err != nil {
		d.addError(r, "generator", "generator.command",
			fmt.Sprintf("command %q not found on PATH", d.cfg.Generator.Command))
	}
	info, err := os.Stat(d.cfg.Generator.RepoRoot)
	if err != nil {
		d.addError(r, "generator", "generator.repo_root",
			fmt.Sprintf("repo root %q does not exist", d.cfg.Generator.RepoRoot))
	} else if !info.IsDir() {
		d.addError(r, "generator", "generator.repo_root",
			fmt.Sprintf("repo root %q is not a directory", d.cfg.Generator.RepoRoot))
	}
}

// checkPaths verifies the directories holding the queue, marker, and ledger
// exist or can be created.
func (d *Doctor) checkPaths(r *Result) {
	for field, path := range map[string]string{
		"queue.path":         d.cfg.Queue.Path,
		"worker.marker_path": d.cfg.Worker.MarkerPath,
		"history.path":       d.cfg.History.Path,
	} {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			d.addError(r, "paths", field, fmt.Sprintf("cannot create directory %q: %v", dir, err))
			continue
		}
		probe := filepath.Join(dir, ".docq-doctor-probe")
		if err := os.WriteFile(probe, nil, 0o644); err != nil {
			d.addError(r, "paths", field, fmt.Sprintf("directory %q is not writable: %v", dir, err))
			continue
		}
		_ = os.Remove(probe)
	}
}

func (d *Doctor) checkListen(r *Result) {
	host, _, err := net.SplitHostPort(d.cfg.Worker.Listen)
	if err != nil {
		d.addError(r, "worker", "worker.listen",
			fmt.Sprintf("listen address %q is not host:port: %v", d.cfg.Worker.Listen, err))
		return
	}
	if ip := net.ParseIP(host); ip != nil && !ip.IsLoopback() {
		d.addWarning(r, "worker", "worker.listen",
			"submission API is not bound to loopback; it has no authentication")
	}
}

func (d *Doctor) checkIntegrity(r *Result) {
	if d.configPath == "" {
		return
	}
	if err := config.Check(d.configPath); err != nil {
		d.addError(r, "integrity", "", err.Error())
	}
}

// checkWorkerState flags a marker that points at a dead process. Dispatch
// self-heals this, but it usually means the worker crashed.
func (d *Doctor) checkWorkerState(r *Result) {
	pid, _, alive := worker.InspectMarker(d.cfg.Worker.MarkerPath, d.prober)
	if pid > 0 && !alive {
		d.addWarning(r, "worker", "worker.marker_path",
			fmt.Sprintf("marker names pid %d but no such process is running (stale marker)", pid))
	}
}

func (d *Doctor) warnDispatchSettings(r *Result) {
	if d.cfg.Dispatch.Mode == config.ModeAuto && !d.cfg.Dispatch.FallbackToSync {
		d.addWarning(r, "dispatch", "dispatch.fallback_to_sync",
			"fallback disabled: items wait for worker housekeeping when the daemon is down")
	}
	retryBudget := time.Duration(d.cfg.Dispatch.MaxRetries) * d.cfg.Dispatch.RetryDelay
	if retryBudget > 10*d.cfg.Generator.Timeout {
		d.addWarning(r, "dispatch", "dispatch.retry_delay",
			fmt.Sprintf("retry budget %s dwarfs the generator timeout %s", retryBudget, d.cfg.Generator.Timeout))
	}
	if d.cfg.Worker.PollInterval < 100*time.Millisecond {
		d.addWarning(r, "worker", "worker.poll_interval",
			"poll interval under 100ms hammers the queue lock")
	}
}
