// Package generate invokes the external documentation generator for one
// queued target. The tool itself is a black box; this package owns the
// subprocess discipline around it: path containment, timeout enforcement
// with a graceful-then-forceful kill, stderr capture, and failure
// classification per the task contract.
package generate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/docqueue/docq/internal/config"
	"github.com/docqueue/docq/internal/log"
	"github.com/docqueue/docq/internal/queue"
	"github.com/docqueue/docq/internal/task"
)

const (
	// maxStderrBytes caps the amount of stderr captured from the generator.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before
	// sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// Runner executes the configured generator command once per item.
// The invocation is idempotent from the queue's point of view: the generator
// persists its own output and a re-run for the same target is safe.
type Runner struct {
	command  string
	args     []string
	timeout  time.Duration
	repoRoot string
	logger   *slog.Logger
}

// New builds a Runner from generator settings.
func New(cfg config.GeneratorConfig) (*Runner, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("generator command is empty")
	}
	root, err := filepath.Abs(cfg.RepoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve repo root: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Runner{
		command:  cfg.Command,
		args:     cfg.Args,
		timeout:  timeout,
		repoRoot: root,
		logger:   log.WithComponent("generate"),
	}, nil
}

// Process runs the generator for item. Terminal failures (the target escapes
// the repository root) are never retried; tool non-zero exits and timeouts
// are surfaced as retriable errors for the caller's retry policy.
func (r *Runner) Process(ctx context.Context, item queue.Item) error {
	target, err := r.resolveTarget(item.Target)
	if err != nil {
		return err
	}

	args := append(append([]string{}, r.args...), target)
	cmd := exec.Command(r.command, args...)
	cmd.Dir = r.repoRoot
	cmd.Env = append(os.Environ(), "DOCQ_REVISION="+item.Revision)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = nil

	logger := r.logger.With("target", item.Target, "revision", item.Revision)
	logger.Debug("running generator", "command", r.command, "timeout", r.timeout)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start generator: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-waitErr:
		if err == nil {
			logger.Debug("generator finished")
			return nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("generator exited %d for %s: %s",
				exitErr.ExitCode(), item.Target, truncateStderr(stderr.String()))
		}
		return fmt.Errorf("wait for generator: %w", err)

	case <-ctx.Done():
		r.terminate(cmd, waitErr, logger)
		return ctx.Err()

	case <-timer.C:
		logger.Warn("generator timed out, terminating", "timeout", r.timeout)
		r.terminate(cmd, waitErr, logger)
		return fmt.Errorf("generator timed out after %v for %s: %s",
			r.timeout, item.Target, truncateStderr(stderr.String()))
	}
}

// terminate enforces SIGTERM, a grace window, then SIGKILL.
func (r *Runner) terminate(cmd *exec.Cmd, waitErr chan error, logger *slog.Logger) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Debug("SIGTERM failed, process likely gone", "error", err)
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
	case <-grace.C:
		logger.Warn("generator did not exit after SIGTERM, sending SIGKILL")
		_ = cmd.Process.Kill()
		<-waitErr
	}
}

// resolveTarget confines the target inside the repository root. An escape is
// a security-boundary violation and therefore terminal.
func (r *Runner) resolveTarget(target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", task.Terminalf("target is empty")
	}
	abs := filepath.Join(r.repoRoot, target)
	rel, err := filepath.Rel(r.repoRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", task.Terminalf("target %q escapes repository root %s", target, r.repoRoot)
	}
	return abs, nil
}

func truncateStderr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
