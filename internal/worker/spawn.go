package worker

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// SelfSpawner returns a SpawnFunc that re-executes the current binary as
// `<self> worker run --config <configPath>` detached from the caller's
// session, with stdout and stderr appended to logPath. The returned pid is
// the worker's own, taken straight from the started process.
func SelfSpawner(configPath, logPath string) SpawnFunc {
	return func() (int, error) {
		self, err := os.Executable()
		if err != nil {
			return 0, fmt.Errorf("locate executable: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return 0, fmt.Errorf("create log directory: %w", err)
		}
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, fmt.Errorf("open worker log: %w", err)
		}
		defer logFile.Close()

		cmd := exec.Command(self, "worker", "run", "--config", configPath)
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		cmd.Stdin = nil
		// New session so the worker outlives the hook's terminal.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

		if err := cmd.Start(); err != nil {
			return 0, fmt.Errorf("start worker process: %w", err)
		}

		pid := cmd.Process.Pid
		// Detach; the daemon is reparented to init and reaped there.
		if err := cmd.Process.Release(); err != nil {
			return pid, fmt.Errorf("release worker process: %w", err)
		}
		return pid, nil
	}
}
