package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

// writeTestConfig writes a complete settings file with every path pointed
// into tmpDir and a generator that exits 0 immediately.
func writeTestConfig(t *testing.T, tmpDir string) string {
	t.Helper()
	cfgYAML := fmt.Sprintf(`service:
  log_level: error
dispatch:
  mode: manual
  batch_size_limit: 20
queue:
  path: %s/queue.json
worker:
  marker_path: %s/worker.pid
  log_path: %s/worker.log
  listen: 127.0.0.1:0
generator:
  command: "true"
  timeout: 10s
  repo_root: %s
history:
  path: %s/history.db
`, tmpDir, tmpDir, tmpDir, tmpDir, tmpDir)

	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})
	if code != 1 {
		t.Fatalf("runCLI() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command") {
		t.Fatalf("stderr missing unknown-command message: %s", stderr)
	}
}

func TestRunCLINoArgs(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI(nil)
	})
	if code != 1 {
		t.Fatalf("runCLI() code = %d, want 1", code)
	}
	if !strings.Contains(stdout, "Usage:") {
		t.Fatalf("stdout missing usage: %s", stdout)
	}
}

func TestRunVersionJSON(t *testing.T) {
	origVersion := version
	version = "1.2.3-test"
	t.Cleanup(func() { version = origVersion })

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runVersion([]string{"--json"})
	})
	if code != 0 {
		t.Fatalf("runVersion() code = %d, stderr: %s", code, stderr)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("version JSON did not parse: %v\n%s", err, stdout)
	}
	if info.Version != "1.2.3-test" {
		t.Fatalf("version = %q, want 1.2.3-test", info.Version)
	}
}

func TestQueueAddListRemoveClear(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := writeTestConfig(t, tmpDir)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"queue", "add", "a.py", "b.py", "--revision", "abc123", "--config", cfgPath})
	})
	if code != 0 {
		t.Fatalf("queue add code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Enqueued 2") {
		t.Fatalf("stdout = %s", stdout)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"queue", "list", "--config", cfgPath})
	})
	if code != 0 {
		t.Fatalf("queue list code = %d", code)
	}
	if !strings.Contains(stdout, "a.py") || !strings.Contains(stdout, "b.py") {
		t.Fatalf("list missing items: %s", stdout)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"queue", "remove", "a.py", "--config", cfgPath})
	})
	if code != 0 || !strings.Contains(stdout, "Removed 1") {
		t.Fatalf("queue remove code = %d, stdout: %s", code, stdout)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"queue", "stats", "--config", cfgPath})
	})
	if code != 0 || !strings.Contains(stdout, "Pending:  1") {
		t.Fatalf("queue stats code = %d, stdout: %s", code, stdout)
	}

	code, _, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"queue", "clear", "--config", cfgPath})
	})
	if code != 0 {
		t.Fatalf("queue clear code = %d", code)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"queue", "list", "--config", cfgPath})
	})
	if code != 0 || !strings.Contains(stdout, "Queue is empty") {
		t.Fatalf("queue list after clear: %s", stdout)
	}
}

func TestQueueAddRequiresTargets(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"queue", "add"})
	})
	if code != 1 {
		t.Fatalf("queue add with no targets code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage:") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestDispatchNeverFailsOnBadConfig(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runDispatch([]string{"--config", "/nonexistent/config.yaml"})
	})
	if code != 0 {
		t.Fatalf("dispatch with missing settings code = %d, want 0", code)
	}
	if !strings.Contains(stderr, "settings unavailable") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestDispatchProcessesInlineManualMode(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := writeTestConfig(t, tmpDir)

	target := filepath.Join(tmpDir, "f.py")
	if err := os.WriteFile(target, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runDispatch([]string{"--config", cfgPath, "--revision", "abc123", "f.py"})
	})
	if code != 0 {
		t.Fatalf("dispatch code = %d, stderr: %s", code, stderr)
	}

	// The generator exits 0, so the item must be gone afterwards.
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"queue", "list", "--config", cfgPath})
	})
	if code != 0 || !strings.Contains(stdout, "Queue is empty") {
		t.Fatalf("queue not drained after dispatch: %s", stdout)
	}

	// And the run ledger has the row.
	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"history", "list", "--config", cfgPath})
	})
	if code != 0 {
		t.Fatalf("history list code = %d", code)
	}
	if !strings.Contains(stdout, "f.py") || !strings.Contains(stdout, "succeeded") {
		t.Fatalf("history missing run: %s", stdout)
	}
}

func TestWorkerStatusNotRunning(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := writeTestConfig(t, tmpDir)

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"worker", "status", "--config", cfgPath})
	})
	if code != 1 {
		t.Fatalf("worker status code = %d, want 1 when stopped", code)
	}
	if !strings.Contains(stdout, "Worker not running") {
		t.Fatalf("stdout = %s", stdout)
	}
}

func TestWorkerRunExitsZeroOnSigterm(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := writeTestConfig(t, tmpDir)
	markerPath := filepath.Join(tmpDir, "worker.pid")

	// The marker appears only after the daemon's signal handling is armed,
	// so SIGTERM here exercises the normal shutdown path.
	go func() {
		for i := 0; i < 200; i++ {
			if _, err := os.Stat(markerPath); err == nil {
				break
			}
			time.Sleep(25 * time.Millisecond)
		}
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	}()

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"worker", "run", "--config", cfgPath})
	})
	if code != 0 {
		t.Fatalf("worker run code = %d after graceful stop, stderr: %s", code, stderr)
	}
	if strings.Contains(stderr, "context canceled") {
		t.Fatalf("graceful stop logged as error: %s", stderr)
	}
}

func TestConfigLockThenCheck(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := writeTestConfig(t, tmpDir)

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config", cfgPath})
	})
	if code != 0 {
		t.Fatalf("config lock code = %d, stderr: %s", code, stderr)
	}

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", cfgPath})
	})
	if code != 0 || !strings.Contains(stdout, "PASSED") {
		t.Fatalf("config check code = %d, stdout: %s", code, stdout)
	}

	// Tamper, then the check must fail.
	if err := os.WriteFile(cfgPath, []byte("service:\n  log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", cfgPath})
	})
	if code != 1 {
		t.Fatalf("config check after tamper code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "FAILED") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	tmpDir := t.TempDir()

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "init", "--dir", tmpDir})
	})
	if code != 0 {
		t.Fatalf("config init code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Initialized") {
		t.Fatalf("stdout = %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "config.yaml")); err != nil {
		t.Fatalf("config.yaml not written: %v", err)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "init", "--dir", tmpDir})
	})
	if code != 1 || !strings.Contains(stderr, "Refusing to overwrite") {
		t.Fatalf("second init code = %d, stderr: %s", code, stderr)
	}
}
