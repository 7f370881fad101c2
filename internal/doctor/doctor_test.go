package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docqueue/docq/internal/config"
)

type deadProber struct{}

func (deadProber) Alive(int) bool { return false }

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()
	cfg := config.Defaults()
	cfg.Queue.Path = filepath.Join(tmpDir, "queue.json")
	cfg.Worker.MarkerPath = filepath.Join(tmpDir, "worker.pid")
	cfg.History.Path = filepath.Join(tmpDir, "history.db")
	cfg.Generator.Command = "true"
	cfg.Generator.RepoRoot = tmpDir
	return cfg
}

func hasIssue(issues []Issue, field, fragment string) bool {
	for _, i := range issues {
		if i.Field == field && strings.Contains(i.Message, fragment) {
			return true
		}
	}
	return false
}

func TestValidate_HealthyEnvironment(t *testing.T) {
	t.Parallel()
	d := New(validConfig(t), "")
	r := d.Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
}

func TestValidate_MissingGenerator(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Generator.Command = "definitely-not-a-real-tool-7f3a"
	r := New(cfg, "").Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "generator.command", "not found on PATH") {
		t.Fatalf("missing generator error, got: %v", r.Errors)
	}
}

func TestValidate_MissingRepoRoot(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Generator.RepoRoot = "/nonexistent/repo/root"
	r := New(cfg, "").Validate()
	if !hasIssue(r.Errors, "generator.repo_root", "does not exist") {
		t.Fatalf("missing repo root error, got: %v", r.Errors)
	}
}

func TestValidate_BadListenAddress(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.Listen = "not-an-address"
	r := New(cfg, "").Validate()
	if !hasIssue(r.Errors, "worker.listen", "not host:port") {
		t.Fatalf("missing listen error, got: %v", r.Errors)
	}
}

func TestValidate_NonLoopbackListenWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.Listen = "0.0.0.0:7333"
	r := New(cfg, "").Validate()
	if !r.Valid {
		t.Fatalf("non-loopback listen should warn, not fail: %v", r.Errors)
	}
	if !hasIssue(r.Warnings, "worker.listen", "loopback") {
		t.Fatalf("missing loopback warning, got: %v", r.Warnings)
	}
}

func TestValidate_StaleMarkerWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	writeFile(t, cfg.Worker.MarkerPath, "999999\n")

	d := New(cfg, "")
	d.prober = deadProber{}
	r := d.Validate()
	if !hasIssue(r.Warnings, "worker.marker_path", "stale marker") {
		t.Fatalf("missing stale marker warning, got: %v", r.Warnings)
	}
}

func TestValidate_FallbackDisabledWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Dispatch.FallbackToSync = false
	r := New(cfg, "").Validate()
	if !hasIssue(r.Warnings, "dispatch.fallback_to_sync", "housekeeping") {
		t.Fatalf("missing fallback warning, got: %v", r.Warnings)
	}
}

func TestValidate_TinyPollIntervalWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.PollInterval = 10 * time.Millisecond
	r := New(cfg, "").Validate()
	if !hasIssue(r.Warnings, "worker.poll_interval", "queue lock") {
		t.Fatalf("missing poll interval warning, got: %v", r.Warnings)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
