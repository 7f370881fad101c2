package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLockThenCheckPasses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("service:\n  log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := Lock(path); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ChecksumFile)); err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	if err := Check(path); err != nil {
		t.Fatalf("Check after Lock: %v", err)
	}
}

func TestCheckFailsOnTamperedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("service:\n  log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Lock(path); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	if err := os.WriteFile(path, []byte("service:\n  log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := Check(path); err == nil {
		t.Fatal("expected hash mismatch after tampering")
	}
}

func TestCheckWithoutManifestIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("service: {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Check(path); err != nil {
		t.Fatalf("Check without manifest should pass: %v", err)
	}
}
