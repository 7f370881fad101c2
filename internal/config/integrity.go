package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/docqueue/docq/internal/atomicfile"
)

// ChecksumFile is the manifest written next to the config file by
// `docq config lock` and verified by `docq config check`.
const ChecksumFile = ".checksums"

// ChecksumManifest records BLAKE3 hashes of authorized config files.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeHash computes the BLAKE3 hash of a file.
func ComputeHash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Lock writes a checksum manifest authorizing the current state of
// configPath. The manifest lands next to the file.
func Lock(configPath string) error {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return err
	}

	hash, err := ComputeHash(absPath)
	if err != nil {
		return fmt.Errorf("hash %s: %w", absPath, err)
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      map[string]string{filepath.Base(absPath): hash},
	}
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	manifestPath := filepath.Join(filepath.Dir(absPath), ChecksumFile)
	if err := atomicfile.WriteFile(manifestPath, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Check verifies configPath against its checksum manifest. A missing
// manifest is not an error (integrity locking is opt-in); a mismatch is.
func Check(configPath string) error {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return err
	}

	manifestPath := filepath.Join(filepath.Dir(absPath), ChecksumFile)
	data, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	expected, ok := manifest.Hashes[filepath.Base(absPath)]
	if !ok {
		return fmt.Errorf("manifest has no entry for %s\n"+
			"Hint: run 'docq config lock' to authorize the current state", filepath.Base(absPath))
	}

	actual, err := ComputeHash(absPath)
	if err != nil {
		return fmt.Errorf("hash %s: %w", absPath, err)
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s\n"+
			"Hint: review the file, then run 'docq config lock' to accept changes",
			filepath.Base(absPath), expected, actual)
	}
	return nil
}

func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}
