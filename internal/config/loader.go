package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses configuration from a file or a directory containing
// config.yaml. Values absent from the file keep their defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	expandPaths(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config location by checking standard places.
// Priority order: $DOCQ_CONFIG, ~/.config/docq, /etc/docq, ./config.yaml.
func Discover() (string, error) {
	if p := os.Getenv("DOCQ_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userDir := filepath.Join(homeDir, ".config", "docq")
		if _, err := os.Stat(filepath.Join(userDir, "config.yaml")); err == nil {
			return userDir, nil
		}
	}

	if _, err := os.Stat("/etc/docq/config.yaml"); err == nil {
		return "/etc/docq", nil
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml", nil
	}

	return "", fmt.Errorf("no configuration found\n" +
		"Hint: set DOCQ_CONFIG, create ~/.config/docq/config.yaml, or pass --config")
}

func validate(cfg *Config) error {
	switch cfg.Dispatch.Mode {
	case ModeManual, ModeAuto:
	default:
		return fmt.Errorf("dispatch.mode must be %q or %q, got %q", ModeManual, ModeAuto, cfg.Dispatch.Mode)
	}
	if cfg.Dispatch.BatchSizeLimit < 1 {
		return fmt.Errorf("dispatch.batch_size_limit must be >= 1")
	}
	if cfg.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries must be >= 0")
	}
	if cfg.Dispatch.RetryDelay < 0 {
		return fmt.Errorf("dispatch.retry_delay must be >= 0")
	}
	if strings.TrimSpace(cfg.Queue.Path) == "" {
		return fmt.Errorf("queue.path is required")
	}
	if cfg.Queue.LockTimeout <= 0 {
		return fmt.Errorf("queue.lock_timeout must be positive")
	}
	if strings.TrimSpace(cfg.Worker.MarkerPath) == "" {
		return fmt.Errorf("worker.marker_path is required")
	}
	if cfg.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive")
	}
	if cfg.Worker.StopTimeout <= 0 {
		return fmt.Errorf("worker.stop_timeout must be positive")
	}
	if strings.TrimSpace(cfg.Generator.Command) == "" {
		return fmt.Errorf("generator.command is required")
	}
	if cfg.Generator.Timeout <= 0 {
		return fmt.Errorf("generator.timeout must be positive")
	}
	if strings.TrimSpace(cfg.History.Path) == "" {
		return fmt.Errorf("history.path is required")
	}
	return nil
}

// expandPaths resolves a leading ~ in every path-valued setting.
func expandPaths(cfg *Config) {
	cfg.Queue.Path = expandHome(cfg.Queue.Path)
	cfg.Worker.MarkerPath = expandHome(cfg.Worker.MarkerPath)
	cfg.Worker.LogPath = expandHome(cfg.Worker.LogPath)
	cfg.Generator.RepoRoot = expandHome(cfg.Generator.RepoRoot)
	cfg.History.Path = expandHome(cfg.History.Path)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}
