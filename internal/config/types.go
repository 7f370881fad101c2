package config

import "time"

// Mode selects how a dispatch event handles pending work.
type Mode string

const (
	// ModeManual processes items synchronously inline, always.
	ModeManual Mode = "manual"
	// ModeAuto hands items to the worker daemon when it is alive, falling
	// back to inline processing per the fallback flag.
	ModeAuto Mode = "auto"
)

// Config is the complete docq configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Generator GeneratorConfig `yaml:"generator"`
	History   HistoryConfig   `yaml:"history"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	LogLevel string `yaml:"log_level"`
}

// DispatchConfig is the typed settings view consumed by the dispatch engine
// on every event. Absence or a malformed value is a terminal configuration
// error for that event only.
type DispatchConfig struct {
	Mode           Mode          `yaml:"mode"`
	FallbackToSync bool          `yaml:"fallback_to_sync"`
	BatchSizeLimit int           `yaml:"batch_size_limit"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// QueueConfig locates the durable queue backing file.
type QueueConfig struct {
	Path        string        `yaml:"path"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// WorkerConfig defines the supervised worker daemon.
type WorkerConfig struct {
	MarkerPath   string        `yaml:"marker_path"`
	LogPath      string        `yaml:"log_path"`
	Listen       string        `yaml:"listen"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

// GeneratorConfig defines the external documentation generator invocation.
type GeneratorConfig struct {
	Command  string        `yaml:"command"`
	Args     []string      `yaml:"args,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
	RepoRoot string        `yaml:"repo_root"`
}

// HistoryConfig locates the run-ledger database.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Defaults returns a Config with working defaults. Load unmarshals on top of
// this, so fields absent from the file keep their default.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel: "info",
		},
		Dispatch: DispatchConfig{
			Mode:           ModeAuto,
			FallbackToSync: true,
			BatchSizeLimit: 20,
			MaxRetries:     2,
			RetryDelay:     5 * time.Second,
		},
		Queue: QueueConfig{
			Path:        "~/.local/share/docq/queue.json",
			LockTimeout: 5 * time.Second,
		},
		Worker: WorkerConfig{
			MarkerPath:   "~/.local/share/docq/worker.pid",
			LogPath:      "~/.local/share/docq/worker.log",
			Listen:       "127.0.0.1:7333",
			PollInterval: 2 * time.Second,
			StopTimeout:  10 * time.Second,
		},
		Generator: GeneratorConfig{
			Command:  "doc-gen",
			Timeout:  120 * time.Second,
			RepoRoot: ".",
		},
		History: HistoryConfig{
			Path: "~/.local/share/docq/history.db",
		},
	}
}
