package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/docqueue/docq/internal/backend"
	"github.com/docqueue/docq/internal/config"
	"github.com/docqueue/docq/internal/daemon"
	"github.com/docqueue/docq/internal/dispatch"
	"github.com/docqueue/docq/internal/doctor"
	"github.com/docqueue/docq/internal/generate"
	"github.com/docqueue/docq/internal/history"
	"github.com/docqueue/docq/internal/log"
	"github.com/docqueue/docq/internal/queue"
	"github.com/docqueue/docq/internal/tui/watch"
	"github.com/docqueue/docq/internal/worker"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "dispatch":
		return runDispatch(args)
	case "queue":
		return runQueueNoun(args)
	case "worker":
		return runWorkerNoun(args)
	case "history":
		return runHistoryNoun(args)
	case "config":
		return runConfigNoun(args)
	case "doctor":
		return runDoctor(args)
	case "watch":
		return runWatch(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`docq - commit-hook documentation generation queue

Usage:
  docq <noun> <action> [flags]

Dispatch:
  dispatch [targets...]    Enqueue optional targets, then run one dispatch
                           round. Never fails; safe to call from hooks.

Queue Commands:
  queue add <targets...>   Enqueue files for documentation generation
  queue remove <targets..> Remove items by target
  queue list               Show pending items
  queue clear              Drop all pending items
  queue stats              Queue summary

Worker Commands:
  worker start             Start the worker daemon in the background
  worker stop              Stop the worker daemon gracefully
  worker restart           Stop then start the worker daemon
  worker status            Show worker state
  worker run               Run the daemon in the foreground (internal)

History Commands:
  history list             Show recent processing runs

Config Commands:
  config check             Validate settings and integrity hashes
  config lock              Authorize current settings (update hashes)
  config init              Write a default settings file

Diagnostics:
  doctor                   Check tools, paths, and worker state
  watch                    Live dashboard TUI

General:
  version                  Show version information
  help                     Show this help message
`)
}

// --- shared helpers ---

func resolveConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			return nil, "", err
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, configPath, nil
}

func openStore(cfg *config.Config) (*queue.Store, error) {
	return queue.New(cfg.Queue.Path,
		queue.WithLockTimeout(cfg.Queue.LockTimeout),
		queue.WithLogger(log.WithComponent("queue")),
	)
}

func addConfigFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "Path to settings file or directory")
}

// --- dispatch ---

// runDispatch is the commit-hook entry point. Whatever goes wrong inside it,
// the hook must not fail the commit, so every error path logs and returns 0.
func runDispatch(args []string) int {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	revision := fs.String("revision", "", "Revision to record for enqueued targets")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "docq dispatch: flag error: %v\n", err)
		return 0
	}

	cfg, _, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "docq dispatch: settings unavailable, items left queued: %v\n", err)
		return 0
	}
	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("dispatch")

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("queue unavailable", "error", err)
		return 0
	}

	if fs.NArg() > 0 {
		items := make([]queue.Item, 0, fs.NArg())
		for _, t := range fs.Args() {
			items = append(items, queue.NewItem(t, *revision))
		}
		if err := store.Add(items); err != nil {
			logger.Error("enqueue failed, continuing with existing queue", "error", err)
		}
	}

	var recorder dispatch.Recorder
	ledger, err := history.Open(context.Background(), cfg.History.Path)
	if err != nil {
		logger.Warn("run ledger unavailable, inline runs will not be recorded", "error", err)
	} else {
		recorder = ledger
		defer ledger.Close()
	}

	runner, err := generate.New(cfg.Generator)
	if err != nil {
		logger.Error("generator settings invalid, items left queued", "error", err)
		return 0
	}

	probe := func() bool {
		return worker.IsRunningLightweight(cfg.Worker.MarkerPath, nil)
	}
	engine := dispatch.New(cfg.Dispatch, store, probe,
		backend.NewClient(cfg.Worker.Listen), runner, recorder,
		dispatch.WithLogger(logger))

	s := engine.HandleEvent(context.Background())
	logger.Info("dispatch round complete",
		"mode", s.Mode,
		"pending", s.Pending,
		"submitted", s.Submitted,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"remaining", s.Remaining)
	return 0
}

// --- queue noun ---

func runQueueNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: docq queue <add|remove|list|clear|stats> [flags]")
		if len(args) > 0 && isHelpToken(args[0]) {
			return 0
		}
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "add":
		return runQueueAdd(actionArgs)
	case "remove":
		return runQueueRemove(actionArgs)
	case "list":
		return runQueueList(actionArgs)
	case "clear":
		return runQueueClear(actionArgs)
	case "stats":
		return runQueueStats(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown queue action: %s\n", action)
		return 1
	}
}

func runQueueAdd(args []string) int {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	revision := fs.String("revision", "", "Revision to record for these targets")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: docq queue add <targets...> [--revision <rev>]")
		return 1
	}

	cfg, _, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}
	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open queue: %v\n", err)
		return 1
	}

	items := make([]queue.Item, 0, fs.NArg())
	for _, t := range fs.Args() {
		items = append(items, queue.NewItem(t, *revision))
	}
	if err := store.Add(items); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enqueue: %v\n", err)
		return 1
	}
	fmt.Printf("Enqueued %d item(s)\n", len(items))
	return 0
}

func runQueueRemove(args []string) int {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: docq queue remove <targets...>")
		return 1
	}

	cfg, _, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}
	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open queue: %v\n", err)
		return 1
	}

	removed, err := store.Remove(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to remove: %v\n", err)
		return 1
	}
	fmt.Printf("Removed %d item(s)\n", removed)
	return 0
}

func runQueueList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	limit := fs.Int("limit", 0, "Show at most this many items (0 = all)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}
	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open queue: %v\n", err)
		return 1
	}

	items, err := store.Snapshot(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read queue: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(items, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	if len(items) == 0 {
		fmt.Println("Queue is empty")
		return 0
	}
	for _, it := range items {
		fmt.Printf("%-40s %-12s %s\n", it.Target, shortRevision(it.Revision),
			it.EnqueuedAt.Local().Format(time.RFC3339))
	}
	return 0
}

func runQueueClear(args []string) int {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}
	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open queue: %v\n", err)
		return 1
	}
	if err := store.Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to clear queue: %v\n", err)
		return 1
	}
	fmt.Println("Queue cleared")
	return 0
}

func runQueueStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}
	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open queue: %v\n", err)
		return 1
	}
	stats, err := store.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read queue: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Printf("Pending:  %d\n", stats.Count)
	fmt.Printf("Size:     %d bytes\n", stats.SizeBytes)
	if stats.Oldest != nil {
		fmt.Printf("Oldest:   %s\n", stats.Oldest.Local().Format(time.RFC3339))
	}
	if stats.Newest != nil {
		fmt.Printf("Newest:   %s\n", stats.Newest.Local().Format(time.RFC3339))
	}
	for ext, n := range stats.ByExtension {
		fmt.Printf("  %-8s %d\n", ext, n)
	}
	return 0
}

// --- worker noun ---

func runWorkerNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: docq worker <start|stop|restart|status|run> [flags]")
		if len(args) > 0 && isHelpToken(args[0]) {
			return 0
		}
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		return runWorkerStart(actionArgs)
	case "stop":
		return runWorkerStop(actionArgs)
	case "restart":
		return runWorkerRestart(actionArgs)
	case "status":
		return runWorkerStatus(actionArgs)
	case "run":
		return runWorkerRun(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown worker action: %s\n", action)
		return 1
	}
}

func newSupervisor(cfg *config.Config, configPath string) (*worker.Supervisor, error) {
	return worker.New(cfg.Worker.MarkerPath,
		worker.SelfSpawner(configPath, cfg.Worker.LogPath),
		worker.WithSignature(daemon.MarkerSignature),
		worker.WithStopTimeout(cfg.Worker.StopTimeout),
	)
}

func runWorkerStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, resolvedPath, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	sup, err := newSupervisor(cfg, resolvedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize supervisor: %v\n", err)
		return 1
	}
	pid, err := sup.Start()
	if err != nil {
		if errors.Is(err, worker.ErrStartup) {
			fmt.Fprintf(os.Stderr, "Worker exited during startup; check %s\n", cfg.Worker.LogPath)
		} else {
			fmt.Fprintf(os.Stderr, "Failed to start worker: %v\n", err)
		}
		return 1
	}
	fmt.Printf("Worker running (pid %d)\n", pid)
	return 0
}

func runWorkerStop(args []string) int {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	force := fs.Bool("force", false, "Kill immediately instead of waiting for a graceful exit")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, resolvedPath, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	sup, err := newSupervisor(cfg, resolvedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize supervisor: %v\n", err)
		return 1
	}
	if err := sup.Stop(*force); err != nil {
		if errors.Is(err, worker.ErrStopTimeout) {
			fmt.Fprintln(os.Stderr, "Worker did not stop in time; retry with --force")
		} else {
			fmt.Fprintf(os.Stderr, "Failed to stop worker: %v\n", err)
		}
		return 1
	}
	fmt.Println("Worker stopped")
	return 0
}

func runWorkerRestart(args []string) int {
	fs := flag.NewFlagSet("restart", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, resolvedPath, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	sup, err := newSupervisor(cfg, resolvedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize supervisor: %v\n", err)
		return 1
	}
	pid, err := sup.Restart()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to restart worker: %v\n", err)
		return 1
	}
	fmt.Printf("Worker running (pid %d)\n", pid)
	return 0
}

func runWorkerStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, resolvedPath, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	sup, err := newSupervisor(cfg, resolvedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize supervisor: %v\n", err)
		return 1
	}
	handle := sup.Status()

	if *jsonOut {
		out := map[string]any{"running": handle != nil}
		if handle != nil {
			out["pid"] = handle.PID
			out["started_at"] = handle.StartedAt.UTC().Format(time.RFC3339)
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
	} else if handle != nil {
		fmt.Printf("Worker running (pid %d, up %s)\n",
			handle.PID, time.Since(handle.StartedAt).Round(time.Second))
	} else {
		fmt.Println("Worker not running")
	}
	if handle == nil {
		return 1
	}
	return 0
}

// runWorkerRun is the daemon process itself. `worker start` spawns this in
// the background; the cmdline signature it produces is what the supervisor's
// identity check matches against.
func runWorkerRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("docq worker starting", "version", version)

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open queue", "path", cfg.Queue.Path, "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		logger.Error("failed to open run ledger", "path", cfg.History.Path, "error", err)
		return 1
	}
	defer ledger.Close()

	runner, err := generate.New(cfg.Generator)
	if err != nil {
		logger.Error("generator settings invalid", "error", err)
		return 1
	}

	// A signal-driven shutdown surfaces as context.Canceled; that is the
	// normal way this process ends, not an error.
	if err := daemon.New(cfg, store, runner, ledger).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited with error", "error", err)
		return 1
	}
	logger.Info("worker stopped")
	return 0
}

// --- history noun ---

func runHistoryNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: docq history <list> [flags]")
		if len(args) > 0 && isHelpToken(args[0]) {
			return 0
		}
		return 1
	}

	switch args[0] {
	case "list":
		return runHistoryList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", args[0])
		return 1
	}
}

func runHistoryList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	limit := fs.Int("limit", 20, "Show at most this many runs")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}

	ctx := context.Background()
	ledger, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run ledger: %v\n", err)
		return 1
	}
	defer ledger.Close()

	entries, err := ledger.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read run ledger: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	if len(entries) == 0 {
		fmt.Println("No completed runs")
		return 0
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-9s %-5s %s",
			e.CompletedAt.Local().Format("2006-01-02 15:04:05"),
			e.Status, e.Mode, e.Target)
		if e.LastError != nil {
			line += "  " + *e.LastError
		}
		fmt.Println(line)
	}
	return 0
}

// --- config noun ---

func runConfigNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: docq config <check|lock|init> [flags]")
		if len(args) > 0 && isHelpToken(args[0]) {
			return 0
		}
		return 1
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	case "init":
		return runConfigInit(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	_, resolvedPath, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Settings check FAILED: %v\n", err)
		return 1
	}
	if err := config.Check(resolvedPath); err != nil {
		fmt.Fprintf(os.Stderr, "Integrity check FAILED: %v\n", err)
		return 1
	}
	fmt.Println("Settings check PASSED")
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	_, resolvedPath, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}
	if err := config.Lock(resolvedPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to update integrity hashes: %v\n", err)
		return 1
	}
	fmt.Println("Settings authorized (integrity hashes updated)")
	return 0
}

func runConfigInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	dir := fs.String("dir", "", "Directory to initialize (default ~/.config/docq)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	target := *dir
	if target == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot determine home directory: %v\n", err)
			return 1
		}
		target = filepath.Join(home, ".config", "docq")
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", target, err)
		return 1
	}

	cfgFile := filepath.Join(target, "config.yaml")
	if _, err := os.Stat(cfgFile); err == nil {
		fmt.Fprintf(os.Stderr, "Refusing to overwrite existing %s\n", cfgFile)
		return 1
	}

	data, err := yaml.Marshal(config.Defaults())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render defaults: %v\n", err)
		return 1
	}
	if err := os.WriteFile(cfgFile, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", cfgFile, err)
		return 1
	}
	if err := config.Lock(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Wrote %s but failed to lock it: %v\n", cfgFile, err)
		return 1
	}
	fmt.Printf("Initialized %s\n", cfgFile)
	return 0
}

// --- doctor ---

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, resolvedPath, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, resolvedPath).Validate()

	if *jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else {
		for _, issue := range result.Errors {
			fmt.Printf("ERROR [%s] %s: %s\n", issue.Category, issue.Field, issue.Message)
		}
		for _, issue := range result.Warnings {
			fmt.Printf("WARN  [%s] %s: %s\n", issue.Category, issue.Field, issue.Message)
		}
		if result.Valid {
			fmt.Println("Environment check PASSED")
		} else {
			fmt.Println("Environment check FAILED")
		}
	}
	if !result.Valid {
		return 1
	}
	return 0
}

// --- watch ---

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := addConfigFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}
	log.SetupWriter(os.Stderr, "error")

	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open queue: %v\n", err)
		return 1
	}

	// A missing ledger only blanks the runs panel.
	ledger, err := history.Open(context.Background(), cfg.History.Path)
	if err != nil {
		ledger = nil
	} else {
		defer ledger.Close()
	}

	p := tea.NewProgram(watch.New(cfg, store, ledger))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Watch TUI failed: %v\n", err)
		return 1
	}
	return 0
}

// --- version ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: docq version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("docq %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func isHelpToken(s string) bool {
	return s == "help" || s == "--help" || s == "-h"
}
