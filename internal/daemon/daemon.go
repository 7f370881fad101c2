// Package daemon implements the long-running worker process: the execution
// backend that actually turns queued targets into documentation. It owns a
// serial executor fed by HTTP submissions, a housekeeping loop that drains
// items stranded in the durable queue, and a small localhost API.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/docqueue/docq/internal/atomicfile"
	"github.com/docqueue/docq/internal/config"
	"github.com/docqueue/docq/internal/history"
	"github.com/docqueue/docq/internal/lock"
	"github.com/docqueue/docq/internal/log"
	"github.com/docqueue/docq/internal/queue"
	"github.com/docqueue/docq/internal/task"
)

// submitBuffer bounds how many accepted-but-not-yet-executed submissions the
// daemon holds; past this the API answers 503 and dispatchers fall back.
const submitBuffer = 128

// Processor runs the work function for one item.
type Processor interface {
	Process(ctx context.Context, item queue.Item) error
}

// submission is one accepted unit of work with its ticket.
type submission struct {
	ticket string
	item   queue.Item
}

// Daemon is the worker process.
type Daemon struct {
	cfg    *config.Config
	store  *queue.Store
	proc   Processor
	ledger *history.Ledger
	policy task.Policy
	logger *slog.Logger

	jobs      chan submission
	startedAt time.Time
	succeeded atomic.Int64
	failed    atomic.Int64
}

// New assembles a Daemon from its collaborators.
func New(cfg *config.Config, store *queue.Store, proc Processor, ledger *history.Ledger) *Daemon {
	return &Daemon{
		cfg:    cfg,
		store:  store,
		proc:   proc,
		ledger: ledger,
		policy: task.Policy{
			MaxRetries: cfg.Dispatch.MaxRetries,
			Delay:      cfg.Dispatch.RetryDelay,
		},
		logger:    log.WithComponent("daemon"),
		jobs:      make(chan submission, submitBuffer),
		startedAt: time.Now(),
	}
}

// Run starts the executor, the housekeeping loop, and the HTTP API, blocking
// until ctx is cancelled. It guards against a second daemon with a PID lock
// and maintains its own marker file.
func (d *Daemon) Run(ctx context.Context) error {
	pidLock, err := lock.AcquirePIDLock(d.cfg.Worker.MarkerPath + ".lock")
	if err != nil {
		return fmt.Errorf("another worker instance appears to be running: %w", err)
	}
	defer pidLock.Release()

	if err := d.writeMarker(); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	defer d.retireMarker()

	d.logger.Info("worker daemon starting",
		"listen", d.cfg.Worker.Listen,
		"queue", d.store.Path(),
		"poll_interval", d.cfg.Worker.PollInterval)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		d.executor(ctx)
	}()
	go func() {
		d.housekeeping(ctx)
	}()
	go func() {
		if err := d.serveAPI(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		d.logger.Info("worker daemon stopping")
		return ctx.Err()
	case err := <-errCh:
		d.logger.Error("component failed", "error", err)
		return err
	}
}

// executor drains submissions serially, one item at a time.
func (d *Daemon) executor(ctx context.Context) {
	d.logger.Info("executor started")
	defer d.logger.Info("executor stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-d.jobs:
			d.execute(ctx, sub)
		}
	}
}

// execute runs one item through the retry policy and records the outcome.
func (d *Daemon) execute(ctx context.Context, sub submission) {
	logger := d.logger.With("ticket", sub.ticket, "target", sub.item.Target, "revision", sub.item.Revision)
	logger.Info("executing item")

	started := time.Now().UTC()
	attempts := 0
	err := d.policy.Run(ctx, func(ctx context.Context) error {
		attempts++
		return d.proc.Process(ctx, sub.item)
	})

	entry := history.Entry{
		ID:          sub.ticket,
		Target:      sub.item.Target,
		Revision:    sub.item.Revision,
		Mode:        history.ModeAsync,
		Status:      history.StatusSucceeded,
		Attempts:    attempts,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}

	if err != nil {
		logger.Warn("item failed", "attempts", attempts, "error", err)
		msg := err.Error()
		entry.LastError = &msg
		entry.Status = history.StatusFailed
		d.failed.Add(1)
	} else {
		logger.Info("item succeeded", "attempts", attempts)
		d.succeeded.Add(1)
	}

	if d.ledger != nil {
		if err := d.ledger.Record(ctx, entry); err != nil {
			logger.Error("failed to record history", "error", err)
		}
	}
}

// housekeeping periodically claims leftover items from the durable queue:
// work stranded by a dispatcher that crashed between snapshot and submit, or
// left queued when fallback was disabled.
func (d *Daemon) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Worker.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainQueue(ctx)
		}
	}
}

func (d *Daemon) drainQueue(ctx context.Context) {
	items, err := d.store.TakeBatch(d.cfg.Dispatch.BatchSizeLimit)
	if err != nil {
		if lock.IsTimeout(err) {
			d.logger.Debug("queue busy, skipping housekeeping round")
			return
		}
		d.logger.Error("housekeeping take_batch failed", "error", err)
		return
	}

	for i, it := range items {
		sub := submission{ticket: uuid.NewString(), item: it}
		select {
		case d.jobs <- sub:
		default:
			// Buffer full: give the remainder back to the queue so
			// nothing is lost.
			rest := items[i:]
			if err := d.store.Add(rest); err != nil {
				d.logger.Error("failed to requeue overflow items", "count", len(rest), "error", err)
			}
			return
		}
	}
	if len(items) > 0 {
		d.logger.Info("claimed stranded items from queue", "count", len(items))
	}
}

func (d *Daemon) writeMarker() error {
	return atomicfile.WriteFile(d.cfg.Worker.MarkerPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func (d *Daemon) retireMarker() {
	retired := fmt.Sprintf("%s.stale-%d", d.cfg.Worker.MarkerPath, time.Now().UnixNano())
	if err := atomicfile.Retire(d.cfg.Worker.MarkerPath, retired); err != nil {
		d.logger.Warn("failed to retire marker on shutdown", "error", err)
	}
}

// Stats is the daemon's own view for the health endpoint.
type Stats struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
	QueueDepth    int   `json:"queue_depth"`
	Buffered      int   `json:"buffered"`
	Succeeded     int64 `json:"succeeded"`
	Failed        int64 `json:"failed"`
}

func (d *Daemon) stats() Stats {
	depth := 0
	if st, err := d.store.Stats(); err == nil {
		depth = st.Count
	}
	return Stats{
		UptimeSeconds: int64(time.Since(d.startedAt).Seconds()),
		QueueDepth:    depth,
		Buffered:      len(d.jobs),
		Succeeded:     d.succeeded.Load(),
		Failed:        d.failed.Load(),
	}
}

// MarkerSignature is the cmdline substring the supervisor's deep identity
// check looks for.
const MarkerSignature = "worker run"
