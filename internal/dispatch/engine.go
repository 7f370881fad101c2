// Package dispatch decides, on each dispatch event, whether pending work is
// handed to the worker daemon or processed inline. The engine never returns
// an error to its caller: a dispatch event fires from a commit hook, and a
// queueing hiccup must never fail the commit.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/docqueue/docq/internal/config"
	"github.com/docqueue/docq/internal/history"
	"github.com/docqueue/docq/internal/lock"
	"github.com/docqueue/docq/internal/queue"
)

// Queue is the slice of the queue store the engine needs. TakeBatch is the
// claim primitive on the hand-off path: it snapshots and removes under one
// lock acquisition, so a concurrent dispatcher or the daemon's housekeeping
// pass can never claim the same items. Snapshot and Remove serve the inline
// paths, where failures must stay queued. Add puts claimed items back when a
// hand-off is aborted.
type Queue interface {
	Snapshot(limit int) ([]queue.Item, error)
	TakeBatch(limit int) ([]queue.Item, error)
	Remove(targets []string) (int, error)
	Add(items []queue.Item) error
}

// Backend submits one item to the worker daemon and returns its ticket.
type Backend interface {
	Submit(target, revision string) (string, error)
}

// Processor runs the work function inline for one item.
type Processor interface {
	Process(ctx context.Context, item queue.Item) error
}

// Recorder persists one run-ledger row. Inline runs are recorded by the
// engine itself; handed-off items are recorded by the daemon when they
// actually execute.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Summary reports what one dispatch event did. It is informational only.
type Summary struct {
	Mode      config.Mode `json:"mode"`
	Pending   int         `json:"pending"`
	Submitted int         `json:"submitted"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Remaining int         `json:"remaining"`
	Note      string      `json:"note,omitempty"`
}

// Engine applies the dispatch decision flow to the pending queue.
type Engine struct {
	cfg      config.DispatchConfig
	queue    Queue
	probe    func() bool
	backend  Backend
	proc     Processor
	recorder Recorder
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds a dispatch engine. probe reports whether the worker daemon is
// currently alive; it must be cheap and must never mutate worker state.
func New(cfg config.DispatchConfig, q Queue, probe func() bool, b Backend, p Processor, r Recorder, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		queue:    q,
		probe:    probe,
		backend:  b,
		proc:     p,
		recorder: r,
		logger:   slog.Default().With("component", "dispatch"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// HandleEvent runs one dispatch round. It never panics and never returns an
// error; every failure mode degrades to "items stay queued for next time".
func (e *Engine) HandleEvent(ctx context.Context) (s Summary) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("dispatch round panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			s.Note = "internal error; items left queued"
		}
	}()

	s.Mode = e.cfg.Mode

	if e.cfg.Mode != config.ModeManual && e.probe() {
		e.dispatchAsync(ctx, &s)
		return s
	}

	// Inline rounds read without claiming: failures stay queued on their
	// own, and a worker-down round with fallback disabled mutates nothing.
	items, err := e.queue.Snapshot(e.cfg.BatchSizeLimit)
	if err != nil {
		if lock.IsTimeout(err) {
			e.logger.Debug("queue busy, skipping round")
			s.Note = "queue busy"
			return s
		}
		e.logger.Error("queue snapshot failed", "error", err)
		s.Note = "queue unavailable"
		return s
	}
	s.Pending = len(items)
	if len(items) == 0 {
		return s
	}

	if e.cfg.Mode == config.ModeManual {
		e.processInline(ctx, items, &s)
		return s
	}

	if e.cfg.FallbackToSync {
		e.logger.Info("worker not running, processing inline", "items", len(items))
		e.processInline(ctx, items, &s)
	} else {
		e.logger.Warn("worker not running and fallback disabled, items left queued", "items", len(items))
		s.Remaining = len(items)
		s.Note = "worker not running"
	}
	return s
}

// dispatchAsync claims a batch under a single lock acquisition and hands it
// to the worker daemon. Anything the daemon does not accept is either run
// inline or put back on the queue; a claimed item is never dropped.
func (e *Engine) dispatchAsync(ctx context.Context, s *Summary) {
	items, err := e.queue.TakeBatch(e.cfg.BatchSizeLimit)
	if err != nil {
		if lock.IsTimeout(err) {
			e.logger.Debug("queue busy, skipping round")
			s.Note = "queue busy"
			return
		}
		e.logger.Error("queue claim failed", "error", err)
		s.Note = "queue unavailable"
		return
	}
	s.Pending = len(items)
	if len(items) == 0 {
		return
	}

	remainder := e.submit(items, s)
	if len(remainder) == 0 {
		return
	}
	if e.cfg.FallbackToSync {
		e.logger.Warn("submission failed mid-batch, processing remainder inline", "remainder", len(remainder))
		e.processClaimed(ctx, remainder, s)
		return
	}
	e.requeue(remainder)
	s.Remaining += len(remainder)
	s.Note = "submission failed; remainder left queued"
}

// submit hands already-claimed items to the worker daemon one at a time. It
// stops at the first failure and returns the unsubmitted remainder, which
// the caller owns.
func (e *Engine) submit(items []queue.Item, s *Summary) []queue.Item {
	submitted := 0
	for _, it := range items {
		ticket, err := e.backend.Submit(it.Target, it.Revision)
		if err != nil {
			e.logger.Warn("submission rejected", "target", it.Target, "error", err)
			break
		}
		e.logger.Debug("item submitted", "target", it.Target, "ticket", ticket)
		submitted++
	}
	s.Submitted = submitted
	return items[submitted:]
}

// requeue puts claimed items back so the next dispatch event retries them.
// The original enqueue timestamps survive the round trip.
func (e *Engine) requeue(items []queue.Item) {
	if err := e.queue.Add(items); err != nil {
		e.logger.Error("failed to return claimed items to the queue", "error", err, "items", len(items))
	}
}

// processInline runs items that are still on the queue. Successes are
// removed; failures stay behind for the next dispatch event.
func (e *Engine) processInline(ctx context.Context, items []queue.Item, s *Summary) {
	done, _ := e.runInline(ctx, items, s)
	if len(done) > 0 {
		if _, err := e.queue.Remove(done); err != nil {
			e.logger.Warn("failed to remove processed items from queue", "error", err)
		}
	}
	s.Remaining = s.Pending - s.Submitted - s.Succeeded
}

// processClaimed runs items already taken off the queue. Failures, and items
// skipped on cancellation, are put back so they are not lost.
func (e *Engine) processClaimed(ctx context.Context, items []queue.Item, s *Summary) {
	_, notDone := e.runInline(ctx, items, s)
	if len(notDone) > 0 {
		e.requeue(notDone)
	}
	s.Remaining = s.Pending - s.Submitted - s.Succeeded
}

// runInline pushes each item through the work function in the calling
// process, recording one ledger row per attempt. It returns the targets that
// succeeded and the items that did not (failed or unprocessed).
func (e *Engine) runInline(ctx context.Context, items []queue.Item, s *Summary) (done []string, notDone []queue.Item) {
	for i, it := range items {
		start := time.Now().UTC()
		err := e.processOne(ctx, it)
		entry := history.Entry{
			Target:      it.Target,
			Revision:    it.Revision,
			Mode:        history.ModeSync,
			Status:      history.StatusSucceeded,
			Attempts:    1,
			StartedAt:   start,
			CompletedAt: time.Now().UTC(),
		}
		if err != nil {
			msg := err.Error()
			entry.Status = history.StatusFailed
			entry.LastError = &msg
			e.logger.Warn("inline processing failed", "target", it.Target, "error", err)
			s.Failed++
			notDone = append(notDone, it)
		} else {
			done = append(done, it.Target)
			s.Succeeded++
		}
		if e.recorder != nil {
			if rerr := e.recorder.Record(ctx, entry); rerr != nil {
				e.logger.Warn("failed to record history entry", "target", it.Target, "error", rerr)
			}
		}
		if ctx.Err() != nil {
			notDone = append(notDone, items[i+1:]...)
			break
		}
	}
	return done, notDone
}

// processOne isolates a single work-function call so a panic in the external
// generator plumbing damages only that item.
func (e *Engine) processOne(ctx context.Context, it queue.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work function panicked: %v", r)
		}
	}()
	return e.proc.Process(ctx, it)
}
