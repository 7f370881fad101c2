// Package queue implements the durable pending-work queue: a single JSON
// backing file guarded by a sibling advisory lock file, mutated only through
// lock-scoped, atomic write-back operations so concurrent hook invocations
// and the worker daemon never interleave.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docqueue/docq/internal/atomicfile"
	"github.com/docqueue/docq/internal/lock"
	"github.com/docqueue/docq/internal/log"
)

// DefaultLockTimeout bounds how long any queue operation waits for the
// advisory lock before giving up with lock.ErrTimeout.
const DefaultLockTimeout = 5 * time.Second

// Store is a file-backed work queue safe for use from multiple independent
// OS processes.
type Store struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout overrides the default lock acquisition timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithLogger overrides the default component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Store backed by the JSON file at path. The lock file lives
// next to it as <path>.lock.
func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("queue path is empty")
	}
	s := &Store{
		path:        filepath.Clean(path),
		lockPath:    filepath.Clean(path) + ".lock",
		lockTimeout: DefaultLockTimeout,
		logger:      log.WithComponent("queue"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Add merges items into the queue, keyed by target. The newest write wins on
// duplicates: the prior entry's revision and timestamp are replaced.
func (s *Store) Add(items []Item) error {
	for _, it := range items {
		if strings.TrimSpace(it.Target) == "" {
			return ErrTargetEmpty
		}
	}

	return s.withLock(func() error {
		existing := s.load()
		merged := mergeByTarget(existing, items)
		return s.save(merged)
	})
}

// Snapshot returns up to limit items (all when limit <= 0) without mutating
// state. A lock timeout yields an empty slice and the timeout error; callers
// on the dispatch path treat that as a no-op round.
func (s *Store) Snapshot(limit int) ([]Item, error) {
	var out []Item
	err := s.withLock(func() error {
		out = capItems(s.load(), limit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes items whose target is in targets and reports how many were
// removed.
func (s *Store) Remove(targets []string) (int, error) {
	drop := make(map[string]bool, len(targets))
	for _, t := range targets {
		drop[t] = true
	}

	removed := 0
	err := s.withLock(func() error {
		items := s.load()
		kept := items[:0]
		for _, it := range items {
			if drop[it.Target] {
				removed++
				continue
			}
			kept = append(kept, it)
		}
		if removed == 0 {
			return nil
		}
		return s.save(kept)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// TakeBatch atomically snapshots and removes up to limit items under a single
// lock acquisition. This is the only safe way for concurrent consumers to
// claim work: separate Snapshot+Remove calls would let two callers own the
// same items.
func (s *Store) TakeBatch(limit int) ([]Item, error) {
	var taken []Item
	err := s.withLock(func() error {
		items := s.load()
		taken = capItems(items, limit)
		if len(taken) == 0 {
			return nil
		}
		rest := items[len(taken):]
		return s.save(rest)
	})
	if err != nil {
		return nil, err
	}
	return taken, nil
}

// Clear removes all pending items.
func (s *Store) Clear() error {
	return s.withLock(func() error {
		return s.save(nil)
	})
}

// Stats reports queue depth, age bounds, backing-file size, and a
// per-extension histogram of pending targets.
func (s *Store) Stats() (Stats, error) {
	st := Stats{ByExtension: make(map[string]int)}
	err := s.withLock(func() error {
		items := s.load()
		st.Count = len(items)
		for _, it := range items {
			ts := it.EnqueuedAt
			if st.Oldest == nil || ts.Before(*st.Oldest) {
				t := ts
				st.Oldest = &t
			}
			if st.Newest == nil || ts.After(*st.Newest) {
				t := ts
				st.Newest = &t
			}
			ext := strings.ToLower(filepath.Ext(it.Target))
			if ext == "" {
				ext = "(none)"
			}
			st.ByExtension[ext]++
		}
		if info, err := os.Stat(s.path); err == nil {
			st.SizeBytes = info.Size()
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// withLock runs fn while holding the exclusive queue lock.
func (s *Store) withLock(fn func() error) error {
	fl, err := lock.Acquire(s.lockPath, s.lockTimeout)
	if err != nil {
		return err
	}
	defer fl.Release()
	return fn()
}

// load reads the backing file. A missing file is an empty queue. A corrupt
// file is treated as empty with a warning; it is never deleted here, that is
// an operator decision.
func (s *Store) load() []Item {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		s.logger.Warn("queue file unreadable, treating as empty", "path", s.path, "error", err)
		return nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("queue file corrupt, treating as empty", "path", s.path, "error", err)
		return nil
	}

	sortItems(doc.Items)
	return doc.Items
}

// save writes the whole collection back via temp-file-and-rename.
func (s *Store) save(items []Item) error {
	sortItems(items)
	doc := document{Version: documentVersion, Items: items}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write queue file: %w", err)
	}
	return nil
}

// mergeByTarget applies newest-wins dedup of incoming over existing.
func mergeByTarget(existing, incoming []Item) []Item {
	byTarget := make(map[string]Item, len(existing)+len(incoming))
	for _, it := range existing {
		byTarget[it.Target] = it
	}
	for _, it := range incoming {
		if it.Revision == "" {
			it.Revision = RevisionUnknown
		}
		if it.EnqueuedAt.IsZero() {
			it.EnqueuedAt = time.Now().UTC()
		}
		byTarget[it.Target] = it
	}

	merged := make([]Item, 0, len(byTarget))
	for _, it := range byTarget {
		merged = append(merged, it)
	}
	sortItems(merged)
	return merged
}

// sortItems orders oldest-first, target as tiebreaker, so snapshots are
// deterministic and batches drain in FIFO order.
func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].EnqueuedAt.Equal(items[j].EnqueuedAt) {
			return items[i].Target < items[j].Target
		}
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})
}

func capItems(items []Item, limit int) []Item {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
