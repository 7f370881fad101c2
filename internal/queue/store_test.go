package queue

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqueue/docq/internal/lock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "queue.json"))
	require.NoError(t, err)
	return s
}

func TestAddDeduplicatesByTarget(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	first := Item{Target: "a.py", Revision: "rev1", EnqueuedAt: time.Now().UTC().Add(-time.Hour)}
	require.NoError(t, s.Add([]Item{first}))
	require.NoError(t, s.Add([]Item{NewItem("b.py", "rev1")}))

	// Re-adding a.py replaces the entry and its timestamp; the new write wins.
	second := NewItem("a.py", "rev2")
	require.NoError(t, s.Add([]Item{second}))

	items, err := s.Snapshot(0)
	require.NoError(t, err)
	require.Len(t, items, 2)

	byTarget := make(map[string]Item)
	for _, it := range items {
		byTarget[it.Target] = it
	}
	assert.Equal(t, "rev2", byTarget["a.py"].Revision)
	assert.True(t, byTarget["a.py"].EnqueuedAt.After(first.EnqueuedAt))
}

func TestAddDefaultsRevision(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Add([]Item{{Target: "a.py"}}))

	items, err := s.Snapshot(0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, RevisionUnknown, items[0].Revision)
	assert.False(t, items[0].EnqueuedAt.IsZero())
}

func TestAddRejectsEmptyTarget(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	err := s.Add([]Item{{Target: "  "}})
	assert.ErrorIs(t, err, ErrTargetEmpty)
}

func TestSnapshotLimitAndOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	base := time.Now().UTC()
	require.NoError(t, s.Add([]Item{
		{Target: "c.py", Revision: "r", EnqueuedAt: base.Add(3 * time.Second)},
		{Target: "a.py", Revision: "r", EnqueuedAt: base.Add(1 * time.Second)},
		{Target: "b.py", Revision: "r", EnqueuedAt: base.Add(2 * time.Second)},
	}))

	items, err := s.Snapshot(2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a.py", items[0].Target)
	assert.Equal(t, "b.py", items[1].Target)

	// Snapshot does not mutate.
	all, err := s.Snapshot(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRemove(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Add([]Item{NewItem("a.py", "r"), NewItem("b.py", "r"), NewItem("c.py", "r")}))

	removed, err := s.Remove([]string{"a.py", "c.py", "missing.py"})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	items, err := s.Snapshot(0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b.py", items[0].Target)
}

func TestTakeBatchRemovesWhatItReturns(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	base := time.Now().UTC()
	require.NoError(t, s.Add([]Item{
		{Target: "a.py", Revision: "r", EnqueuedAt: base},
		{Target: "b.py", Revision: "r", EnqueuedAt: base.Add(time.Second)},
		{Target: "c.py", Revision: "r", EnqueuedAt: base.Add(2 * time.Second)},
	}))

	taken, err := s.TakeBatch(2)
	require.NoError(t, err)
	require.Len(t, taken, 2)
	assert.Equal(t, "a.py", taken[0].Target)
	assert.Equal(t, "b.py", taken[1].Target)

	rest, err := s.Snapshot(0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c.py", rest[0].Target)
}

func TestTakeBatchConcurrentCallersShareNothing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	var all []Item
	for i := 0; i < 20; i++ {
		all = append(all, NewItem(filepath.Join("pkg", string(rune('a'+i))+".py"), "r"))
	}
	require.NoError(t, s.Add(all))

	var mu sync.Mutex
	var wg sync.WaitGroup
	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := s.TakeBatch(3)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, it := range batch {
					seen[it.Target]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20, "union of all batches must equal the original set")
	for target, n := range seen {
		assert.Equalf(t, 1, n, "target %s claimed %d times", target, n)
	}

	rest, err := s.Snapshot(0)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestClear(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Add([]Item{NewItem("a.py", "r")}))
	require.NoError(t, s.Clear())

	items, err := s.Snapshot(0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStats(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Add([]Item{
		{Target: "a.py", Revision: "r", EnqueuedAt: base},
		{Target: "b.py", Revision: "r", EnqueuedAt: base.Add(time.Minute)},
		{Target: "README", Revision: "r", EnqueuedAt: base.Add(2 * time.Minute)},
	}))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, st.Count)
	require.NotNil(t, st.Oldest)
	require.NotNil(t, st.Newest)
	assert.True(t, st.Oldest.Equal(base))
	assert.True(t, st.Newest.Equal(base.Add(2*time.Minute)))
	assert.Positive(t, st.SizeBytes)
	assert.Equal(t, 2, st.ByExtension[".py"])
	assert.Equal(t, 1, st.ByExtension["(none)"])
}

func TestCorruptFileTreatedAsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queue.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := New(path)
	require.NoError(t, err)

	items, err := s.Snapshot(0)
	require.NoError(t, err)
	assert.Empty(t, items)

	// The corrupt file is left in place for a human to inspect.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestSnapshotLockTimeoutLeavesFileUntouched(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queue.json")
	s, err := New(path, WithLockTimeout(100*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Add([]Item{NewItem("a.py", "r")}))

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	held, err := lock.Acquire(path+".lock", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = held.Release() })

	items, err := s.Snapshot(0)
	assert.True(t, lock.IsTimeout(err), "want lock timeout, got %v", err)
	assert.Empty(t, items)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "queue file must be byte-for-byte unchanged")
}
