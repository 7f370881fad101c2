package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()

	l := openTestLedger(t)
	ctx := context.Background()

	errMsg := "generator exited 1"
	base := time.Now().UTC()
	entries := []Entry{
		{Target: "a.py", Revision: "rev1", Mode: ModeSync, Status: StatusSucceeded, Attempts: 1,
			StartedAt: base, CompletedAt: base.Add(time.Second)},
		{Target: "b.py", Revision: "rev1", Mode: ModeAsync, Status: StatusFailed, Attempts: 3,
			LastError: &errMsg, StartedAt: base.Add(2 * time.Second), CompletedAt: base.Add(3 * time.Second)},
	}
	for _, e := range entries {
		if err := l.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	// Newest first.
	if got[0].Target != "b.py" {
		t.Errorf("expected b.py first, got %s", got[0].Target)
	}
	if got[0].Status != StatusFailed || got[0].Attempts != 3 {
		t.Errorf("unexpected entry: %+v", got[0])
	}
	if got[0].LastError == nil || *got[0].LastError != errMsg {
		t.Errorf("last_error not round-tripped: %v", got[0].LastError)
	}
	if got[0].ID == "" {
		t.Error("expected generated id")
	}
}

func TestRecordRejectsEmptyTarget(t *testing.T) {
	t.Parallel()

	l := openTestLedger(t)
	if err := l.Record(context.Background(), Entry{}); err == nil {
		t.Fatal("expected error for empty target")
	}
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()

	l := openTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Record(ctx, Entry{Target: "a.py", Mode: ModeSync, Status: StatusSucceeded}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := l.Record(ctx, Entry{Target: "b.py", Mode: ModeSync, Status: StatusFailed}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	counts, err := l.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[StatusSucceeded] != 3 || counts[StatusFailed] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
