package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{RequestID: "a", Time: base, Action: 1, Chord: "Shift+A", Duration: 30 * time.Millisecond},
		{RequestID: "b", Time: base.Add(time.Second), Action: 2, Chord: "Ctrl+B", Code: "key_already_held", Error: "key already held"},
		{RequestID: "c", Time: base.Add(2 * time.Second), Action: 1, Chord: "Shift+A", Duration: 31 * time.Millisecond},
	}
	for _, e := range entries {
		if err := j.Append(ctx, e); err != nil {
			t.Fatalf("Append(%+v) error = %v", e, err)
		}
	}

	got, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(got))
	}
	if got[0].RequestID != "c" || got[1].RequestID != "b" {
		t.Fatalf("Recent order = %q, %q; want c, b", got[0].RequestID, got[1].RequestID)
	}
	if !got[0].Time.Equal(base.Add(2*time.Second)) {
		t.Fatalf("Time = %v", got[0].Time)
	}
	if got[0].Duration != 31*time.Millisecond {
		t.Fatalf("Duration = %v, want 31ms", got[0].Duration)
	}
	if got[1].OK() || got[1].Code != "key_already_held" {
		t.Fatalf("entry b = %+v, want failure", got[1])
	}
}

func TestRecentNonPositiveLimit(t *testing.T) {
	j := openTestJournal(t)
	got, err := j.Recent(context.Background(), 0)
	if err != nil || got != nil {
		t.Fatalf("Recent(0) = %v, %v", got, err)
	}
}

func TestSummary(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, e := range []Entry{
		{Action: 3, Chord: "Alt+C"},
		{Action: 1, Chord: "Shift+A"},
		{Action: 1, Chord: "Shift+A", Code: "injection_failure"},
		{Action: 1, Chord: "Shift+A"},
	} {
		e.Time = base.Add(time.Duration(i) * time.Second)
		if err := j.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := j.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	want := []ActionSummary{
		{Action: 1, Chord: "Shift+A", Fired: 3, Failed: 1, LastAt: base.Add(3 * time.Second)},
		{Action: 3, Chord: "Alt+C", Fired: 1, Failed: 0, LastAt: base},
	}
	if len(got) != len(want) {
		t.Fatalf("Summary() = %+v", got)
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.Action != w.Action || g.Chord != w.Chord || g.Fired != w.Fired || g.Failed != w.Failed || !g.LastAt.Equal(w.LastAt) {
			t.Fatalf("Summary()[%d] = %+v, want %+v", i, g, w)
		}
	}
}

func TestOpenCreatesFileAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := j.Append(context.Background(), Entry{Action: 4, Chord: "Space"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer j2.Close()
	got, err := j2.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 || got[0].Chord != "Space" {
		t.Fatalf("Recent() after reopen = %+v", got)
	}
	if j2.Path() != path {
		t.Fatalf("Path() = %q, want %q", j2.Path(), path)
	}
}

func TestClosedJournal(t *testing.T) {
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := j.Append(context.Background(), Entry{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Append() after Close error = %v, want ErrClosed", err)
	}
	if _, err := j.Summary(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Summary() after Close error = %v, want ErrClosed", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("Open(\"\") expected error")
	}
}
