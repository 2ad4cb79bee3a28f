package journal

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"chordkit/internal/testutil"
	"chordkit/internal/workerutil"
)

func TestWriterFlushesOnClose(t *testing.T) {
	j := openTestJournal(t)
	w := NewWriter(j, 16)
	w.Start(context.Background())

	for i := range 5 {
		if !w.Enqueue(Entry{Action: i + 1, Chord: "Space"}) {
			t.Fatalf("Enqueue(%d) rejected", i)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got, err := j.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("Recent() returned %d entries, want 5", len(got))
	}
	if w.Written() != 5 || w.Dropped() != 0 || w.Failed() != 0 {
		t.Fatalf("counters written=%d dropped=%d failed=%d", w.Written(), w.Dropped(), w.Failed())
	}
}

func TestWriterDropsWhenFull(t *testing.T) {
	j := openTestJournal(t)
	// Not started: nothing drains the queue.
	w := NewWriter(j, 2)

	accepted := 0
	for range 5 {
		if w.Enqueue(Entry{Action: 1, Chord: "Shift+A"}) {
			accepted++
		}
	}
	if accepted != 2 {
		t.Fatalf("accepted = %d, want 2", accepted)
	}
	if got := w.Dropped(); got != 3 {
		t.Fatalf("Dropped() = %d, want 3", got)
	}
}

func TestWriterRejectsAfterClose(t *testing.T) {
	j := openTestJournal(t)
	w := NewWriter(j, 4)
	w.Start(context.Background())
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.Enqueue(Entry{Action: 1}) {
		t.Fatal("Enqueue() after Close accepted an entry")
	}
}

func TestWriterCountsFailures(t *testing.T) {
	j := openTestJournal(t)
	w := NewWriter(j, 4)
	w.Enqueue(Entry{Action: 1, Chord: "Space"})
	if err := j.Close(); err != nil {
		t.Fatalf("journal Close() error = %v", err)
	}
	w.Start(context.Background())
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.Failed() != 1 || w.Written() != 0 {
		t.Fatalf("failed=%d written=%d, want 1 and 0", w.Failed(), w.Written())
	}
}

func TestWriterGivesUpAfterRepeatedPanics(t *testing.T) {
	orig := writerRecovery
	writerRecovery = workerutil.RecoveryOptions{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		MaxRetries:     3,
	}
	t.Cleanup(func() { writerRecovery = orig })
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelWarn)

	// A nil journal panics on every append.
	w := NewWriter(nil, 8)
	for i := range 3 {
		if !w.Enqueue(Entry{Action: i + 1}) {
			t.Fatalf("Enqueue(%d) rejected before start", i)
		}
	}
	w.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for !w.gaveUp.Load() {
		if time.Now().After(deadline) {
			t.Fatal("writer did not give up")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if w.Enqueue(Entry{Action: 4}) {
		t.Fatal("Enqueue accepted after writer gave up")
	}
	if got := w.Failed(); got != 3 {
		t.Fatalf("Failed() = %d, want 3", got)
	}
	if got := w.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
	if !logBuf.Contains("writer stopped after repeated panics") {
		t.Fatalf("log %q missing give-up message", logBuf.String())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
