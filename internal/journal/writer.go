package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chordkit/internal/workerutil"
)

const (
	defaultQueueSize = 512
	appendTimeout    = 5 * time.Second
)

var writerRecovery = workerutil.RecoveryOptions{
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	MaxRetries:     10,
}

// Writer appends entries from a bounded queue on a supervised goroutine.
// Enqueue never blocks, so a slow disk never delays a dispatch.
type Writer struct {
	journal *Journal
	queue   chan Entry

	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopping  atomic.Bool
	gaveUp    atomic.Bool
	written   atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	startOnce sync.Once
}

// NewWriter creates a Writer for j. queueSize <= 0 selects a default.
func NewWriter(j *Journal, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Writer{
		journal: j,
		queue:   make(chan Entry, queueSize),
		stop:    make(chan struct{}),
	}
}

// Start launches the drain goroutine.
func (w *Writer) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, w.cancel = context.WithCancel(ctx)
		opts := writerRecovery
		opts.IsShutdown = w.stopping.Load
		opts.OnPanic = w.onPanic
		opts.OnFatal = w.onFatal
		workerutil.RunWithPanicRecovery(ctx, "journal-writer", &w.wg, w.run, opts)
	})
}

// Enqueue queues e and reports whether it was accepted. Entries are dropped
// when the queue is full, the writer is stopping or the writer gave up.
func (w *Writer) Enqueue(e Entry) bool {
	if w.stopping.Load() {
		return false
	}
	if w.gaveUp.Load() {
		w.dropped.Add(1)
		return false
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case w.queue <- e:
		return true
	default:
		if w.dropped.Add(1) == 1 {
			slog.Warn("[journal] queue full, dropping entries", "capacity", cap(w.queue))
		}
		return false
	}
}

// Written returns the number of entries appended.
func (w *Writer) Written() uint64 { return w.written.Load() }

// Dropped returns the number of entries rejected by a full queue.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Failed returns the number of entries whose append failed.
func (w *Writer) Failed() uint64 { return w.failed.Load() }

// Close flushes queued entries and stops the writer. It does not close the
// journal.
func (w *Writer) Close() error {
	w.stopOnce.Do(func() {
		w.stopping.Store(true)
		close(w.stop)
	})
	w.wg.Wait()
	if w.cancel != nil {
		w.cancel()
	}
	slog.Debug("[journal] writer closed", "written", w.written.Load(), "dropped", w.dropped.Load(), "failed", w.failed.Load())
	return nil
}

// onPanic counts the entry that was being appended when run panicked.
func (w *Writer) onPanic(worker string, attempt int, recovered any) {
	w.failed.Add(1)
	slog.Warn("[journal] writer restarting after panic", "worker", worker, "attempt", attempt, "panic", recovered)
}

func (w *Writer) onFatal(worker string, maxRetries int) {
	w.gaveUp.Store(true)
	slog.Error("[journal] writer stopped after repeated panics, dropping further entries",
		"worker", worker,
		"maxRetries", maxRetries,
		"queued", len(w.queue),
	)
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			w.drain()
			return
		case e := <-w.queue:
			w.append(e)
		}
	}
}

func (w *Writer) drain() {
	for {
		select {
		case e := <-w.queue:
			w.append(e)
		default:
			return
		}
	}
}

func (w *Writer) append(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := w.journal.Append(ctx, e); err != nil {
		w.failed.Add(1)
		slog.Warn("[journal] append failed", "action", e.Action, "requestId", e.RequestID, "error", err)
		return
	}
	w.written.Add(1)
}
