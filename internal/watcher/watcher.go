// Package watcher reloads and validates the config file when it changes on
// disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"chordkit/internal/config"
	"chordkit/internal/registry"
	"chordkit/internal/workerutil"
)

// DefaultDebounce coalesces the write bursts editors produce on save.
const DefaultDebounce = 250 * time.Millisecond

// ErrLoopStopped is reported through onChange when the event loop has
// panicked too often to be restarted. The file is no longer watched.
var ErrLoopStopped = errors.New("watcher: event loop stopped after repeated panics")

// Result is the outcome of one reload.
type Result struct {
	Path     string
	Config   config.Config
	Registry *registry.Registry
	// Bindings is the number of populated action slots, or 0 on error.
	Bindings int
	Err      error
	At       time.Time
}

// Check loads path and builds its registry without touching the file.
func Check(path string) Result {
	res := Result{Path: path, At: time.Now()}
	cfg, err := config.Load(path)
	if err != nil {
		res.Err = fmt.Errorf("load %s: %w", path, err)
		return res
	}
	res.Config = cfg
	reg, err := config.BuildRegistry(cfg)
	if err != nil {
		res.Err = err
		return res
	}
	res.Registry = reg
	res.Bindings = reg.Len()
	return res
}

// Watcher watches the config file's directory, since editors often replace
// the file by rename, and reports one Result per debounced burst.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(Result)
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	closed  bool
	pending int

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a watcher for path. debounce <= 0 selects DefaultDebounce.
// onChange runs on a timer goroutine, one call at a time.
func New(path string, debounce time.Duration, onChange func(Result)) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("watcher: onChange is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watcher: resolve %s: %w", path, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watcher: watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, debounce: debounce, onChange: onChange, fsw: fsw}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Start launches the event loop.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	workerutil.RunWithPanicRecovery(ctx, "config-watcher", &w.wg, w.loop, workerutil.RecoveryOptions{
		IsShutdown: w.isClosed,
		OnFatal:    w.onFatal,
	})
	slog.Info("[watcher] watching config", "path", w.path, "debounce", w.debounce)
}

// Close stops the watcher. A reload already running completes first.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		timer := w.timer
		w.timer = nil
		w.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		if w.cancel != nil {
			w.cancel()
		}
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Watcher) onFatal(worker string, maxRetries int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	slog.Error("[watcher] event loop gave up, config changes are no longer reloaded",
		"worker", worker,
		"maxRetries", maxRetries,
		"path", w.path,
	)
	w.onChange(Result{Path: w.path, Err: ErrLoopStopped, At: time.Now()})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				w.schedule()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("[watcher] fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) ||
		ev.Op.Has(fsnotify.Rename) || ev.Op.Has(fsnotify.Remove)
}

// schedule restarts the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending++
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	events := w.pending
	w.pending = 0
	w.timer = nil
	// Hold the lock across the reload so callbacks never overlap.
	defer w.mu.Unlock()

	res := Check(w.path)
	if res.Err != nil {
		slog.Warn("[watcher] config reload failed", "path", w.path, "events", events, "error", res.Err)
	} else {
		slog.Info("[watcher] config reloaded", "path", w.path, "events", events, "bindings", res.Bindings)
	}
	w.onChange(res)
}
