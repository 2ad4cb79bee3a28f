// Package workerutil supervises long-lived background goroutines.
package workerutil

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	// defaultMaxRetries bounds restarts to roughly 30s of backoff.
	defaultMaxRetries = 10
)

// RecoveryOptions configures RunWithPanicRecovery. Zero numeric fields
// select defaults; nil callbacks are skipped. MaxRetries of 1 runs the
// worker once with no restart.
type RecoveryOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int

	// OnPanic runs after each recovered panic, before the backoff wait.
	// attempt is 1-based.
	OnPanic func(worker string, attempt int, recovered any)

	// OnFatal runs once the worker has panicked MaxRetries times.
	OnFatal func(worker string, maxRetries int)

	// IsShutdown stops restarts while the process is tearing down.
	IsShutdown func() bool
}

func (opts RecoveryOptions) withDefaults() RecoveryOptions {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		slog.Warn("[DEBUG-WORKER] MaxBackoff < InitialBackoff, using InitialBackoff as MaxBackoff",
			"initialBackoff", opts.InitialBackoff,
			"maxBackoff", opts.MaxBackoff,
		)
		opts.MaxBackoff = opts.InitialBackoff
	}
	return opts
}

// RunWithPanicRecovery runs fn on a goroutine tracked by wg. A panic is
// logged with its stack and fn is restarted after an exponential backoff,
// up to opts.MaxRetries times. A normal return or a cancelled ctx ends the
// worker.
func RunWithPanicRecovery(
	ctx context.Context,
	name string,
	wg *sync.WaitGroup,
	fn func(ctx context.Context),
	opts RecoveryOptions,
) {
	opts = opts.withDefaults()
	wg.Go(func() {
		supervise(ctx, name, fn, opts)
	})
}

func supervise(ctx context.Context, name string, fn func(ctx context.Context), opts RecoveryOptions) {
	delay := opts.InitialBackoff

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		recovered, panicked := runOnce(ctx, fn)
		if !panicked || ctx.Err() != nil {
			return
		}

		slog.Error("[DEBUG-PANIC] worker recovered from panic",
			"worker", name,
			"panic", recovered,
			"attempt", attempt,
		)
		// Callbacks are skipped during shutdown; they may touch torn-down state.
		if opts.IsShutdown != nil && opts.IsShutdown() {
			slog.Info("[DEBUG-PANIC] shutdown in progress, not restarting", "worker", name)
			return
		}
		if opts.OnPanic != nil {
			opts.OnPanic(name, attempt, recovered)
		}
		if attempt == opts.MaxRetries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		slog.Warn("[DEBUG-PANIC] restarting worker", "worker", name, "attempt", attempt+1)
		delay = nextBackoff(delay, opts.MaxBackoff)
	}

	slog.Error("[DEBUG-PANIC] worker exceeded max retries, giving up",
		"worker", name,
		"maxRetries", opts.MaxRetries,
	)
	if opts.OnFatal != nil {
		opts.OnFatal(name, opts.MaxRetries)
	}
}

func runOnce(ctx context.Context, fn func(ctx context.Context)) (recovered any, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("[DEBUG-PANIC] stack", "stack", string(debug.Stack()))
			recovered, panicked = r, true
		}
	}()
	fn(ctx)
	return nil, false
}

// nextBackoff doubles current, capped at maxBackoff and guarded against
// overflow.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	next := current * 2
	if next > maxBackoff || next < current {
		return maxBackoff
	}
	return next
}
