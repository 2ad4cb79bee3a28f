// Package dispatch turns action IDs into timed key events.
//
// An Engine resolves an action through a registry.Registry and emits the
// bound chord through an Injector as modifier-down, key-down, hold, key-up,
// modifier-up. Dispatches are serialized: one chord is in flight at a time
// and concurrent Fire calls wait their turn. The engine tracks which keys it
// currently holds so a chord whose key is still down is refused, and so
// Close can release whatever is left when the process shuts down.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chordkit/internal/chord"
	"chordkit/internal/registry"
)

// Injector delivers key transitions to the host.
type Injector interface {
	PressKey(code chord.ScanCode) error
	ReleaseKey(code chord.ScanCode) error
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Hold     HoldPolicy
	Observer Observer
}

// Engine serializes chord dispatch through one injector.
type Engine struct {
	reg      *registry.Registry
	injector Injector
	hold     HoldPolicy
	observer Observer

	// lock has capacity one; holding the token means owning the injector.
	lock   chan struct{}
	closed atomic.Bool

	heldMu sync.Mutex
	held   [256]bool

	now func() time.Time
}

// New creates an engine bound to reg and inj.
func New(reg *registry.Registry, inj Injector, opts Options) (*Engine, error) {
	if reg == nil {
		return nil, errors.New("dispatch: registry is required")
	}
	if inj == nil {
		return nil, errors.New("dispatch: injector is required")
	}
	hold := opts.Hold
	if hold == nil {
		hold = FixedHold(DefaultHold)
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Engine{
		reg:      reg,
		injector: inj,
		hold:     hold,
		observer: observer,
		lock:     make(chan struct{}, 1),
		now:      time.Now,
	}, nil
}

// Registry returns the table the engine resolves actions against.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Fire emits the chord bound to id and blocks until it has been released.
//
// The NULL action returns nil without touching the injector. If ctx ends
// while waiting for an earlier dispatch, the context error is returned and
// nothing is pressed. If ctx ends during the hold, the chord is released
// before Fire returns ErrCancelled.
func (e *Engine) Fire(ctx context.Context, id registry.ActionID) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	c, err := e.reg.Lookup(id)
	if err != nil {
		derr := &DispatchError{Action: id, Err: err}
		e.observer.Dispatched(Outcome{Action: id, Tag: Tag(ctx), Started: e.now(), Err: derr})
		return derr
	}
	if c.IsNull() {
		return nil
	}

	started := e.now()
	err = e.fire(ctx, id, c)
	if errors.Is(err, ErrEngineClosed) {
		// Closed while waiting for the lock; nothing was dispatched.
		return err
	}
	e.observer.Dispatched(Outcome{
		Action:   id,
		Chord:    c,
		Tag:      Tag(ctx),
		Started:  started,
		Duration: e.now().Sub(started),
		Err:      err,
	})
	return err
}

func (e *Engine) fire(ctx context.Context, id registry.ActionID, c chord.Chord) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.releaseLock()

	if e.closed.Load() {
		return ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tag := Tag(ctx)
	if e.isHeld(c.Key()) {
		return &DispatchError{Action: id, Chord: c, Err: fmt.Errorf("%w: %s", ErrKeyAlreadyHeld, c.Key())}
	}

	pressed := make([]chord.ScanCode, 0, 2)
	if mod, ok := c.Modifier().ScanCode(); ok && !e.isHeld(mod) {
		if err := e.press(id, tag, mod); err != nil {
			return e.abort(id, tag, c, pressed, nil, err)
		}
		pressed = append(pressed, mod)
	}
	if err := e.press(id, tag, c.Key()); err != nil {
		return e.abort(id, tag, c, pressed, nil, err)
	}
	pressed = append(pressed, c.Key())

	holdErr := sleepContext(ctx, e.hold.Hold(c))

	for i := len(pressed) - 1; i >= 0; i-- {
		if err := e.release(id, tag, pressed[i]); err != nil {
			return e.abort(id, tag, c, pressed[:i], []chord.ScanCode{pressed[i]}, err)
		}
	}

	if holdErr != nil {
		slog.Debug("[dispatch] hold interrupted, chord released", "action", int(id), "chord", c.String())
		return &DispatchError{Action: id, Chord: c, Err: fmt.Errorf("%w: %w", ErrCancelled, holdErr)}
	}
	slog.Debug("[dispatch] chord emitted", "action", int(id), "chord", c.String())
	return nil
}

// abort releases remaining keys in reverse order after an injector failure.
// Keys whose release fails stay in the held set and are reported as stuck.
func (e *Engine) abort(id registry.ActionID, tag string, c chord.Chord, remaining, stuck []chord.ScanCode, cause error) error {
	for i := len(remaining) - 1; i >= 0; i-- {
		if err := e.release(id, tag, remaining[i]); err != nil {
			slog.Warn("[dispatch] cleanup release failed", "action", int(id), "key", remaining[i].String(), "error", err)
			stuck = append(stuck, remaining[i])
		}
	}
	if len(stuck) > 0 {
		slog.Error("[dispatch] keys left held after injection failure", "action", int(id), "chord", c.String(), "stuck", len(stuck))
	}
	return &DispatchError{
		Action: id,
		Chord:  c,
		Err:    fmt.Errorf("%w: %w", ErrInjectionFailure, cause),
		Stuck:  stuck,
	}
}

// ReleaseAll force-releases every held key, primary keys before modifiers.
func (e *Engine) ReleaseAll(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.releaseLock()
	return e.releaseAllLocked()
}

// Close waits for the in-flight dispatch, releases every held key and
// refuses further dispatches. Calling Close again retries any key whose
// release failed.
func (e *Engine) Close() error {
	e.lock <- struct{}{}
	defer e.releaseLock()
	if !e.closed.Swap(true) {
		slog.Debug("[dispatch] engine closing")
	}
	return e.releaseAllLocked()
}

func (e *Engine) releaseAllLocked() error {
	held := e.Held()
	if len(held) == 0 {
		return nil
	}
	ordered := make([]chord.ScanCode, 0, len(held))
	for _, code := range held {
		if !code.IsModifier() {
			ordered = append(ordered, code)
		}
	}
	for _, code := range held {
		if code.IsModifier() {
			ordered = append(ordered, code)
		}
	}

	var errs []error
	for _, code := range ordered {
		if err := e.release(registry.NullAction, "", code); err != nil {
			errs = append(errs, fmt.Errorf("%w: release %s: %w", ErrInjectionFailure, code, err))
		}
	}
	if len(errs) > 0 {
		slog.Warn("[dispatch] force release incomplete", "failed", len(errs), "total", len(ordered))
		return errors.Join(errs...)
	}
	slog.Info("[dispatch] released held keys", "count", len(ordered))
	return nil
}

// Held returns the currently held keys in ascending scan-code order.
func (e *Engine) Held() []chord.ScanCode {
	e.heldMu.Lock()
	defer e.heldMu.Unlock()
	var out []chord.ScanCode
	for code, down := range e.held {
		if down {
			out = append(out, chord.ScanCode(code))
		}
	}
	return out
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool { return e.closed.Load() }

func (e *Engine) press(id registry.ActionID, tag string, code chord.ScanCode) error {
	if err := e.injector.PressKey(code); err != nil {
		return fmt.Errorf("press %s: %w", code, err)
	}
	e.setHeld(code, true)
	e.observer.KeyEvent(KeyEvent{Action: id, Tag: tag, Key: code, Down: true, At: e.now()})
	return nil
}

func (e *Engine) release(id registry.ActionID, tag string, code chord.ScanCode) error {
	if err := e.injector.ReleaseKey(code); err != nil {
		return fmt.Errorf("release %s: %w", code, err)
	}
	e.setHeld(code, false)
	e.observer.KeyEvent(KeyEvent{Action: id, Tag: tag, Key: code, Down: false, At: e.now()})
	return nil
}

func (e *Engine) isHeld(code chord.ScanCode) bool {
	e.heldMu.Lock()
	defer e.heldMu.Unlock()
	return e.held[code]
}

func (e *Engine) setHeld(code chord.ScanCode, down bool) {
	e.heldMu.Lock()
	e.held[code] = down
	e.heldMu.Unlock()
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) releaseLock() {
	select {
	case <-e.lock:
	default:
		slog.Warn("[dispatch] releaseLock: lock not held (possible double-release)")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
