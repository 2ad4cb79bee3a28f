// Package injectortest provides a recording key injector for tests.
package injectortest

import (
	"fmt"
	"strings"
	"sync"

	"chordkit/internal/chord"
)

// Op is a key transition kind.
type Op uint8

const (
	Press Op = iota + 1
	Release
)

func (o Op) String() string {
	switch o {
	case Press:
		return "press"
	case Release:
		return "release"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Event is one successful injector call.
type Event struct {
	Op  Op
	Key chord.ScanCode
}

func (e Event) String() string { return e.Op.String() + "(" + e.Key.String() + ")" }

// P and R build expected events.
func P(key chord.ScanCode) Event { return Event{Op: Press, Key: key} }
func R(key chord.ScanCode) Event { return Event{Op: Release, Key: key} }

// Format renders events as "press(LeftShift) press(A) ...".
func Format(events []Event) string {
	parts := make([]string, len(events))
	for i, ev := range events {
		parts[i] = ev.String()
	}
	return strings.Join(parts, " ")
}

type failure struct {
	err       error
	remaining int // <0 means every call fails
}

// Recorder is a fake injector. Failed calls are not recorded.
type Recorder struct {
	mu       sync.Mutex
	events   []Event
	failures map[Event]*failure
	calls    int

	// Before, when set, runs before each call outside the recorder lock.
	Before func(ev Event)
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{failures: make(map[Event]*failure)}
}

// FailAlways makes every matching call return err.
func (r *Recorder) FailAlways(op Op, key chord.ScanCode, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[Event{Op: op, Key: key}] = &failure{err: err, remaining: -1}
}

// FailTimes makes the next n matching calls return err.
func (r *Recorder) FailTimes(op Op, key chord.ScanCode, n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[Event{Op: op, Key: key}] = &failure{err: err, remaining: n}
}

// ClearFailures removes every scripted failure.
func (r *Recorder) ClearFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.failures)
}

func (r *Recorder) PressKey(code chord.ScanCode) error {
	return r.record(Event{Op: Press, Key: code})
}

func (r *Recorder) ReleaseKey(code chord.ScanCode) error {
	return r.record(Event{Op: Release, Key: code})
}

func (r *Recorder) record(ev Event) error {
	if r.Before != nil {
		r.Before(ev)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if f, ok := r.failures[ev]; ok && f.remaining != 0 {
		if f.remaining > 0 {
			f.remaining--
		}
		return f.err
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Calls returns the number of injector calls, including failed ones.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Reset forgets recorded events. Scripted failures are kept.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.calls = 0
}
