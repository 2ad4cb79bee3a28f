package dispatch

import (
	"context"
	"time"

	"chordkit/internal/chord"
	"chordkit/internal/registry"
)

// KeyEvent is one emitted key transition.
type KeyEvent struct {
	Action registry.ActionID
	// Tag is the dispatching context's tag; empty for ReleaseAll and Close.
	Tag    string
	Key    chord.ScanCode
	Down   bool
	At     time.Time
}

// Outcome summarizes one Fire call for a non-NULL action.
type Outcome struct {
	Action   registry.ActionID
	Chord    chord.Chord
	Tag      string
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Observer receives engine activity. KeyEvent runs while the dispatch lock
// is held, so implementations must return quickly.
type Observer interface {
	KeyEvent(ev KeyEvent)
	Dispatched(out Outcome)
}

type nopObserver struct{}

func (nopObserver) KeyEvent(KeyEvent)  {}
func (nopObserver) Dispatched(Outcome) {}

type tagKey struct{}

// WithTag returns a context whose dispatches carry tag in their KeyEvent
// and Outcome, e.g. an IPC request ID.
func WithTag(ctx context.Context, tag string) context.Context {
	return context.WithValue(ctx, tagKey{}, tag)
}

// Tag returns the tag set by WithTag, or "".
func Tag(ctx context.Context) string {
	tag, _ := ctx.Value(tagKey{}).(string)
	return tag
}
