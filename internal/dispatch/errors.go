package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"chordkit/internal/chord"
	"chordkit/internal/registry"
)

// Dispatch errors. Registry lookups fail with registry.ErrUnknownAction.
var (
	// ErrKeyAlreadyHeld indicates the chord's primary key is still pressed.
	ErrKeyAlreadyHeld = errors.New("dispatch: key already held")

	// ErrInjectionFailure indicates the key injector failed mid-sequence.
	ErrInjectionFailure = errors.New("dispatch: injection failure")

	// ErrCancelled indicates the caller's context ended during the hold.
	// The chord was still released before returning.
	ErrCancelled = errors.New("dispatch: cancelled")

	// ErrEngineClosed indicates Fire was called after Close.
	ErrEngineClosed = errors.New("dispatch: engine closed")
)

// DispatchError describes a failed dispatch of one action.
type DispatchError struct {
	Action registry.ActionID
	Chord  chord.Chord
	Err    error
	// Stuck lists keys whose release failed; they stay in the held set.
	Stuck []chord.ScanCode
}

func (e *DispatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "action %d (%s): %v", int(e.Action), e.Chord, e.Err)
	if len(e.Stuck) > 0 {
		names := make([]string, len(e.Stuck))
		for i, code := range e.Stuck {
			names[i] = code.String()
		}
		fmt.Fprintf(&b, " (still held: %s)", strings.Join(names, ", "))
	}
	return b.String()
}

func (e *DispatchError) Unwrap() error { return e.Err }
