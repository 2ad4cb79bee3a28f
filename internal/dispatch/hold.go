package dispatch

import (
	"time"

	"chordkit/internal/chord"
)

// DefaultHold is the key-down interval used when no policy is configured.
const DefaultHold = 30 * time.Millisecond

// HoldPolicy decides how long the primary key stays down.
type HoldPolicy interface {
	Hold(c chord.Chord) time.Duration
}

// HoldFunc adapts a function to HoldPolicy.
type HoldFunc func(c chord.Chord) time.Duration

func (f HoldFunc) Hold(c chord.Chord) time.Duration { return f(c) }

// FixedHold holds every chord for the same interval.
type FixedHold time.Duration

func (h FixedHold) Hold(chord.Chord) time.Duration { return time.Duration(h) }

// NoHold releases immediately after the press.
const NoHold = FixedHold(0)
