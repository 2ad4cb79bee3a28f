// Package registry maps action IDs to chords.
//
// A Registry is built once through a Builder, which rejects reserved-slot
// overwrites and ambiguous chords eagerly, and is read-only afterwards. The
// table is a fixed array indexed by ActionID, so lookups never allocate.
package registry

import (
	"errors"
	"fmt"

	"chordkit/internal/chord"
)

// Capacity is the number of addressable action slots.
const Capacity = 256

// ActionID identifies a logical action.
type ActionID int

// NullAction is the reserved no-op slot.
const NullAction ActionID = 0

// Valid reports whether id addresses a slot.
func (id ActionID) Valid() bool { return id >= 0 && id < Capacity }

var (
	// ErrUnknownAction is returned by Lookup for out-of-range or unpopulated IDs.
	ErrUnknownAction = errors.New("unknown action")
	// ErrReservedSlot is returned when slot 0 is bound to a non-NULL chord.
	ErrReservedSlot = errors.New("reserved slot violation")
	// ErrDuplicateBinding is returned when one chord is bound to two actions.
	ErrDuplicateBinding = errors.New("duplicate binding")
	// ErrInvalidChord is returned for chords that break the chord invariants.
	ErrInvalidChord = errors.New("invalid chord")
	// ErrActionOutOfRange is returned by Register for IDs outside [0, Capacity).
	ErrActionOutOfRange = errors.New("action id out of range")
)

// Binding is one populated registry slot.
type Binding struct {
	Action ActionID
	Chord  chord.Chord
}

type slot struct {
	chord chord.Chord
	bound bool
}

// Registry is an immutable action table. Safe for concurrent readers.
type Registry struct {
	slots   [Capacity]slot
	byChord map[chord.Chord]ActionID
	count   int
}

// Lookup returns the chord bound to id.
func (r *Registry) Lookup(id ActionID) (chord.Chord, error) {
	if !id.Valid() || !r.slots[id].bound {
		return chord.Null, fmt.Errorf("%w: %d", ErrUnknownAction, int(id))
	}
	return r.slots[id].chord, nil
}

// ActionFor returns the action bound to c.
func (r *Registry) ActionFor(c chord.Chord) (ActionID, bool) {
	if c.IsNull() {
		return NullAction, true
	}
	id, ok := r.byChord[c]
	return id, ok
}

// Len returns the number of non-NULL bindings.
func (r *Registry) Len() int { return r.count }

// Bindings returns the non-NULL bindings in ascending action order.
func (r *Registry) Bindings() []Binding {
	out := make([]Binding, 0, r.count)
	for id := 1; id < Capacity; id++ {
		if r.slots[id].bound {
			out = append(out, Binding{Action: ActionID(id), Chord: r.slots[id].chord})
		}
	}
	return out
}

// Builder populates a Registry. Not safe for concurrent use.
type Builder struct {
	slots   [Capacity]slot
	byChord map[chord.Chord]ActionID
}

// NewBuilder returns a builder with the NULL action pre-registered.
func NewBuilder() *Builder {
	b := &Builder{byChord: make(map[chord.Chord]ActionID)}
	b.slots[NullAction] = slot{chord: chord.Null, bound: true}
	return b
}

// Register binds c to id, replacing any previous binding for id.
func (b *Builder) Register(id ActionID, c chord.Chord) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %d", ErrActionOutOfRange, int(id))
	}
	if id == NullAction {
		if !c.IsNull() {
			return fmt.Errorf("%w: slot 0 must stay NULL, got %s", ErrReservedSlot, c)
		}
		return nil
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: action %d: %w", ErrInvalidChord, int(id), err)
	}
	if owner, taken := b.byChord[c]; taken && owner != id {
		return fmt.Errorf("%w: %s is bound to both action %d and action %d", ErrDuplicateBinding, c, int(owner), int(id))
	}

	if prev := b.slots[id]; prev.bound {
		delete(b.byChord, prev.chord)
	}
	b.slots[id] = slot{chord: c, bound: true}
	b.byChord[c] = id
	return nil
}

// Build snapshots the current table into a Registry.
func (b *Builder) Build() *Registry {
	r := &Registry{
		slots:   b.slots,
		byChord: make(map[chord.Chord]ActionID, len(b.byChord)),
	}
	for c, id := range b.byChord {
		r.byChord[c] = id
	}
	r.count = len(r.byChord)
	return r
}

// FromBindings registers every binding and returns all violations joined.
func FromBindings(bindings []Binding) (*Registry, error) {
	b := NewBuilder()
	var errs []error
	for _, binding := range bindings {
		if err := b.Register(binding.Action, binding.Chord); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return b.Build(), nil
}
