// Package chord defines the key chord value type: one optional modifier plus
// a primary HID scan code.
package chord

import "fmt"

// Modifier is the optional modifier key of a chord.
type Modifier uint8

const (
	ModNone Modifier = iota
	ModCtrl
	ModShift
	ModAlt
	ModGui
)

// Valid reports whether m is one of the defined modifiers.
func (m Modifier) Valid() bool { return m <= ModGui }

// ScanCode returns the scan code emitted for the modifier key.
// ModNone (and invalid values) report false.
func (m Modifier) ScanCode() (ScanCode, bool) {
	switch m {
	case ModCtrl:
		return KeyLeftCtrl, true
	case ModShift:
		return KeyLeftShift, true
	case ModAlt:
		return KeyLeftAlt, true
	case ModGui:
		return KeyLeftGui, true
	default:
		return ScanNull, false
	}
}

func (m Modifier) String() string {
	switch m {
	case ModNone:
		return "None"
	case ModCtrl:
		return "Ctrl"
	case ModShift:
		return "Shift"
	case ModAlt:
		return "Alt"
	case ModGui:
		return "Gui"
	default:
		return fmt.Sprintf("Modifier(%d)", uint8(m))
	}
}

// ScanCode is a USB HID keyboard usage ID.
type ScanCode uint8

// ScanNull is the reserved empty scan code.
const ScanNull ScanCode = 0x00

// IsModifier reports whether s is one of the eight HID modifier usages.
func (s ScanCode) IsModifier() bool { return s >= KeyLeftCtrl && s <= KeyRightGui }

// String returns the key name, or a hex literal for unnamed codes.
func (s ScanCode) String() string {
	if name, ok := nameByKey[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", uint8(s))
}

// Chord is an immutable modifier+key pair.
// The zero value is Null.
type Chord struct {
	modifier Modifier
	key      ScanCode
}

// Null is the no-op chord bound to the reserved action slot.
var Null = Chord{}

// New builds a chord. Validation happens at registration time.
func New(mod Modifier, key ScanCode) Chord {
	return Chord{modifier: mod, key: key}
}

// Modifier returns the chord modifier.
func (c Chord) Modifier() Modifier { return c.modifier }

// Key returns the primary scan code.
func (c Chord) Key() ScanCode { return c.key }

// IsNull reports whether c is the no-op chord.
func (c Chord) IsNull() bool { return c == Null }

// Validate checks the invariants a non-NULL chord must satisfy.
func (c Chord) Validate() error {
	if !c.modifier.Valid() {
		return fmt.Errorf("invalid modifier %d", uint8(c.modifier))
	}
	if c.key == ScanNull {
		return fmt.Errorf("key must not be the null scan code")
	}
	if code, ok := c.modifier.ScanCode(); ok && code == c.key {
		return fmt.Errorf("key %s duplicates its own modifier", c.key)
	}
	return nil
}

// String returns the canonical "Modifier+Key" form accepted by Parse.
func (c Chord) String() string {
	if c.modifier == ModNone {
		return c.key.String()
	}
	return c.modifier.String() + "+" + c.key.String()
}
