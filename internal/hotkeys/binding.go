// Package hotkeys registers system-wide trigger hotkeys.
//
// Specs such as "Ctrl+Shift+F1" parse on every platform into Win32
// modifier masks and virtual-key codes; only Windows registers them with
// the OS.
package hotkeys

// Modifier is a Win32 hotkey modifier bitmask.
type Modifier uint32

// VKey is a Win32 virtual-key code.
type VKey uint32

const (
	ModAlt     Modifier = 0x0001
	ModControl Modifier = 0x0002
	ModShift   Modifier = 0x0004
	ModWin     Modifier = 0x0008
	// modNoRepeat suppresses auto-repeat WM_HOTKEY messages while held.
	modNoRepeat Modifier = 0x4000
)

// Binding is a parsed hotkey. Construct only via ParseBinding.
type Binding struct {
	modifiers  Modifier
	key        VKey
	normalized string
}

// Modifiers returns the modifier bitmask.
func (b Binding) Modifiers() Modifier { return b.modifiers }

// Key returns the virtual-key code.
func (b Binding) Key() VKey { return b.key }

// Normalized returns the canonical spelling, e.g. "Ctrl+Shift+F1".
func (b Binding) Normalized() string { return b.normalized }

// ParseAll parses specs in order and returns the first error, prefixed
// with the offending index. Two specs with the same normalized form are
// rejected because the OS would deliver only one of them.
func ParseAll(specs []string) ([]Binding, error) {
	out := make([]Binding, 0, len(specs))
	seen := make(map[string]int, len(specs))
	for i, spec := range specs {
		b, err := ParseBinding(spec)
		if err != nil {
			return nil, &SpecError{Index: i, Spec: spec, Err: err}
		}
		if prev, dup := seen[b.normalized]; dup {
			return nil, &SpecError{Index: i, Spec: spec, Err: &duplicateError{first: prev, normalized: b.normalized}}
		}
		seen[b.normalized] = i
		out = append(out, b)
	}
	return out, nil
}
