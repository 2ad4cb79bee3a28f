package chord

import (
	"fmt"
	"strconv"
	"strings"
)

var modifierByName = map[string]Modifier{
	"CTRL":    ModCtrl,
	"CONTROL": ModCtrl,
	"SHIFT":   ModShift,
	"ALT":     ModAlt,
	"OPTION":  ModAlt,
	"GUI":     ModGui,
	"WIN":     ModGui,
	"SUPER":   ModGui,
	"META":    ModGui,
	"CMD":     ModGui,
}

var keyByUpperName = func() map[string]ScanCode {
	out := make(map[string]ScanCode, len(nameByKey)+len(keyAliases))
	for code, name := range nameByKey {
		out[strings.ToUpper(name)] = code
	}
	for alias, code := range keyAliases {
		out[alias] = code
	}
	return out
}()

// KeyByName resolves a key name ("A", "F13", "Space", "Esc") or a hex code
// ("0x2C") to its scan code.
func KeyByName(name string) (ScanCode, error) {
	token := strings.ToUpper(strings.TrimSpace(name))
	if token == "" {
		return ScanNull, fmt.Errorf("missing key token")
	}
	if code, ok := keyByUpperName[token]; ok {
		return code, nil
	}
	if strings.HasPrefix(token, "0X") {
		value, err := strconv.ParseUint(token[2:], 16, 8)
		if err != nil {
			return ScanNull, fmt.Errorf("invalid hex key %q", name)
		}
		if value == 0 {
			return ScanNull, fmt.Errorf("key code 0x00 is reserved")
		}
		return ScanCode(value), nil
	}
	return ScanNull, fmt.Errorf("unknown key %q", name)
}

// Parse parses a chord like "Shift+A", "Ctrl+F13", "Space" or "Alt+0x06".
// At most one modifier is allowed.
func Parse(spec string) (Chord, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return Null, fmt.Errorf("chord spec is empty")
	}

	// The key table has no "+" key, so a plain split is enough.
	parts := strings.Split(raw, "+")
	if len(parts) > 2 {
		return Null, fmt.Errorf("chord %q has more than one modifier", raw)
	}

	mod := ModNone
	if len(parts) == 2 {
		name := strings.ToUpper(strings.TrimSpace(parts[0]))
		m, ok := modifierByName[name]
		if !ok {
			return Null, fmt.Errorf("unknown modifier %q in chord %q", parts[0], raw)
		}
		mod = m
	}

	key, err := KeyByName(parts[len(parts)-1])
	if err != nil {
		return Null, fmt.Errorf("chord %q: %w", raw, err)
	}

	c := New(mod, key)
	if err := c.Validate(); err != nil {
		return Null, fmt.Errorf("chord %q: %w", raw, err)
	}
	return c, nil
}
