package hotkeys

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	vkBack   VKey = 0x08
	vkTab    VKey = 0x09
	vkReturn VKey = 0x0D
	vkPause  VKey = 0x13
	vkEscape VKey = 0x1B
	vkSpace  VKey = 0x20
	vkPrior  VKey = 0x21
	vkNext   VKey = 0x22
	vkEnd    VKey = 0x23
	vkHome   VKey = 0x24
	vkLeft   VKey = 0x25
	vkUp     VKey = 0x26
	vkRight  VKey = 0x27
	vkDown   VKey = 0x28
	vkInsert VKey = 0x2D
	vkDelete VKey = 0x2E
	vkF1     VKey = 0x70
	vkF24    VKey = 0x87
	vkScroll VKey = 0x91
	vkOem3   VKey = 0xC0
)

var modifierByName = map[string]Modifier{
	"CTRL":    ModControl,
	"CONTROL": ModControl,
	"SHIFT":   ModShift,
	"ALT":     ModAlt,
	"WIN":     ModWin,
	"SUPER":   ModWin,
	"GUI":     ModWin,
}

// modifierOrder fixes the normalized spelling regardless of input order.
var modifierOrder = []struct {
	mod  Modifier
	name string
}{
	{ModControl, "Ctrl"},
	{ModAlt, "Alt"},
	{ModShift, "Shift"},
	{ModWin, "Win"},
}

type namedKey struct {
	key  VKey
	name string
}

var keyByName = map[string]namedKey{
	"SPACE":      {vkSpace, "Space"},
	"TAB":        {vkTab, "Tab"},
	"ENTER":      {vkReturn, "Enter"},
	"RETURN":     {vkReturn, "Enter"},
	"ESC":        {vkEscape, "Escape"},
	"ESCAPE":     {vkEscape, "Escape"},
	"BACKSPACE":  {vkBack, "Backspace"},
	"DELETE":     {vkDelete, "Delete"},
	"DEL":        {vkDelete, "Delete"},
	"INSERT":     {vkInsert, "Insert"},
	"INS":        {vkInsert, "Insert"},
	"HOME":       {vkHome, "Home"},
	"END":        {vkEnd, "End"},
	"PAGEUP":     {vkPrior, "PageUp"},
	"PGUP":       {vkPrior, "PageUp"},
	"PAGEDOWN":   {vkNext, "PageDown"},
	"PGDN":       {vkNext, "PageDown"},
	"LEFT":       {vkLeft, "Left"},
	"RIGHT":      {vkRight, "Right"},
	"UP":         {vkUp, "Up"},
	"DOWN":       {vkDown, "Down"},
	"PAUSE":      {vkPause, "Pause"},
	"BREAK":      {vkPause, "Pause"},
	"SCROLLLOCK": {vkScroll, "ScrollLock"},
	"`":          {vkOem3, "`"},
	"BACKQUOTE":  {vkOem3, "`"},
	"GRAVE":      {vkOem3, "`"},
}

// ParseBinding parses a spec like "Ctrl+Shift+F12". At least one modifier
// is required; repeated modifiers are folded.
func ParseBinding(spec string) (Binding, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return Binding{}, fmt.Errorf("hotkey spec is empty")
	}

	parts := strings.Split(raw, "+")
	if len(parts) < 2 {
		return Binding{}, fmt.Errorf("hotkey must include modifiers and key: %s", raw)
	}

	var modifiers Modifier
	for _, token := range parts[:len(parts)-1] {
		mod, ok := modifierByName[strings.ToUpper(strings.TrimSpace(token))]
		if !ok {
			return Binding{}, fmt.Errorf("unknown modifier %q in hotkey %q", token, raw)
		}
		modifiers |= mod
	}

	key, keyName, err := parseKey(parts[len(parts)-1])
	if err != nil {
		return Binding{}, err
	}

	names := make([]string, 0, len(modifierOrder)+1)
	for _, m := range modifierOrder {
		if modifiers&m.mod != 0 {
			names = append(names, m.name)
		}
	}
	names = append(names, keyName)
	return Binding{
		modifiers:  modifiers,
		key:        key,
		normalized: strings.Join(names, "+"),
	}, nil
}

func parseKey(raw string) (VKey, string, error) {
	token := strings.ToUpper(strings.TrimSpace(raw))
	if token == "" {
		return 0, "", fmt.Errorf("missing hotkey key token")
	}

	if k, ok := keyByName[token]; ok {
		return k.key, k.name, nil
	}
	if len(token) == 1 {
		ch := token[0]
		if (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			return VKey(ch), token, nil
		}
	}
	if n, ok := functionKeyNumber(token); ok {
		return vkF1 + VKey(n-1), fmt.Sprintf("F%d", n), nil
	}
	if strings.HasPrefix(token, "0X") {
		value, err := strconv.ParseUint(token[2:], 16, 8)
		if err != nil {
			return 0, "", fmt.Errorf("invalid hex key %q", raw)
		}
		if value == 0 {
			return 0, "", fmt.Errorf("key code 0x00 is not a valid virtual key")
		}
		return VKey(value), fmt.Sprintf("0x%02X", value), nil
	}
	return 0, "", fmt.Errorf("unknown key %q in hotkey spec", raw)
}

// functionKeyNumber parses F1..F24.
func functionKeyNumber(token string) (int, bool) {
	if len(token) < 2 || token[0] != 'F' {
		return 0, false
	}
	n, err := strconv.Atoi(token[1:])
	if err != nil || n < 1 || n > int(vkF24-vkF1)+1 {
		return 0, false
	}
	return n, true
}
