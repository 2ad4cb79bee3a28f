package injector

import "chordkit/internal/chord"

// evdevByHID maps HID usages to Linux input event codes (linux/input-event-codes.h).
var evdevByHID = map[chord.ScanCode]uint16{
	chord.KeyA: 30, chord.KeyB: 48, chord.KeyC: 46, chord.KeyD: 32, chord.KeyE: 18,
	chord.KeyF: 33, chord.KeyG: 34, chord.KeyH: 35, chord.KeyI: 23, chord.KeyJ: 36,
	chord.KeyK: 37, chord.KeyL: 38, chord.KeyM: 50, chord.KeyN: 49, chord.KeyO: 24,
	chord.KeyP: 25, chord.KeyQ: 16, chord.KeyR: 19, chord.KeyS: 31, chord.KeyT: 20,
	chord.KeyU: 22, chord.KeyV: 47, chord.KeyW: 17, chord.KeyX: 45, chord.KeyY: 21,
	chord.KeyZ: 44,

	chord.Key1: 2, chord.Key2: 3, chord.Key3: 4, chord.Key4: 5, chord.Key5: 6,
	chord.Key6: 7, chord.Key7: 8, chord.Key8: 9, chord.Key9: 10, chord.Key0: 11,

	chord.KeyEnter:        28,
	chord.KeyEscape:       1,
	chord.KeyBackspace:    14,
	chord.KeyTab:          15,
	chord.KeySpace:        57,
	chord.KeyMinus:        12,
	chord.KeyEqual:        13,
	chord.KeyLeftBracket:  26,
	chord.KeyRightBracket: 27,
	chord.KeyBackslash:    43,
	chord.KeySemicolon:    39,
	chord.KeyApostrophe:   40,
	chord.KeyGrave:        41,
	chord.KeyComma:        51,
	chord.KeyPeriod:       52,
	chord.KeySlash:        53,
	chord.KeyCapsLock:     58,

	chord.KeyF1: 59, chord.KeyF2: 60, chord.KeyF3: 61, chord.KeyF4: 62,
	chord.KeyF5: 63, chord.KeyF6: 64, chord.KeyF7: 65, chord.KeyF8: 66,
	chord.KeyF9: 67, chord.KeyF10: 68, chord.KeyF11: 87, chord.KeyF12: 88,

	chord.KeyPrintScreen: 99,
	chord.KeyScrollLock:  70,
	chord.KeyPause:       119,
	chord.KeyInsert:      110,
	chord.KeyHome:        102,
	chord.KeyPageUp:      104,
	chord.KeyDelete:      111,
	chord.KeyEnd:         107,
	chord.KeyPageDown:    109,
	chord.KeyRight:       106,
	chord.KeyLeft:        105,
	chord.KeyDown:        108,
	chord.KeyUp:          103,
	chord.KeyNumLock:     69,

	chord.KeyF13: 183, chord.KeyF14: 184, chord.KeyF15: 185, chord.KeyF16: 186,
	chord.KeyF17: 187, chord.KeyF18: 188, chord.KeyF19: 189, chord.KeyF20: 190,
	chord.KeyF21: 191, chord.KeyF22: 192, chord.KeyF23: 193, chord.KeyF24: 194,

	chord.KeyLeftCtrl:   29,
	chord.KeyLeftShift:  42,
	chord.KeyLeftAlt:    56,
	chord.KeyLeftGui:    125,
	chord.KeyRightCtrl:  97,
	chord.KeyRightShift: 54,
	chord.KeyRightAlt:   100,
	chord.KeyRightGui:   126,
}

// EvdevCode returns the Linux input event code for a HID usage.
func EvdevCode(code chord.ScanCode) (uint16, bool) {
	ev, ok := evdevByHID[code]
	return ev, ok
}

// set1Code is a PC/AT set-1 make code. Extended codes carry the 0xE0 prefix.
type set1Code struct {
	code     uint16
	extended bool
}

// set1Extended lists usages whose set-1 make code is prefixed with 0xE0 or
// differs from the evdev code.
var set1Extended = map[chord.ScanCode]set1Code{
	chord.KeyRightCtrl:   {code: 0x1D, extended: true},
	chord.KeyRightAlt:    {code: 0x38, extended: true},
	chord.KeyLeftGui:     {code: 0x5B, extended: true},
	chord.KeyRightGui:    {code: 0x5C, extended: true},
	chord.KeyInsert:      {code: 0x52, extended: true},
	chord.KeyHome:        {code: 0x47, extended: true},
	chord.KeyPageUp:      {code: 0x49, extended: true},
	chord.KeyDelete:      {code: 0x53, extended: true},
	chord.KeyEnd:         {code: 0x4F, extended: true},
	chord.KeyPageDown:    {code: 0x51, extended: true},
	chord.KeyRight:       {code: 0x4D, extended: true},
	chord.KeyLeft:        {code: 0x4B, extended: true},
	chord.KeyDown:        {code: 0x50, extended: true},
	chord.KeyUp:          {code: 0x48, extended: true},
	chord.KeyPrintScreen: {code: 0x37, extended: true},

	chord.KeyF13: {code: 0x64}, chord.KeyF14: {code: 0x65}, chord.KeyF15: {code: 0x66},
	chord.KeyF16: {code: 0x67}, chord.KeyF17: {code: 0x68}, chord.KeyF18: {code: 0x69},
	chord.KeyF19: {code: 0x6A}, chord.KeyF20: {code: 0x6B}, chord.KeyF21: {code: 0x6C},
	chord.KeyF22: {code: 0x6D}, chord.KeyF23: {code: 0x6E}, chord.KeyF24: {code: 0x76},
}

// Set1Code returns the set-1 scan code used by SendInput with
// KEYEVENTF_SCANCODE. Pause has no single make code and is unsupported.
func Set1Code(code chord.ScanCode) (scan uint16, extended bool, ok bool) {
	if c, found := set1Extended[code]; found {
		return c.code, c.extended, true
	}
	if code == chord.KeyPause {
		return 0, false, false
	}
	// Below 0x59 the evdev numbering is the set-1 make code.
	ev, found := evdevByHID[code]
	if !found || ev > 0x58 {
		return 0, false, false
	}
	return ev, false, true
}

// Arduino keyboard library encoding used by the bridge firmware.
const (
	arduinoLeftCtrl = 0x80
	// arduinoRawOffset marks a raw HID usage (Keyboard.press(usage + 136)).
	arduinoRawOffset = 0x88
)

// ArduinoCode returns the byte the bridge firmware passes to Keyboard.press.
func ArduinoCode(code chord.ScanCode) (byte, bool) {
	if code.IsModifier() {
		return arduinoLeftCtrl + byte(code-chord.KeyLeftCtrl), true
	}
	if code == chord.ScanNull || int(code)+arduinoRawOffset > 0xFF {
		return 0, false
	}
	return byte(code) + arduinoRawOffset, true
}
