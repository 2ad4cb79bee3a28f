package chord

// HID keyboard usage IDs (USB HID Usage Tables, page 0x07).
const (
	KeyA ScanCode = 0x04 + iota
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
	KeyG
	KeyH
	KeyI
	KeyJ
	KeyK
	KeyL
	KeyM
	KeyN
	KeyO
	KeyP
	KeyQ
	KeyR
	KeyS
	KeyT
	KeyU
	KeyV
	KeyW
	KeyX
	KeyY
	KeyZ
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	Key0
	KeyEnter
	KeyEscape
	KeyBackspace
	KeyTab
	KeySpace
	KeyMinus
	KeyEqual
	KeyLeftBracket
	KeyRightBracket
	KeyBackslash
)

const (
	KeySemicolon ScanCode = 0x33 + iota
	KeyApostrophe
	KeyGrave
	KeyComma
	KeyPeriod
	KeySlash
	KeyCapsLock
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
	KeyPrintScreen
	KeyScrollLock
	KeyPause
	KeyInsert
	KeyHome
	KeyPageUp
	KeyDelete
	KeyEnd
	KeyPageDown
	KeyRight
	KeyLeft
	KeyDown
	KeyUp
	KeyNumLock
)

const (
	KeyF13 ScanCode = 0x68 + iota
	KeyF14
	KeyF15
	KeyF16
	KeyF17
	KeyF18
	KeyF19
	KeyF20
	KeyF21
	KeyF22
	KeyF23
	KeyF24
)

const (
	KeyLeftCtrl ScanCode = 0xE0 + iota
	KeyLeftShift
	KeyLeftAlt
	KeyLeftGui
	KeyRightCtrl
	KeyRightShift
	KeyRightAlt
	KeyRightGui
)

var nameByKey = map[ScanCode]string{
	KeyA: "A", KeyB: "B", KeyC: "C", KeyD: "D", KeyE: "E", KeyF: "F", KeyG: "G",
	KeyH: "H", KeyI: "I", KeyJ: "J", KeyK: "K", KeyL: "L", KeyM: "M", KeyN: "N",
	KeyO: "O", KeyP: "P", KeyQ: "Q", KeyR: "R", KeyS: "S", KeyT: "T", KeyU: "U",
	KeyV: "V", KeyW: "W", KeyX: "X", KeyY: "Y", KeyZ: "Z",

	Key1: "1", Key2: "2", Key3: "3", Key4: "4", Key5: "5",
	Key6: "6", Key7: "7", Key8: "8", Key9: "9", Key0: "0",

	KeyEnter:        "Enter",
	KeyEscape:       "Escape",
	KeyBackspace:    "Backspace",
	KeyTab:          "Tab",
	KeySpace:        "Space",
	KeyMinus:        "Minus",
	KeyEqual:        "Equal",
	KeyLeftBracket:  "LeftBracket",
	KeyRightBracket: "RightBracket",
	KeyBackslash:    "Backslash",
	KeySemicolon:    "Semicolon",
	KeyApostrophe:   "Apostrophe",
	KeyGrave:        "Grave",
	KeyComma:        "Comma",
	KeyPeriod:       "Period",
	KeySlash:        "Slash",
	KeyCapsLock:     "CapsLock",

	KeyF1: "F1", KeyF2: "F2", KeyF3: "F3", KeyF4: "F4", KeyF5: "F5", KeyF6: "F6",
	KeyF7: "F7", KeyF8: "F8", KeyF9: "F9", KeyF10: "F10", KeyF11: "F11", KeyF12: "F12",
	KeyF13: "F13", KeyF14: "F14", KeyF15: "F15", KeyF16: "F16", KeyF17: "F17", KeyF18: "F18",
	KeyF19: "F19", KeyF20: "F20", KeyF21: "F21", KeyF22: "F22", KeyF23: "F23", KeyF24: "F24",

	KeyPrintScreen: "PrintScreen",
	KeyScrollLock:  "ScrollLock",
	KeyPause:       "Pause",
	KeyInsert:      "Insert",
	KeyHome:        "Home",
	KeyPageUp:      "PageUp",
	KeyDelete:      "Delete",
	KeyEnd:         "End",
	KeyPageDown:    "PageDown",
	KeyRight:       "Right",
	KeyLeft:        "Left",
	KeyDown:        "Down",
	KeyUp:          "Up",
	KeyNumLock:     "NumLock",

	KeyLeftCtrl:   "LeftCtrl",
	KeyLeftShift:  "LeftShift",
	KeyLeftAlt:    "LeftAlt",
	KeyLeftGui:    "LeftGui",
	KeyRightCtrl:  "RightCtrl",
	KeyRightShift: "RightShift",
	KeyRightAlt:   "RightAlt",
	KeyRightGui:   "RightGui",
}

// keyAliases are accepted by KeyByName in addition to the canonical names.
var keyAliases = map[string]ScanCode{
	"RETURN":    KeyEnter,
	"ESC":       KeyEscape,
	"DEL":       KeyDelete,
	"INS":       KeyInsert,
	"PGUP":      KeyPageUp,
	"PGDN":      KeyPageDown,
	"BACKQUOTE": KeyGrave,
	"`":         KeyGrave,
	"-":         KeyMinus,
	"=":         KeyEqual,
	",":         KeyComma,
	".":         KeyPeriod,
	"/":         KeySlash,
	";":         KeySemicolon,
	"'":         KeyApostrophe,
	"[":         KeyLeftBracket,
	"]":         KeyRightBracket,
	"\\":        KeyBackslash,
}
