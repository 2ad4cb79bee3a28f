package chord

import (
	"strings"
	"testing"
)

func TestParseSuccess(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantMod Modifier
		wantKey ScanCode
		wantStr string
	}{
		{name: "shift letter", spec: "Shift+A", wantMod: ModShift, wantKey: KeyA, wantStr: "Shift+A"},
		{name: "lowercase", spec: "ctrl+b", wantMod: ModCtrl, wantKey: KeyB, wantStr: "Ctrl+B"},
		{name: "alt hex", spec: "Alt+0x06", wantMod: ModAlt, wantKey: KeyC, wantStr: "Alt+C"},
		{name: "bare space", spec: "Space", wantMod: ModNone, wantKey: KeySpace, wantStr: "Space"},
		{name: "digit", spec: "1", wantMod: ModNone, wantKey: Key1, wantStr: "1"},
		{name: "function key", spec: "Ctrl+F13", wantMod: ModCtrl, wantKey: KeyF13, wantStr: "Ctrl+F13"},
		{name: "gui alias", spec: "Win+Home", wantMod: ModGui, wantKey: KeyHome, wantStr: "Gui+Home"},
		{name: "control alias", spec: "Control+Delete", wantMod: ModCtrl, wantKey: KeyDelete, wantStr: "Ctrl+Delete"},
		{name: "key alias", spec: "Esc", wantMod: ModNone, wantKey: KeyEscape, wantStr: "Escape"},
		{name: "unnamed hex", spec: "0x87", wantMod: ModNone, wantKey: ScanCode(0x87), wantStr: "0x87"},
		{name: "surrounding spaces", spec: "  Shift + F24 ", wantMod: ModShift, wantKey: KeyF24, wantStr: "Shift+F24"},
		{name: "bare modifier key", spec: "LeftShift", wantMod: ModNone, wantKey: KeyLeftShift, wantStr: "LeftShift"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse(tt.spec)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.spec, err)
			}
			if c.Modifier() != tt.wantMod {
				t.Errorf("Modifier() = %v, want %v", c.Modifier(), tt.wantMod)
			}
			if c.Key() != tt.wantKey {
				t.Errorf("Key() = %v, want %v", c.Key(), tt.wantKey)
			}
			if got := c.String(); got != tt.wantStr {
				t.Errorf("String() = %q, want %q", got, tt.wantStr)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr string
	}{
		{name: "empty", spec: "   ", wantErr: "empty"},
		{name: "two modifiers", spec: "Ctrl+Shift+A", wantErr: "more than one modifier"},
		{name: "unknown modifier", spec: "Hyper+A", wantErr: "unknown modifier"},
		{name: "unknown key", spec: "Shift+Banana", wantErr: "unknown key"},
		{name: "null hex", spec: "0x00", wantErr: "reserved"},
		{name: "hex overflow", spec: "0x100", wantErr: "invalid hex"},
		{name: "missing key", spec: "Shift+", wantErr: "missing key"},
		{name: "key equals modifier", spec: "Shift+LeftShift", wantErr: "duplicates its own modifier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.spec)
			if err == nil {
				t.Fatalf("Parse(%q) expected error", tt.spec)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Parse(%q) error = %q, want substring %q", tt.spec, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParseRoundTripsCanonicalNames(t *testing.T) {
	for code, name := range nameByKey {
		c, err := Parse("Alt+" + name)
		if code == KeyLeftAlt {
			if err == nil {
				t.Errorf("Parse(Alt+%s) expected self-modifier error", name)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(Alt+%s) error = %v", name, err)
			continue
		}
		if c.Key() != code {
			t.Errorf("Parse(Alt+%s).Key() = 0x%02X, want 0x%02X", name, uint8(c.Key()), uint8(code))
		}
	}
}

func TestModifierScanCode(t *testing.T) {
	tests := []struct {
		mod    Modifier
		want   ScanCode
		wantOK bool
	}{
		{mod: ModNone, want: ScanNull, wantOK: false},
		{mod: ModCtrl, want: KeyLeftCtrl, wantOK: true},
		{mod: ModShift, want: KeyLeftShift, wantOK: true},
		{mod: ModAlt, want: KeyLeftAlt, wantOK: true},
		{mod: ModGui, want: KeyLeftGui, wantOK: true},
		{mod: Modifier(9), want: ScanNull, wantOK: false},
	}
	for _, tt := range tests {
		got, ok := tt.mod.ScanCode()
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("%v.ScanCode() = (%v, %v), want (%v, %v)", tt.mod, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestChordValidate(t *testing.T) {
	if err := New(ModShift, KeyA).Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := New(ModShift, ScanNull).Validate(); err == nil {
		t.Fatal("Validate() expected null-key error")
	}
	if err := New(Modifier(42), KeyA).Validate(); err == nil {
		t.Fatal("Validate() expected invalid-modifier error")
	}
	if !Null.IsNull() || New(ModNone, KeyA).IsNull() {
		t.Fatal("IsNull() mismatch")
	}
}

func TestScanCodeIsModifier(t *testing.T) {
	if !KeyLeftCtrl.IsModifier() || !KeyRightGui.IsModifier() {
		t.Fatal("modifier usages must report IsModifier")
	}
	if KeyA.IsModifier() || KeyF24.IsModifier() {
		t.Fatal("non-modifier usages must not report IsModifier")
	}
}
