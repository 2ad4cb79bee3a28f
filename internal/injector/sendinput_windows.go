//go:build windows

package injector

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"chordkit/internal/chord"
)

var (
	user32DLL     = windows.NewLazySystemDLL("user32.dll")
	procSendInput = user32DLL.NewProc("SendInput")
)

const (
	inputKeyboard        = 1
	keyeventfExtendedKey = 0x0001
	keyeventfKeyUp       = 0x0002
	keyeventfScanCode    = 0x0008
)

// keybdInput mirrors the Win32 KEYBDINPUT struct.
type keybdInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

// input mirrors the Win32 INPUT struct for INPUT_KEYBOARD. The padding
// matches the size of the MOUSEINPUT union member on both 32 and 64 bit.
type input struct {
	inputType uint32
	ki        keybdInput
	padding   [8]byte
}

// SendInput injects scan codes through the Win32 SendInput API.
type SendInput struct{}

// NewSendInput verifies user32.dll is loadable.
func NewSendInput() (*SendInput, error) {
	if err := user32DLL.Load(); err != nil {
		return nil, fmt.Errorf("user32.dll is unavailable: %w", err)
	}
	if err := procSendInput.Find(); err != nil {
		return nil, fmt.Errorf("SendInput is unavailable: %w", err)
	}
	return &SendInput{}, nil
}

func (s *SendInput) PressKey(code chord.ScanCode) error {
	return s.send(code, false)
}

func (s *SendInput) ReleaseKey(code chord.ScanCode) error {
	return s.send(code, true)
}

func (s *SendInput) send(code chord.ScanCode, up bool) error {
	scan, extended, ok := Set1Code(code)
	if !ok {
		return unsupported(code)
	}
	flags := uint32(keyeventfScanCode)
	if extended {
		flags |= keyeventfExtendedKey
	}
	if up {
		flags |= keyeventfKeyUp
	}
	in := input{
		inputType: inputKeyboard,
		ki:        keybdInput{wScan: scan, dwFlags: flags},
	}
	n, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if n != 1 {
		// SendInput returns 0 when UIPI blocks injection into a higher
		// integrity window; GetLastError is not always set in that case.
		if errors.Is(err, windows.ERROR_SUCCESS) {
			return errors.New("SendInput inserted no events (blocked by UIPI?)")
		}
		return fmt.Errorf("SendInput: %w", err)
	}
	return nil
}
