//go:build !windows

package injector

import (
	"fmt"
	"runtime"

	"chordkit/internal/chord"
)

// SendInput is only available on Windows.
type SendInput struct{}

// NewSendInput always fails off Windows.
func NewSendInput() (*SendInput, error) {
	return nil, fmt.Errorf("%w: sendinput requires windows, running on %s", ErrUnsupportedPlatform, runtime.GOOS)
}

func (*SendInput) PressKey(chord.ScanCode) error   { return ErrUnsupportedPlatform }
func (*SendInput) ReleaseKey(chord.ScanCode) error { return ErrUnsupportedPlatform }
