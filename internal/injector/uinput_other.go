//go:build !linux

package injector

import (
	"fmt"
	"runtime"

	"chordkit/internal/chord"
)

// Uinput is only available on Linux.
type Uinput struct{}

// OpenUinput always fails off Linux.
func OpenUinput(string) (*Uinput, error) {
	return nil, fmt.Errorf("%w: uinput requires linux, running on %s", ErrUnsupportedPlatform, runtime.GOOS)
}

func (*Uinput) PressKey(chord.ScanCode) error   { return ErrUnsupportedPlatform }
func (*Uinput) ReleaseKey(chord.ScanCode) error { return ErrUnsupportedPlatform }
func (*Uinput) Close() error                    { return nil }
