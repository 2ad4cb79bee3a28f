// Package injector provides key injectors that deliver HID scan codes to the
// host: a logging dry-run backend, a Linux uinput virtual keyboard, Win32
// SendInput, and a serial HID bridge.
package injector

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"chordkit/internal/chord"
	"chordkit/internal/config"
	"chordkit/internal/dispatch"
)

var (
	// ErrUnsupportedKey is returned for scan codes the backend cannot emit.
	ErrUnsupportedKey = errors.New("injector: unsupported key")
	// ErrUnsupportedPlatform is returned when a backend is not available on
	// the running OS.
	ErrUnsupportedPlatform = errors.New("injector: backend not supported on this platform")
	// ErrClosed is returned by injectors used after Close.
	ErrClosed = errors.New("injector: closed")
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New opens the backend selected by cfg.Kind. The returned closer releases
// the backend's OS resources and must be called after the engine is closed.
func New(cfg config.InjectorConfig) (dispatch.Injector, io.Closer, error) {
	switch cfg.Kind {
	case "", config.InjectorDryRun:
		return NewDryRun(), nopCloser{}, nil
	case config.InjectorUinput:
		u, err := OpenUinput(cfg.DeviceName)
		if err != nil {
			return nil, nil, fmt.Errorf("open uinput: %w", err)
		}
		return u, u, nil
	case config.InjectorSendInput:
		s, err := NewSendInput()
		if err != nil {
			return nil, nil, fmt.Errorf("init sendinput: %w", err)
		}
		return s, nopCloser{}, nil
	case config.InjectorBridge:
		b, err := OpenBridge(cfg.Device, cfg.Baud, cfg.Handshake)
		if err != nil {
			return nil, nil, fmt.Errorf("open bridge %s: %w", cfg.Device, err)
		}
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("unknown injector kind %q", cfg.Kind)
	}
}

func unsupported(code chord.ScanCode) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedKey, code)
}

// DryRun logs key events instead of injecting them.
type DryRun struct{}

// NewDryRun returns a logging injector.
func NewDryRun() *DryRun { return &DryRun{} }

func (*DryRun) PressKey(code chord.ScanCode) error {
	slog.Info("[injector] dry-run key down", "key", code.String(), "code", fmt.Sprintf("0x%02X", uint8(code)))
	return nil
}

func (*DryRun) ReleaseKey(code chord.ScanCode) error {
	slog.Info("[injector] dry-run key up", "key", code.String(), "code", fmt.Sprintf("0x%02X", uint8(code)))
	return nil
}
