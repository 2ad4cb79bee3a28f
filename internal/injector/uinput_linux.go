//go:build linux

package injector

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"chordkit/internal/chord"
)

// uinput ioctls and event constants (linux/uinput.h, linux/input-event-codes.h).
const (
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
	uiDevSetup   = 0x405c5503
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565

	evSyn     = 0x00
	evKey     = 0x01
	synReport = 0x00
	busUSB    = 0x03

	keyValueUp   = 0
	keyValueDown = 1
)

// uinputPath is a test seam.
var uinputPath = "/dev/uinput"

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

type uinputSetup struct {
	ID           inputID
	Name         [80]byte
	FFEffectsMax uint32
}

type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// Uinput is a virtual keyboard created through /dev/uinput.
type Uinput struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

// OpenUinput creates a virtual keyboard that can emit every mapped key.
func OpenUinput(name string) (*Uinput, error) {
	fd, err := unix.Open(uinputPath, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", uinputPath, err)
	}
	if err := setupKeyboard(fd, name); err != nil {
		unix.Close(fd)
		return nil, err
	}
	slog.Info("[injector] uinput keyboard created", "name", name, "keys", len(evdevByHID))
	return &Uinput{fd: fd}, nil
}

func setupKeyboard(fd int, name string) error {
	if err := unix.IoctlSetInt(fd, uiSetEvBit, evKey); err != nil {
		return fmt.Errorf("UI_SET_EVBIT: %w", err)
	}
	for _, code := range evdevByHID {
		if err := unix.IoctlSetInt(fd, uiSetKeyBit, int(code)); err != nil {
			return fmt.Errorf("UI_SET_KEYBIT %d: %w", code, err)
		}
	}

	setup := uinputSetup{ID: inputID{Bustype: busUSB, Vendor: 0x1209, Product: 0xC0DE, Version: 1}}
	copy(setup.Name[:len(setup.Name)-1], name)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uiDevSetup, uintptr(unsafe.Pointer(&setup))); errno != 0 {
		return fmt.Errorf("UI_DEV_SETUP: %w", errno)
	}
	if err := unix.IoctlSetInt(fd, uiDevCreate, 0); err != nil {
		return fmt.Errorf("UI_DEV_CREATE: %w", err)
	}
	return nil
}

func (u *Uinput) PressKey(code chord.ScanCode) error {
	return u.emit(code, keyValueDown)
}

func (u *Uinput) ReleaseKey(code chord.ScanCode) error {
	return u.emit(code, keyValueUp)
}

func (u *Uinput) emit(code chord.ScanCode, value int32) error {
	ev, ok := EvdevCode(code)
	if !ok {
		return unsupported(code)
	}
	buf := encodeKeyEvent(ev, value)

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	n, err := unix.Write(u.fd, buf)
	if err != nil {
		return fmt.Errorf("uinput write: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("uinput write: short write (%d of %d bytes)", n, len(buf))
	}
	return nil
}

// encodeKeyEvent returns an EV_KEY event followed by SYN_REPORT.
func encodeKeyEvent(code uint16, value int32) []byte {
	events := [2]inputEvent{
		{Type: evKey, Code: code, Value: value},
		{Type: evSyn, Code: synReport},
	}
	size := int(unsafe.Sizeof(events))
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&events[0])), size))
	return out
}

// Close destroys the virtual keyboard.
func (u *Uinput) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	if err := unix.IoctlSetInt(u.fd, uiDevDestroy, 0); err != nil {
		slog.Warn("[injector] UI_DEV_DESTROY failed", "error", err)
	}
	return unix.Close(u.fd)
}
