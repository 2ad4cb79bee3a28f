//go:build windows

package singleinstance

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"

	"chordkit/internal/userutil"
)

// Lock holds a named mutex. The kernel releases it when the process exits.
type Lock struct {
	handle windows.Handle
}

// TryLock acquires the named mutex name. A mutex that exists but cannot be
// opened (another elevation level of the same user) also counts as running.
func TryLock(name string) (*Lock, error) {
	if name == "" {
		return nil, errors.New("mutex name is required")
	}
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("invalid mutex name %q: %w", name, err)
	}

	h, createErr := windows.CreateMutex(nil, true, namePtr)
	switch {
	case createErr == nil:
		return &Lock{handle: h}, nil
	case errors.Is(createErr, windows.ERROR_ALREADY_EXISTS), errors.Is(createErr, windows.ERROR_ACCESS_DENIED):
		closeHandle(h)
		return nil, ErrAlreadyRunning
	default:
		closeHandle(h)
		return nil, fmt.Errorf("create mutex %q: %w", name, createErr)
	}
}

func closeHandle(h windows.Handle) {
	if h == 0 {
		return
	}
	_ = windows.CloseHandle(h)
}

// Release closes the mutex handle. Safe on a nil receiver and idempotent.
func (l *Lock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(l.handle)
	l.handle = 0
	return err
}

// DefaultName returns the per-user mutex name. It matches the IPC pipe
// naming so one user runs one daemon.
func DefaultName() string {
	return `Global\chordkit-` + userutil.CurrentUsername()
}
