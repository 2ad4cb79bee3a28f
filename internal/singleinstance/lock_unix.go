//go:build unix

package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"golang.org/x/sys/unix"

	"chordkit/internal/userutil"
)

// Lock holds an exclusive flock on a lock file. The kernel drops the lock
// when the process exits, so a crash never leaves a stale lock.
type Lock struct {
	file *os.File
}

// TryLock takes a non-blocking exclusive flock on the file at name,
// creating it if needed. The file records the holder's PID.
func TryLock(name string) (*Lock, error) {
	if name == "" {
		return nil, errors.New("lock path is required")
	}
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %q: %w", name, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("flock %q: %w", name, err)
	}
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	return &Lock{file: f}, nil
}

// Release drops the lock. Safe on a nil receiver and idempotent. The lock
// file is left in place; removing it would race with a new holder.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := errors.Join(
		unix.Flock(int(l.file.Fd()), unix.LOCK_UN),
		l.file.Close(),
	)
	l.file = nil
	return err
}

// DefaultName returns the per-user lock file path in the XDG runtime
// directory, or the temp dir when that cannot be created.
func DefaultName() string {
	name := "chordkit-" + userutil.CurrentUsername() + ".lock"
	path, err := xdg.RuntimeFile(name)
	if err != nil {
		return filepath.Join(os.TempDir(), name)
	}
	return path
}
