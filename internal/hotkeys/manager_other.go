//go:build !windows

package hotkeys

import (
	"errors"
	"log/slog"
	"sync"
)

// Manager validates trigger specs. Global hotkeys need a window-system
// hook that is not available here, so triggers never fire; use chordctl.
type Manager struct {
	mu     sync.Mutex
	active []string
}

// NewManager creates an idle Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Start parses specs and records them. onTrigger is never called.
func (m *Manager) Start(specs []string, onTrigger func(index int)) error {
	if onTrigger == nil {
		return errors.New("onTrigger callback is required")
	}
	if len(specs) == 0 {
		return ErrNoTriggers
	}
	bindings, err := ParseAll(specs)
	if err != nil {
		return err
	}

	names := make([]string, len(bindings))
	for i, b := range bindings {
		names[i] = b.Normalized()
	}
	slog.Warn("[hotkey] global hotkeys are not supported on this platform; specs validated but will never fire",
		"hotkeys", names)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = names
	return nil
}

// Stop forgets the recorded specs.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
	return nil
}

// Active returns the recorded specs.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.active...)
}
