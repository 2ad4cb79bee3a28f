//go:build !windows

package hotkeys

import (
	"errors"
	"testing"
)

func TestManagerValidatesAndRecords(t *testing.T) {
	m := NewManager()
	if err := m.Start([]string{"ctrl+f1", "Ctrl+Alt+Pause"}, func(int) {}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	got := m.Active()
	if len(got) != 2 || got[0] != "Ctrl+F1" || got[1] != "Ctrl+Alt+Pause" {
		t.Fatalf("Active() = %v", got)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(m.Active()) != 0 {
		t.Fatalf("Active() after Stop = %v", m.Active())
	}
}

func TestManagerStartErrors(t *testing.T) {
	m := NewManager()
	if err := m.Start([]string{"Ctrl+F1"}, nil); err == nil {
		t.Fatal("Start() with nil callback expected error")
	}
	if err := m.Start(nil, func(int) {}); !errors.Is(err, ErrNoTriggers) {
		t.Fatalf("Start(nil) error = %v, want ErrNoTriggers", err)
	}
	if err := m.Start([]string{"F1"}, func(int) {}); err == nil {
		t.Fatal("Start() with invalid spec expected error")
	}
	if len(m.Active()) != 0 {
		t.Fatalf("failed Start() recorded %v", m.Active())
	}
}
