//go:build windows

package hotkeys

import (
	"testing"
	"unsafe"
)

func TestWinMsgLayout(t *testing.T) {
	want := uintptr(28)
	if unsafe.Sizeof(uintptr(0)) == 8 {
		want = 48
	}
	if got := unsafe.Sizeof(winMsg{}); got != want {
		t.Fatalf("sizeof(winMsg) = %d, want %d", got, want)
	}
}

func TestManagerStopWithoutStart(t *testing.T) {
	m := NewManager()
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := m.Active(); got != nil {
		t.Fatalf("Active() = %v, want nil", got)
	}
}
