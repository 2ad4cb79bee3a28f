//go:build windows

package hotkeys

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32DLL = windows.NewLazySystemDLL("user32.dll")

	procRegisterHotKey     = user32DLL.NewProc("RegisterHotKey")
	procUnregisterHotKey   = user32DLL.NewProc("UnregisterHotKey")
	procGetMessageW        = user32DLL.NewProc("GetMessageW")
	procTranslateMessage   = user32DLL.NewProc("TranslateMessage")
	procDispatchMessageW   = user32DLL.NewProc("DispatchMessageW")
	procPostThreadMessageW = user32DLL.NewProc("PostThreadMessageW")
	procPeekMessageW       = user32DLL.NewProc("PeekMessageW")
)

const (
	wmHotkey   = 0x0312
	wmQuit     = 0x0012
	pmNoRemove = 0x0000

	// Application-defined hotkey IDs live in [0x0000, 0xBFFF].
	maxHotkeyID int32 = 0xBFFF
)

var nextHotkeyID atomic.Int32

func init() {
	nextHotkeyID.Store(0x4000)
}

// point mirrors the Win32 POINT struct.
type point struct {
	x int32
	y int32
}

// winMsg mirrors the Win32 MSG struct. The layout must match on 32- and
// 64-bit Windows.
type winMsg struct {
	hWnd     uintptr
	message  uint32
	wParam   uintptr
	lParam   uintptr
	time     uint32
	pt       point
	lPrivate uint32
}

type loopReady struct {
	threadID uint32
	err      error
}

type activeLoop struct {
	threadID uint32
	baseID   int32
	doneCh   chan struct{}
	bindings []string
}

// Manager owns one message-loop thread that registers every trigger.
type Manager struct {
	mu     sync.Mutex
	active *activeLoop
}

// NewManager creates an idle Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Start registers specs as global hotkeys. onTrigger receives the index of
// the spec that fired and runs on its own goroutine. Start fails without
// registering anything if any spec is invalid or already taken by another
// application.
func (m *Manager) Start(specs []string, onTrigger func(index int)) error {
	if onTrigger == nil {
		return errors.New("onTrigger callback is required")
	}
	if len(specs) == 0 {
		return ErrNoTriggers
	}
	if err := user32DLL.Load(); err != nil {
		return fmt.Errorf("user32.dll is unavailable: %w", err)
	}
	bindings, err := ParseAll(specs)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.stopLocked(); err != nil {
		slog.Warn("[hotkey] failed to stop previous hotkeys", "error", err)
	}

	baseID := nextHotkeyID.Add(int32(len(bindings))) - int32(len(bindings)) + 1
	if baseID < 0 || baseID+int32(len(bindings))-1 > maxHotkeyID {
		return fmt.Errorf("hotkey ID range exhausted (base=%d)", baseID)
	}

	readyCh := make(chan loopReady, 1)
	doneCh := make(chan struct{})
	go runHotkeyLoop(baseID, bindings, onTrigger, readyCh, doneCh)

	ready := <-readyCh
	if ready.err != nil {
		return ready.err
	}

	names := make([]string, len(bindings))
	for i, b := range bindings {
		names[i] = b.Normalized()
	}
	m.active = &activeLoop{threadID: ready.threadID, baseID: baseID, doneCh: doneCh, bindings: names}
	slog.Info("[hotkey] registered", "hotkeys", names)
	return nil
}

// Stop unregisters all hotkeys and ends the message loop.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

// Active returns the normalized specs currently registered.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	return append([]string(nil), m.active.bindings...)
}

func (m *Manager) stopLocked() error {
	if m.active == nil {
		return nil
	}
	loop := m.active
	m.active = nil

	stopErr := postQuit(loop.threadID)

	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	select {
	case <-loop.doneCh:
	case <-timer.C:
		slog.Warn("[hotkey] message loop stop timed out, thread may leak", "baseID", loop.baseID)
		stopErr = errors.Join(stopErr, fmt.Errorf("hotkey message loop stop timed out (baseID=%d)", loop.baseID))
	}
	return stopErr
}

// runHotkeyLoop registers and services hotkeys on a locked OS thread;
// RegisterHotKey delivers WM_HOTKEY to the registering thread's queue.
func runHotkeyLoop(baseID int32, bindings []Binding, onTrigger func(int), readyCh chan<- loopReady, doneCh chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(doneCh)

	threadID := windows.GetCurrentThreadId()

	// PeekMessageW creates the thread message queue so that PostThreadMessageW
	// in Stop can deliver WM_QUIT.
	var qmsg winMsg
	procPeekMessageW.Call(uintptr(unsafe.Pointer(&qmsg)), 0, 0, 0, pmNoRemove)

	registered := 0
	defer func() {
		for i := range registered {
			if err := unregisterHotKey(baseID + int32(i)); err != nil {
				slog.Error("[hotkey] unregisterHotKey on loop exit failed", "error", err, "hotkey", bindings[i].Normalized())
			}
		}
	}()
	for i, b := range bindings {
		if err := registerHotKey(baseID+int32(i), uint32(b.Modifiers()|modNoRepeat), uint32(b.Key())); err != nil {
			readyCh <- loopReady{err: &SpecError{Index: i, Spec: b.Normalized(), Err: fmt.Errorf("register: %w", err)}}
			return
		}
		registered++
	}

	readyCh <- loopReady{threadID: threadID}

	for {
		var msg winMsg
		ret, _, lastErr := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		switch int32(ret) {
		case -1:
			slog.Warn("[hotkey] GetMessageW returned error, exiting loop", "error", lastErr)
			return
		case 0:
			slog.Debug("[hotkey] message loop received WM_QUIT")
			return
		}

		if msg.message == wmHotkey {
			index := int(int32(msg.wParam) - baseID)
			if index >= 0 && index < len(bindings) {
				go onTrigger(index)
				continue
			}
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&msg)))
	}
}

func registerHotKey(hotkeyID int32, modifiers uint32, key uint32) error {
	res, _, err := procRegisterHotKey.Call(0, uintptr(hotkeyID), uintptr(modifiers), uintptr(key))
	if res != 0 {
		return nil
	}
	if err == windows.Errno(0) {
		return errors.New("RegisterHotKey failed")
	}
	return err
}

func unregisterHotKey(hotkeyID int32) error {
	res, _, err := procUnregisterHotKey.Call(0, uintptr(hotkeyID))
	if res != 0 {
		return nil
	}
	if err == windows.Errno(0) {
		return errors.New("UnregisterHotKey failed")
	}
	return err
}

func postQuit(threadID uint32) error {
	if threadID == 0 {
		return errors.New("cannot post WM_QUIT: threadID is 0")
	}
	res, _, err := procPostThreadMessageW.Call(uintptr(threadID), wmQuit, 0, 0)
	if res != 0 {
		return nil
	}
	if err == windows.Errno(0) {
		return errors.New("PostThreadMessageW failed")
	}
	return err
}
