package injector

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"chordkit/internal/chord"
)

// Bridge frame layout: [bridgeFrameStart, op, arduino code]. The firmware
// applies each frame as a single Keyboard.press or Keyboard.release.
const (
	bridgeFrameStart   = 0xFA
	bridgeOpPress      = 0x01
	bridgeOpRelease    = 0x02
	bridgeHandshake    = 0xFF ^ 0x42 // 0xBD
	bridgeHandshakeAck = 'K'
)

var (
	// openSerialFn is a test seam; tests substitute a pty.
	openSerialFn = openSerial
	// bridgeSettleDelay gives the microcontroller time to reset after the
	// port is opened (boards reset on DTR).
	bridgeSettleDelay       = 2 * time.Second
	bridgeHandshakeDeadline = time.Second
)

// Bridge drives a serial HID bridge (a microcontroller enumerating as a USB
// keyboard). Each key transition is one 3-byte frame.
type Bridge struct {
	mu     sync.Mutex
	port   io.ReadWriteCloser
	device string
	closed bool
}

// NewBridge wraps an already-open serial port.
func NewBridge(port io.ReadWriteCloser, device string) *Bridge {
	return &Bridge{port: port, device: device}
}

// OpenBridge opens device at baud and optionally runs the XOR handshake.
// A handshake mismatch is logged and tolerated; the firmware still accepts
// frames when it runs an older sketch without handshake support.
func OpenBridge(device string, baud int, handshake bool) (*Bridge, error) {
	if device == "" {
		return nil, errors.New("bridge device is required")
	}
	port, err := openSerialFn(device, baud)
	if err != nil {
		return nil, err
	}
	b := NewBridge(port, device)
	if bridgeSettleDelay > 0 {
		time.Sleep(bridgeSettleDelay)
	}
	if handshake {
		if err := b.Handshake(bridgeHandshakeDeadline); err != nil {
			if closeErr := port.Close(); closeErr != nil {
				slog.Warn("[injector] bridge close after failed handshake", "device", device, "error", closeErr)
			}
			return nil, err
		}
	}
	slog.Info("[injector] bridge opened", "device", device, "baud", baud, "handshake", handshake)
	return b, nil
}

// Handshake writes the challenge byte and waits up to timeout for the ack.
// Only a write failure is an error.
func (b *Bridge) Handshake(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.port.Write([]byte{bridgeHandshake}); err != nil {
		return fmt.Errorf("bridge handshake write: %w", err)
	}

	ack, err := b.readAck(timeout)
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		slog.Warn("[injector] bridge handshake timed out, proceeding", "device", b.device, "timeout", timeout)
	case err != nil:
		slog.Warn("[injector] bridge handshake read failed, proceeding", "device", b.device, "error", err)
	case ack != bridgeHandshakeAck:
		slog.Warn("[injector] bridge handshake mismatch, proceeding", "device", b.device, "received", fmt.Sprintf("0x%02X", ack))
	default:
		slog.Info("[injector] bridge handshake verified", "device", b.device)
	}
	return nil
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// readAck reads one byte within timeout. A timeout is reported as
// os.ErrDeadlineExceeded.
//
// Ports with read deadlines (ttys opened through os.File) are read in place
// and nothing is left pending. Other ports are read on a goroutine that
// stays blocked until a byte arrives or the port is closed, so a late byte
// is consumed by that goroutine.
func (b *Bridge) readAck(timeout time.Duration) (byte, error) {
	buf := make([]byte, 1)
	if d, ok := b.port.(readDeadliner); ok {
		if err := d.SetReadDeadline(time.Now().Add(timeout)); err == nil {
			_, readErr := io.ReadFull(b.port, buf)
			if err := d.SetReadDeadline(time.Time{}); err != nil {
				slog.Warn("[injector] bridge clear read deadline failed", "device", b.device, "error", err)
			}
			return buf[0], readErr
		}
	}

	type readResult struct {
		b   byte
		err error
	}
	resultCh := make(chan readResult, 1)
	port := b.port
	go func() {
		_, err := io.ReadFull(port, buf)
		resultCh <- readResult{b: buf[0], err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-resultCh:
		return res.b, res.err
	case <-timer.C:
		return 0, os.ErrDeadlineExceeded
	}
}

func (b *Bridge) PressKey(code chord.ScanCode) error {
	return b.send(bridgeOpPress, code)
}

func (b *Bridge) ReleaseKey(code chord.ScanCode) error {
	return b.send(bridgeOpRelease, code)
}

func (b *Bridge) send(op byte, code chord.ScanCode) error {
	wire, ok := ArduinoCode(code)
	if !ok {
		return unsupported(code)
	}
	frame := [3]byte{bridgeFrameStart, op, wire}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	n, err := b.port.Write(frame[:])
	if err != nil {
		return fmt.Errorf("bridge write: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("bridge write: short write (%d of %d bytes)", n, len(frame))
	}
	return nil
}

// Close closes the serial port. Safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.port.Close()
}
