package injector

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"chordkit/internal/chord"
	"chordkit/internal/testutil"
)

// fakePort records writes and serves scripted reads.
type fakePort struct {
	mu       sync.Mutex
	written  bytes.Buffer
	reply    []byte
	writeErr error
	closed   bool
	block    chan struct{}
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.block != nil {
		<-p.block
		return 0, io.EOF
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reply) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.reply)
	p.reply = p.reply[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

func TestBridgeFrames(t *testing.T) {
	port := &fakePort{}
	b := NewBridge(port, "fake")

	if err := b.PressKey(chord.KeyLeftShift); err != nil {
		t.Fatal(err)
	}
	if err := b.PressKey(chord.KeyA); err != nil {
		t.Fatal(err)
	}
	if err := b.ReleaseKey(chord.KeyA); err != nil {
		t.Fatal(err)
	}
	if err := b.ReleaseKey(chord.KeyLeftShift); err != nil {
		t.Fatal(err)
	}

	want := []byte{
		0xFA, 0x01, 0x81,
		0xFA, 0x01, 0x8C,
		0xFA, 0x02, 0x8C,
		0xFA, 0x02, 0x81,
	}
	if got := port.bytes(); !bytes.Equal(got, want) {
		t.Fatalf("frames = % X, want % X", got, want)
	}
}

func TestBridgeRejectsUnsupportedKey(t *testing.T) {
	port := &fakePort{}
	b := NewBridge(port, "fake")
	if err := b.PressKey(chord.ScanCode(0x90)); !errors.Is(err, ErrUnsupportedKey) {
		t.Fatalf("PressKey(0x90) error = %v, want ErrUnsupportedKey", err)
	}
	if len(port.bytes()) != 0 {
		t.Fatal("unsupported key must not be written")
	}
}

func TestBridgeWriteError(t *testing.T) {
	writeErr := errors.New("cable unplugged")
	b := NewBridge(&fakePort{writeErr: writeErr}, "fake")
	if err := b.PressKey(chord.KeyA); !errors.Is(err, writeErr) {
		t.Fatalf("PressKey error = %v, want %v", err, writeErr)
	}
}

func TestBridgeClose(t *testing.T) {
	port := &fakePort{}
	b := NewBridge(port, "fake")
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if !port.closed {
		t.Fatal("port not closed")
	}
	if err := b.PressKey(chord.KeyA); !errors.Is(err, ErrClosed) {
		t.Fatalf("PressKey after Close error = %v, want ErrClosed", err)
	}
}

func TestBridgeHandshake(t *testing.T) {
	tests := []struct {
		name    string
		port    *fakePort
		wantLog string
	}{
		{name: "ack", port: &fakePort{reply: []byte{'K'}}, wantLog: "handshake verified"},
		{name: "mismatch", port: &fakePort{reply: []byte{'X'}}, wantLog: "handshake mismatch"},
		{name: "no reply", port: &fakePort{}, wantLog: "handshake read failed"},
		{name: "timeout", port: &fakePort{block: make(chan struct{})}, wantLog: "handshake timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logBuf := testutil.CaptureLogBuffer(t, slog.LevelInfo)
			b := NewBridge(tt.port, "fake")
			if err := b.Handshake(50 * time.Millisecond); err != nil {
				t.Fatalf("Handshake() error = %v", err)
			}
			if tt.port.block != nil {
				close(tt.port.block)
			}
			if got := tt.port.bytes(); !bytes.Equal(got, []byte{0xBD}) {
				t.Fatalf("handshake wrote % X, want BD", got)
			}
			if !logBuf.Contains(tt.wantLog) {
				t.Fatalf("log %q does not contain %q", logBuf.String(), tt.wantLog)
			}
		})
	}
}

// deadlinePort is a port whose reads honour SetReadDeadline.
type deadlinePort struct {
	fakePort
	incoming  chan byte
	deadlines []time.Time
	deadline  time.Time
}

func (p *deadlinePort) SetReadDeadline(t time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deadline = t
	p.deadlines = append(p.deadlines, t)
	return nil
}

func (p *deadlinePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	deadline := p.deadline
	p.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case c := <-p.incoming:
		b[0] = c
		return 1, nil
	case <-expired:
		return 0, os.ErrDeadlineExceeded
	}
}

func TestBridgeHandshakeTimeoutLeavesNoPendingRead(t *testing.T) {
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelInfo)
	port := &deadlinePort{incoming: make(chan byte, 1)}
	b := NewBridge(port, "fake")

	if err := b.Handshake(20 * time.Millisecond); err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	if !logBuf.Contains("handshake timed out") {
		t.Fatalf("log %q does not contain timeout", logBuf.String())
	}

	port.mu.Lock()
	deadlines := append([]time.Time(nil), port.deadlines...)
	port.mu.Unlock()
	if len(deadlines) != 2 || deadlines[0].IsZero() || !deadlines[1].IsZero() {
		t.Fatalf("deadlines = %v, want set then cleared", deadlines)
	}

	// A late byte stays on the port for the next reader.
	port.incoming <- 'K'
	time.Sleep(20 * time.Millisecond)
	if got := len(port.incoming); got != 1 {
		t.Fatalf("late byte consumed by handshake, %d bytes left", got)
	}
}

func TestOpenBridgeUsesSerialOpener(t *testing.T) {
	port := &fakePort{reply: []byte{'K'}}
	origOpen, origDelay := openSerialFn, bridgeSettleDelay
	var gotDevice string
	var gotBaud int
	openSerialFn = func(device string, baud int) (io.ReadWriteCloser, error) {
		gotDevice, gotBaud = device, baud
		return port, nil
	}
	bridgeSettleDelay = 0
	t.Cleanup(func() {
		openSerialFn = origOpen
		bridgeSettleDelay = origDelay
	})

	b, err := OpenBridge("/dev/ttyACM0", 250000, true)
	if err != nil {
		t.Fatalf("OpenBridge() error = %v", err)
	}
	defer b.Close()
	if gotDevice != "/dev/ttyACM0" || gotBaud != 250000 {
		t.Fatalf("opener called with (%q, %d)", gotDevice, gotBaud)
	}
	if got := port.bytes(); !bytes.Equal(got, []byte{0xBD}) {
		t.Fatalf("handshake wrote % X, want BD", got)
	}
}

func TestOpenBridgeHandshakeWriteFailureClosesPort(t *testing.T) {
	port := &fakePort{writeErr: errors.New("gone")}
	origOpen, origDelay := openSerialFn, bridgeSettleDelay
	openSerialFn = func(string, int) (io.ReadWriteCloser, error) { return port, nil }
	bridgeSettleDelay = 0
	t.Cleanup(func() {
		openSerialFn = origOpen
		bridgeSettleDelay = origDelay
	})

	if _, err := OpenBridge("COM3", 9600, true); err == nil {
		t.Fatal("OpenBridge() expected handshake write error")
	}
	if !port.closed {
		t.Fatal("port must be closed after failed handshake")
	}
}

func TestOpenBridgeRequiresDevice(t *testing.T) {
	if _, err := OpenBridge("", 9600, false); err == nil {
		t.Fatal("OpenBridge(\"\") expected error")
	}
}
