package ipc

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadDelimitedFrame(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		max     int
		want    string
		wantErr error
		anyErr  bool
	}{
		{name: "single frame", input: "{\"a\":1}\n", max: 64, want: "{\"a\":1}\n"},
		{name: "frame without newline at EOF", input: "{\"a\":1}", max: 64, want: "{\"a\":1}"},
		{name: "empty input", input: "", max: 64, wantErr: io.EOF},
		{name: "oversized frame", input: strings.Repeat("x", 40) + "\n", max: 16, anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := bufio.NewReaderSize(strings.NewReader(tt.input), tt.max+1)
			got, err := readDelimitedFrame(reader, tt.max)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("readDelimitedFrame() error = %v, want %v", err, tt.wantErr)
				}
				return
			case tt.anyErr:
				if err == nil {
					t.Fatal("readDelimitedFrame() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("readDelimitedFrame() error = %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("readDelimitedFrame() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServerStartRequiresExecutor(t *testing.T) {
	s := NewServer("unused", nil)
	if err := s.Start(); err == nil {
		t.Fatal("Start() without executor expected error")
	}
}

func TestServerStopWithoutStart(t *testing.T) {
	s := NewServer("unused", ExecutorFunc(func(Request) Response { return Response{OK: true} }))
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestIsConnectionError(t *testing.T) {
	if IsConnectionError(nil) {
		t.Fatal("IsConnectionError(nil) = true")
	}
	if IsConnectionError(errors.New("plain")) {
		t.Fatal("IsConnectionError(plain) = true")
	}
}
