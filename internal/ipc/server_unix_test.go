//go:build !windows

package ipc

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func startTestServer(t *testing.T, exec Executor) *Server {
	t.Helper()
	// Keep socket paths short; sun_path is limited to ~108 bytes.
	dir, err := os.MkdirTemp("", "ck")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s := NewServer(filepath.Join(dir, "chordkit-test.sock"), exec)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})
	return s
}

func TestServerRoundTrip(t *testing.T) {
	var seen atomic.Pointer[Request]
	s := startTestServer(t, ExecutorFunc(func(req Request) Response {
		seen.Store(&req)
		return Response{OK: true, Held: []string{"LeftShift"}}
	}))

	action := 5
	resp, err := Send(s.Endpoint(), Request{Command: CmdFire, Action: &action})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !resp.OK {
		t.Fatalf("Send() response = %+v", resp)
	}
	got := seen.Load()
	if got == nil || got.Action == nil || *got.Action != 5 {
		t.Fatalf("executor received %+v", got)
	}
	if got.ID == "" || resp.ID != got.ID {
		t.Fatalf("response ID %q should echo request ID %q", resp.ID, got.ID)
	}
	if len(resp.Held) != 1 || resp.Held[0] != "LeftShift" {
		t.Fatalf("Held = %v", resp.Held)
	}
}

func TestServerRejectsMalformedRequest(t *testing.T) {
	s := startTestServer(t, ExecutorFunc(func(Request) Response {
		t.Error("executor should not run for a malformed request")
		return Response{OK: true}
	}))

	conn, err := net.Dial("unix", s.Endpoint())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("{\"id\":\"x\"}\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	resp, err := decodeResponse([]byte(line))
	if err != nil {
		t.Fatalf("decodeResponse() error = %v", err)
	}
	if resp.OK || resp.Code != CodeBadRequest {
		t.Fatalf("response = %+v, want bad_request", resp)
	}
}

func TestListenRejectsLiveEndpoint(t *testing.T) {
	s := startTestServer(t, ExecutorFunc(func(Request) Response { return Response{OK: true} }))
	if _, err := listen(s.Endpoint()); err == nil || !strings.Contains(err.Error(), "already in use") {
		t.Fatalf("listen() on live endpoint error = %v", err)
	}
}

func TestListenReplacesStaleSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "ck")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "chordkit-stale.sock")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	l, err := listen(path)
	if err != nil {
		t.Fatalf("listen() error = %v", err)
	}
	defer l.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Fatalf("socket permissions = %o, want owner-only", perm)
	}
}

func TestSendReportsConnectionError(t *testing.T) {
	_, err := Send(filepath.Join(t.TempDir(), "chordkit-missing.sock"), Request{Command: CmdPing})
	if err == nil {
		t.Fatal("Send() to missing endpoint expected error")
	}
	if !IsConnectionError(err) {
		t.Fatalf("IsConnectionError(%v) = false", err)
	}
}
