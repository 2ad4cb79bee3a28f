//go:build !windows

package ipc

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var endpointPattern = regexp.MustCompile(`^/[A-Za-z0-9._/-]{0,200}/chordkit-[A-Za-z0-9._-]{1,128}\.sock$`)

func defaultEndpointFor(username string) string {
	dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chordkit-"+username+".sock")
}

// listen creates a unix socket readable and writable only by the owner. A
// stale socket left by a crashed daemon is removed; a live one is an error.
func listen(endpoint string) (net.Listener, error) {
	if _, err := os.Lstat(endpoint); err == nil {
		if conn, dialErr := net.DialTimeout("unix", endpoint, 500*time.Millisecond); dialErr == nil {
			conn.Close()
			return nil, fmt.Errorf("endpoint %s is already in use", endpoint)
		}
		slog.Debug("[ipc] removing stale socket", "path", endpoint)
		if err := os.Remove(endpoint); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}

	// Restrict the socket before it becomes connectable.
	oldMask := setUmask(0o177)
	listener, err := net.Listen("unix", endpoint)
	setUmask(oldMask)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(endpoint, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return listener, nil
}

func dial(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", endpoint, timeout)
}
