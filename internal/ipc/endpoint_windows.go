//go:build windows

package ipc

import (
	"errors"
	"fmt"
	"net"
	"os/user"
	"regexp"
	"strings"
	"time"

	"github.com/Microsoft/go-winio"
)

var endpointPattern = regexp.MustCompile(`(?i)^\\\\\.\\pipe\\chordkit-[a-z0-9._-]{1,128}$`)

const defaultPipePrefix = `\\.\pipe\chordkit-`

func defaultEndpointFor(username string) string {
	return defaultPipePrefix + username
}

// listen creates a Named Pipe listener restricted to the current user. The
// DACL grants full access only to SYSTEM and the current user's SID,
// preventing other local users from connecting.
func listen(endpoint string) (net.Listener, error) {
	securityDescriptor, err := pipeSecurityDescriptor()
	if err != nil {
		return nil, err
	}
	return winio.ListenPipe(endpoint, &winio.PipeConfig{
		SecurityDescriptor: securityDescriptor,
		MessageMode:        false,
		InputBufferSize:    int32(maxRequestBytes),
		OutputBufferSize:   int32(maxResponseBytes),
	})
}

func dial(endpoint string, timeout time.Duration) (net.Conn, error) {
	return winio.DialPipe(endpoint, &timeout)
}

var validSIDPattern = regexp.MustCompile(`^S-1(-\d+)+$`)

func pipeSecurityDescriptor() (string, error) {
	current, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("resolve current user: %w", err)
	}
	sid := strings.TrimSpace(current.Uid)
	if sid == "" {
		return "", errors.New("current user SID is unavailable")
	}
	if !validSIDPattern.MatchString(sid) {
		return "", fmt.Errorf("current user SID has unexpected format: %s", sid)
	}
	// SDDL: D:P = protected DACL (no inheritance)
	// (A;;GA;;;SY) = full access for SYSTEM
	// (A;;GA;;;%s) = full access for current user SID
	return fmt.Sprintf("D:P(A;;GA;;;SY)(A;;GA;;;%s)", sid), nil
}
