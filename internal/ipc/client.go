package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	defaultDialTimeout = 3 * time.Second
	defaultRWTimeout   = 15 * time.Second
	maxResponseBytes   = 64 * 1024
)

// dialFn is a test seam.
var dialFn = dial

// Send sends one request and waits for one response. A missing request ID
// is filled in so the caller can correlate daemon logs and journal rows.
func Send(endpoint string, req Request) (Response, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint()
	}
	if req.ID == "" {
		req.ID = NewRequestID()
	}

	conn, err := dialFn(endpoint, defaultDialTimeout)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(defaultRWTimeout)); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}

	rawReq, err := encodeRequest(req)
	if err != nil {
		return Response{}, err
	}
	if _, err := conn.Write(append(rawReq, '\n')); err != nil {
		return Response{}, err
	}

	respRaw, err := readDelimitedFrame(bufio.NewReaderSize(conn, maxResponseBytes+1), maxResponseBytes)
	if err != nil {
		return Response{}, err
	}

	resp, err := decodeResponse(respRaw)
	if err != nil {
		return Response{}, fmt.Errorf("invalid response: %w", err)
	}
	return resp, nil
}

// IsConnectionError returns true when the error indicates that the daemon
// is absent or unreachable (dial/connect failures).
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Op == "open"
	}
	return false
}
