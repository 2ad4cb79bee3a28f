// Package ipc carries chordctl requests to the chordd daemon as
// newline-delimited JSON, one request per connection, over a per-user named
// pipe (Windows) or unix socket.
package ipc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"chordkit/internal/userutil"
)

// EndpointEnv overrides the default endpoint when it matches the platform's
// allowed pattern.
const EndpointEnv = "CHORDKIT_ENDPOINT"

// Commands.
const (
	CmdFire       = "fire"
	CmdHeld       = "held"
	CmdReleaseAll = "release-all"
	CmdBindings   = "bindings"
	CmdStatus     = "status"
	CmdPing       = "ping"
)

// Response codes. They are stable and safe to match in scripts.
const (
	CodeUnknownAction    = "unknown_action"
	CodeKeyAlreadyHeld   = "key_already_held"
	CodeInjectionFailure = "injection_failure"
	CodeCancelled        = "cancelled"
	CodeEngineClosed     = "engine_closed"
	CodeBadRequest       = "bad_request"
	CodeBusy             = "busy"
	CodeInternal         = "internal"
)

// Request is a single daemon command.
type Request struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	// Action is required for fire. A pointer keeps action 0 distinguishable
	// from a missing field.
	Action *int `json:"action,omitempty"`
}

// BindingInfo is one registry entry as reported by the bindings command.
type BindingInfo struct {
	Action int    `json:"action"`
	Chord  string `json:"chord"`
}

// Status is the daemon snapshot returned by the status command.
type Status struct {
	PID        int      `json:"pid"`
	UptimeMS   int64    `json:"uptime_ms"`
	Injector   string   `json:"injector"`
	ConfigPath string   `json:"config_path"`
	Endpoint   string   `json:"endpoint"`
	HoldMS     int      `json:"hold_ms"`
	Bindings   int      `json:"bindings"`
	Fired      uint64   `json:"fired"`
	Failed     uint64   `json:"failed"`
	Held       []string `json:"held"`
	Closed     bool     `json:"closed"`
	MonitorURL string   `json:"monitor_url,omitempty"`
	Journal    string   `json:"journal,omitempty"`
	// RestartNeeded is set when the config file changed on disk after start.
	RestartNeeded bool `json:"restart_needed,omitempty"`
}

// Response is the daemon's reply to one Request.
type Response struct {
	ID       string        `json:"id"`
	OK       bool          `json:"ok"`
	Code     string        `json:"code,omitempty"`
	Message  string        `json:"message,omitempty"`
	Held     []string      `json:"held,omitempty"`
	Bindings []BindingInfo `json:"bindings,omitempty"`
	Status   *Status       `json:"status,omitempty"`
}

// ErrorResponse builds a failed response.
func ErrorResponse(id, code, message string) Response {
	return Response{ID: id, OK: false, Code: code, Message: message}
}

// Executor handles a request and returns a response.
type Executor interface {
	Execute(req Request) Response
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(req Request) Response

func (f ExecutorFunc) Execute(req Request) Response { return f(req) }

// NewRequestID returns a fresh correlation ID.
func NewRequestID() string { return uuid.NewString() }

// DefaultEndpoint returns the endpoint to use. If CHORDKIT_ENDPOINT is set
// and passes pattern validation, its value is used; otherwise a per-user
// default is constructed from the current username.
func DefaultEndpoint() string {
	if v, ok := trustedEndpointFromEnv(); ok {
		return v
	}
	return defaultEndpointFor(userutil.CurrentUsername())
}

func trustedEndpointFromEnv() (string, bool) {
	value := strings.TrimSpace(os.Getenv(EndpointEnv))
	if value == "" {
		return "", false
	}
	if !endpointPattern.MatchString(value) {
		slog.Warn("[ipc] "+EndpointEnv+" rejected: value does not match allowed pattern", "value", value)
		return "", false
	}
	return value, true
}

func encodeRequest(req Request) ([]byte, error) {
	return json.Marshal(req)
}

func decodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, err
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		return req, errors.New("command is required")
	}
	if req.ID == "" {
		req.ID = NewRequestID()
	}
	return req, nil
}

func encodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

func decodeResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
