// Package monitor streams live engine activity to a local WebSocket client.
//
// # Wire format
//
// The client sends text frames of the form
//
//	{"action":"subscribe","topics":["keys","dispatch"]}
//
// and receives one JSON text frame per event:
//
//	{"topic":"keys","time":"2026-01-02T15:04:05.000Z","data":{...}}
//
// Topics are keys (every key transition), dispatch (one per Fire outcome),
// log (warnings and errors from the daemon log) and config (config file
// reload results).
package monitor

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic names a class of events.
type Topic string

const (
	TopicKeys     Topic = "keys"
	TopicDispatch Topic = "dispatch"
	TopicLog      Topic = "log"
	TopicConfig   Topic = "config"
)

// Topics lists every valid topic.
var Topics = []Topic{TopicKeys, TopicDispatch, TopicLog, TopicConfig}

// Valid reports whether t is a known topic.
func (t Topic) Valid() bool {
	switch t {
	case TopicKeys, TopicDispatch, TopicLog, TopicConfig:
		return true
	}
	return false
}

// Event is one frame sent to the client.
type Event struct {
	Topic Topic     `json:"topic"`
	Time  time.Time `json:"time"`
	Data  any       `json:"data"`
}

// KeyData is the payload of a keys event.
type KeyData struct {
	RequestID string `json:"requestId,omitempty"`
	Action    int    `json:"action"`
	Key       string `json:"key"`
	Down      bool   `json:"down"`
}

// DispatchData is the payload of a dispatch event.
type DispatchData struct {
	RequestID  string   `json:"requestId,omitempty"`
	Action     int      `json:"action"`
	Chord      string   `json:"chord"`
	Code       string   `json:"code,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMS float64  `json:"durationMs"`
	Stuck      []string `json:"stuck,omitempty"`
}

// LogData is the payload of a log event.
type LogData struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// ConfigData is the payload of a config event.
type ConfigData struct {
	Path          string `json:"path"`
	Bindings      int    `json:"bindings"`
	Error         string `json:"error,omitempty"`
	RestartNeeded bool   `json:"restartNeeded"`
}

const (
	subscribeAction   = "subscribe"
	unsubscribeAction = "unsubscribe"
)

type subscribeMsg struct {
	Action string  `json:"action"`
	Topics []Topic `json:"topics"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EncodeEvent marshals ev into a text frame payload.
func EncodeEvent(ev Event) ([]byte, error) {
	if !ev.Topic.Valid() {
		return nil, fmt.Errorf("monitor: encode event: unknown topic %q", ev.Topic)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("monitor: encode event: %w", err)
	}
	return payload, nil
}
