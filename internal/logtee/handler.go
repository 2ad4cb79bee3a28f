// Package logtee forwards slog records to a base handler and copies
// records at or above a threshold to a callback.
package logtee

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

// Entry is the callback's view of one record.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	// Source is the dot-separated slog group, or "".
	Source string
}

// Callback receives teed records. It runs on the logging goroutine.
type Callback func(Entry)

// Handler is a slog.Handler that tees to a Callback.
type Handler struct {
	base     slog.Handler
	callback Callback
	minLevel slog.Level
	group    string
}

// New wraps base. A nil callback makes the handler a plain passthrough.
func New(base slog.Handler, minLevel slog.Level, callback Callback) *Handler {
	return &Handler{base: base, callback: callback, minLevel: minLevel}
}

// Enabled defers to the base handler; minLevel only gates the callback.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle forwards to the base handler and then runs the callback, even when
// the base handler fails. The base handler's error is returned.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)
	if h.callback != nil && record.Level >= h.minLevel {
		h.invoke(Entry{Time: record.Time, Level: record.Level, Message: record.Message, Source: h.group})
	}
	return err
}

func (h *Handler) invoke(e Entry) {
	defer func() {
		if r := recover(); r != nil {
			// stderr, not slog: logging here would re-enter this handler.
			fmt.Fprintf(os.Stderr, "[logtee] callback panicked: %v\n%s\n", r, debug.Stack())
		}
	}()
	h.callback(e)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return &Handler{base: h.base.WithAttrs(attrs), callback: h.callback, minLevel: h.minLevel, group: h.group}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &Handler{base: h.base.WithGroup(name), callback: h.callback, minLevel: h.minLevel, group: group}
}

// ParseLevel parses debug, info, warn (or warning) and error, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
}
