// Package daemon wires the dispatch engine to its request surfaces.
//
// A Service owns the engine. It answers chordctl requests, receives engine
// activity as the engine's Observer and fans it out to the monitor feed and
// the dispatch journal.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"chordkit/internal/chord"
	"chordkit/internal/dispatch"
	"chordkit/internal/ipc"
	"chordkit/internal/journal"
	"chordkit/internal/logtee"
	"chordkit/internal/monitor"
	"chordkit/internal/registry"
	"chordkit/internal/watcher"
)

// fireTimeout bounds an IPC fire, including the wait for earlier dispatches.
const fireTimeout = 10 * time.Second

// Publisher receives monitor events. *monitor.Hub implements it.
type Publisher interface {
	Publish(topic monitor.Topic, data any)
}

// JournalSink receives dispatch records. *journal.Writer implements it.
type JournalSink interface {
	Enqueue(e journal.Entry) bool
}

// Options configures a Service. Monitor and Journal may be nil.
type Options struct {
	Hold         dispatch.HoldPolicy
	HoldMS       int
	InjectorKind string
	ConfigPath   string
	Endpoint     string
	Monitor      Publisher
	MonitorURL   string
	Journal      JournalSink
	JournalPath  string
}

// Service implements ipc.Executor and dispatch.Observer.
type Service struct {
	engine *dispatch.Engine
	opts   Options

	started time.Time
	fired   atomic.Uint64
	failed  atomic.Uint64

	restartNeeded atomic.Bool

	mu          sync.Mutex
	lastOutcome *dispatch.Outcome
}

// New builds the engine for reg and inj with the Service as its observer.
func New(reg *registry.Registry, inj dispatch.Injector, opts Options) (*Service, error) {
	s := &Service{opts: opts, started: time.Now()}
	engine, err := dispatch.New(reg, inj, dispatch.Options{Hold: opts.Hold, Observer: s})
	if err != nil {
		return nil, err
	}
	s.engine = engine
	return s, nil
}

// Engine returns the underlying engine.
func (s *Service) Engine() *dispatch.Engine { return s.engine }

// Fire dispatches action, tagging engine events with tag.
func (s *Service) Fire(ctx context.Context, tag string, action int) error {
	return s.engine.Fire(dispatch.WithTag(ctx, tag), registry.ActionID(action))
}

// ReleaseAll force-releases every held key.
func (s *Service) ReleaseAll(ctx context.Context) error {
	return s.engine.ReleaseAll(ctx)
}

// Close closes the engine, releasing held keys.
func (s *Service) Close() error {
	return s.engine.Close()
}

// RestartNeeded reports whether the config on disk no longer matches the
// running registry.
func (s *Service) RestartNeeded() bool { return s.restartNeeded.Load() }

// Execute handles one chordctl request.
func (s *Service) Execute(req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CmdPing:
		return ipc.Response{ID: req.ID, OK: true, Message: "pong"}

	case ipc.CmdFire:
		if req.Action == nil {
			return ipc.ErrorResponse(req.ID, ipc.CodeBadRequest, "fire requires an action")
		}
		ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
		defer cancel()
		if err := s.Fire(ctx, req.ID, *req.Action); err != nil {
			return ipc.Response{ID: req.ID, OK: false, Code: ErrorCode(err), Message: err.Error(), Held: s.heldNames()}
		}
		return ipc.Response{ID: req.ID, OK: true, Held: s.heldNames()}

	case ipc.CmdHeld:
		return ipc.Response{ID: req.ID, OK: true, Held: s.heldNames()}

	case ipc.CmdReleaseAll:
		ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
		defer cancel()
		if err := s.ReleaseAll(ctx); err != nil {
			return ipc.Response{ID: req.ID, OK: false, Code: ErrorCode(err), Message: err.Error(), Held: s.heldNames()}
		}
		return ipc.Response{ID: req.ID, OK: true, Held: s.heldNames()}

	case ipc.CmdBindings:
		return ipc.Response{ID: req.ID, OK: true, Bindings: s.bindings()}

	case ipc.CmdStatus:
		st := s.Status()
		return ipc.Response{ID: req.ID, OK: true, Status: &st}
	}
	return ipc.ErrorResponse(req.ID, ipc.CodeBadRequest, fmt.Sprintf("unknown command %q", req.Command))
}

// Status returns a snapshot of daemon state.
func (s *Service) Status() ipc.Status {
	return ipc.Status{
		PID:           os.Getpid(),
		UptimeMS:      time.Since(s.started).Milliseconds(),
		Injector:      s.opts.InjectorKind,
		ConfigPath:    s.opts.ConfigPath,
		Endpoint:      s.opts.Endpoint,
		HoldMS:        s.opts.HoldMS,
		Bindings:      s.engine.Registry().Len(),
		Fired:         s.fired.Load(),
		Failed:        s.failed.Load(),
		Held:          s.heldNames(),
		Closed:        s.engine.Closed(),
		MonitorURL:    s.opts.MonitorURL,
		Journal:       s.opts.JournalPath,
		RestartNeeded: s.restartNeeded.Load(),
	}
}

// LastOutcome returns the most recent dispatch outcome, if any.
func (s *Service) LastOutcome() (dispatch.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastOutcome == nil {
		return dispatch.Outcome{}, false
	}
	return *s.lastOutcome, true
}

// KeyEvent implements dispatch.Observer.
func (s *Service) KeyEvent(ev dispatch.KeyEvent) {
	if s.opts.Monitor == nil {
		return
	}
	s.opts.Monitor.Publish(monitor.TopicKeys, monitor.KeyData{
		RequestID: ev.Tag,
		Action:    int(ev.Action),
		Key:       ev.Key.String(),
		Down:      ev.Down,
	})
}

// Dispatched implements dispatch.Observer.
func (s *Service) Dispatched(out dispatch.Outcome) {
	if out.Err != nil {
		s.failed.Add(1)
	} else {
		s.fired.Add(1)
	}
	s.mu.Lock()
	s.lastOutcome = &out
	s.mu.Unlock()

	code := ""
	errText := ""
	var stuck []string
	if out.Err != nil {
		code = ErrorCode(out.Err)
		errText = out.Err.Error()
		var derr *dispatch.DispatchError
		if errors.As(out.Err, &derr) {
			stuck = scanCodeNames(derr.Stuck)
		}
		slog.Warn("[dispatch] action failed", "action", int(out.Action), "code", code, "error", out.Err, "requestId", out.Tag)
	}

	if s.opts.Monitor != nil {
		s.opts.Monitor.Publish(monitor.TopicDispatch, monitor.DispatchData{
			RequestID:  out.Tag,
			Action:     int(out.Action),
			Chord:      out.Chord.String(),
			Code:       code,
			Error:      errText,
			DurationMS: float64(out.Duration.Microseconds()) / 1000,
			Stuck:      stuck,
		})
	}
	if s.opts.Journal != nil {
		s.opts.Journal.Enqueue(journal.Entry{
			RequestID: out.Tag,
			Time:      out.Started,
			Action:    int(out.Action),
			Chord:     out.Chord.String(),
			Code:      code,
			Error:     errText,
			Duration:  out.Duration,
		})
	}
}

// ConfigChanged records a config reload. The running registry is never
// replaced; a differing table only marks the daemon as needing a restart.
func (s *Service) ConfigChanged(res watcher.Result) {
	restart := false
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	} else {
		restart = !sameBindings(s.engine.Registry(), res.Registry) || res.Config.HoldMS != s.opts.HoldMS
		s.restartNeeded.Store(restart)
		if restart {
			slog.Warn("[daemon] config changed on disk; restart chordd to apply", "path", res.Path)
		}
	}
	if s.opts.Monitor != nil {
		s.opts.Monitor.Publish(monitor.TopicConfig, monitor.ConfigData{
			Path:          res.Path,
			Bindings:      res.Bindings,
			Error:         errText,
			RestartNeeded: s.restartNeeded.Load(),
		})
	}
}

// LogEntry forwards a teed log record to the monitor log topic. It is the
// logtee callback installed by chordd.
func (s *Service) LogEntry(e logtee.Entry) {
	if s.opts.Monitor == nil {
		return
	}
	s.opts.Monitor.Publish(monitor.TopicLog, monitor.LogData{
		Level:   e.Level.String(),
		Message: e.Message,
		Source:  e.Source,
	})
}

func (s *Service) heldNames() []string {
	return scanCodeNames(s.engine.Held())
}

func (s *Service) bindings() []ipc.BindingInfo {
	bs := s.engine.Registry().Bindings()
	out := make([]ipc.BindingInfo, len(bs))
	for i, b := range bs {
		out[i] = ipc.BindingInfo{Action: int(b.Action), Chord: b.Chord.String()}
	}
	return out
}

func sameBindings(a, b *registry.Registry) bool {
	if a == nil || b == nil {
		return a == b
	}
	return slices.Equal(a.Bindings(), b.Bindings())
}

func scanCodeNames(codes []chord.ScanCode) []string {
	if len(codes) == 0 {
		return nil
	}
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = c.String()
	}
	return names
}
