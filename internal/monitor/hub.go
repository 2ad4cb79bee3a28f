package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// writeDeadline bounds a single WebSocket write.
const writeDeadline = 5 * time.Second

// readDeadline allows ~3 missed pings before the client is considered dead.
const readDeadline = 90 * time.Second

const pingInterval = 30 * time.Second

// maxReadMessageSize limits subscribe payloads, which are well under 1 KiB.
const maxReadMessageSize = 32 * 1024

// defaultQueueSize bounds events waiting for the writer goroutine.
const defaultQueueSize = 256

var wsUpgrader = websocket.Upgrader{
	// The server binds to 127.0.0.1 only.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4 * 1024,
}

// Options configures the monitor server.
type Options struct {
	// Addr is the listen address. Use "127.0.0.1:0" for an OS-assigned port.
	Addr string
	// QueueSize bounds pending events. Zero selects a default.
	QueueSize int
}

// Hub serves one WebSocket client at a time. A new connection replaces the
// previous one.
//
// Publish never blocks: events go through a bounded queue drained by a
// single writer goroutine, and are dropped when the queue is full. Callers
// on the dispatch path depend on this.
//
// Lock ordering (never acquire in reverse):
//
//	writeMu -> mu
type Hub struct {
	opts Options

	mu         sync.RWMutex
	conn       *websocket.Conn
	subscribed map[Topic]bool

	// writeMu serializes WriteMessage calls; gorilla/websocket allows one
	// concurrent writer.
	writeMu sync.Mutex

	queue   chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64

	listener net.Listener
	server   *http.Server
	url      string

	closeOnce sync.Once
	now       func() time.Time
}

// NewHub creates a Hub. It does not listen until Start.
func NewHub(opts Options) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Hub{
		opts:       opts,
		subscribed: make(map[Topic]bool),
		queue:      make(chan Event, opts.QueueSize),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Start listens on the configured address and serves WebSocket upgrades on
// /ws. ctx becomes the base context of request handlers.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return errors.New("monitor: already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("monitor: listen: %w", err)
	}
	h.listener = ln
	h.url = fmt.Sprintf("ws://%s/ws", ln.Addr().String())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	h.wg.Go(h.writeLoop)
	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("[DEBUG-MONITOR] server error", "error", serveErr)
		}
	}()

	slog.Info("[monitor] listening", "url", h.url)
	return nil
}

// Stop closes the client connection and shuts the server down. Idempotent.
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		conn := h.conn
		h.conn = nil
		h.subscribed = make(map[Topic]bool)
		h.mu.Unlock()
		if conn != nil {
			h.closeConn(conn, "stop")
		}

		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("monitor: shutdown: %w", err)
			}
		}
		h.wg.Wait()
		slog.Info("[monitor] stopped", "dropped", h.dropped.Load())
	})
	return stopErr
}

// URL returns the client URL, e.g. "ws://127.0.0.1:54321/ws", or "" before
// Start.
func (h *Hub) URL() string {
	return h.url
}

// HasActiveConnection reports whether a client is connected.
func (h *Hub) HasActiveConnection() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn != nil
}

// Subscribed returns the current client's topics, sorted.
func (h *Hub) Subscribed() []Topic {
	h.mu.RLock()
	topics := make([]Topic, 0, len(h.subscribed))
	for t := range h.subscribed {
		topics = append(topics, t)
	}
	h.mu.RUnlock()
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

// Dropped returns the number of events discarded because the queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Publish queues data for the current client if it subscribed to topic.
// Safe for concurrent use; never blocks.
func (h *Hub) Publish(topic Topic, data any) {
	h.mu.RLock()
	wanted := h.conn != nil && h.subscribed[topic]
	h.mu.RUnlock()
	if !wanted {
		return
	}

	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.queue <- Event{Topic: topic, Time: h.now().UTC(), Data: data}:
	default:
		if h.dropped.Add(1) == 1 {
			slog.Warn("[monitor] event queue full, dropping events", "topic", topic)
		}
	}
}

func (h *Hub) writeLoop() {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] monitor writeLoop recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()
	for {
		select {
		case <-h.done:
			return
		case ev := <-h.queue:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev Event) {
	h.mu.RLock()
	conn := h.conn
	subscribed := h.subscribed[ev.Topic]
	h.mu.RUnlock()
	// The client may have unsubscribed or been replaced since Publish.
	if conn == nil || !subscribed {
		return
	}

	payload, err := EncodeEvent(ev)
	if err != nil {
		slog.Warn("[DEBUG-MONITOR] failed to encode event", "topic", ev.Topic, "error", err)
		return
	}
	if err := h.write(conn, websocket.TextMessage, payload); err != nil {
		slog.Warn("[DEBUG-MONITOR] write failed, closing connection", "topic", ev.Topic, "error", err)
		h.clearIfCurrent(conn)
		h.closeConn(conn, "write error")
	}
}

// write sends one frame under writeMu with a deadline.
func (h *Hub) write(conn *websocket.Conn, msgType int, payload []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(msgType, payload); err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("[DEBUG-MONITOR] clear write deadline failed (non-fatal)", "error", err)
	}
	return nil
}

func (h *Hub) clearIfCurrent(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != conn {
		return false
	}
	h.conn = nil
	h.subscribed = make(map[Topic]bool)
	return true
}

// closeConn tolerates already-closed connections.
func (h *Hub) closeConn(conn *websocket.Conn, reason string) {
	if err := conn.Close(); err != nil {
		slog.Debug("[DEBUG-MONITOR] connection close", "reason", reason, "error", err)
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[DEBUG-MONITOR] upgrade failed", "error", err)
		return
	}

	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		slog.Warn("[DEBUG-MONITOR] SetReadDeadline failed on new connection", "error", err)
		h.closeConn(conn, "initial SetReadDeadline failure")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	h.mu.Lock()
	oldConn := h.conn
	h.conn = conn
	h.subscribed = make(map[Topic]bool)
	h.mu.Unlock()
	if oldConn != nil {
		h.closeConn(oldConn, "replaced by new connection")
	}

	slog.Info("[monitor] client connected", "remoteAddr", conn.RemoteAddr())

	pingDone := make(chan struct{})
	go h.pingLoop(conn, pingDone)

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] monitor handleWS recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		close(pingDone)
		h.clearIfCurrent(conn)
		h.closeConn(conn, "read pump exit")
		slog.Info("[monitor] client disconnected")
	}()

	for {
		msgType, msg, readErr := conn.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[DEBUG-MONITOR] read error", "error", readErr)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(msg, &sub); jsonErr != nil {
			h.sendJSON(conn, errorMsg{Type: "error", Message: fmt.Sprintf("invalid JSON: %s", jsonErr)})
			continue
		}
		if reply := h.handleSubscription(conn, sub); reply != nil {
			h.sendJSON(conn, reply)
		}
	}
}

func (h *Hub) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] monitor pingLoop recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			h.clearIfCurrent(conn)
			h.closeConn(conn, "pingLoop panic recovery")
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := h.write(conn, websocket.PingMessage, nil); err != nil {
				slog.Debug("[DEBUG-MONITOR] ping failed, connection likely dead", "error", err)
				h.clearIfCurrent(conn)
				h.closeConn(conn, "ping failure")
				return
			}
		}
	}
}

// ackMsg confirms the subscription set after each subscribe/unsubscribe.
type ackMsg struct {
	Type   string  `json:"type"`
	Topics []Topic `json:"topics"`
}

// handleSubscription applies msg and returns the reply to send, or nil for
// a stale connection.
func (h *Hub) handleSubscription(conn *websocket.Conn, msg subscribeMsg) any {
	h.mu.Lock()
	if h.conn != conn {
		h.mu.Unlock()
		slog.Debug("[DEBUG-MONITOR] subscription from stale connection, skipping")
		return nil
	}

	var unknown []Topic
	switch msg.Action {
	case subscribeAction, unsubscribeAction:
		for _, t := range msg.Topics {
			if !t.Valid() {
				unknown = append(unknown, t)
				continue
			}
			if msg.Action == subscribeAction {
				h.subscribed[t] = true
			} else {
				delete(h.subscribed, t)
			}
		}
	default:
		h.mu.Unlock()
		return errorMsg{Type: "error", Message: fmt.Sprintf("unknown action %q", msg.Action)}
	}
	h.mu.Unlock()

	if len(unknown) > 0 {
		return errorMsg{Type: "error", Message: fmt.Sprintf("unknown topics %v", unknown)}
	}
	return ackMsg{Type: "subscribed", Topics: h.Subscribed()}
}

func (h *Hub) sendJSON(conn *websocket.Conn, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Debug("[DEBUG-MONITOR] failed to marshal reply", "error", err)
		return
	}
	if err := h.write(conn, websocket.TextMessage, payload); err != nil {
		slog.Debug("[DEBUG-MONITOR] failed to send reply", "error", err)
		h.clearIfCurrent(conn)
		h.closeConn(conn, "write error in sendJSON")
	}
}
