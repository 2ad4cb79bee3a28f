package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	defaultConnTimeout              = 30 * time.Second
	maxRequestBytes                 = 64 * 1024 // limits request size to prevent memory exhaustion
	defaultMaxConcurrentConnections = 64
	connSlotAcquireTimeout          = 5 * time.Second
)

// listenFn is a test seam.
var listenFn = listen

// Server receives requests from chordctl clients.
type Server struct {
	endpoint string
	executor Executor

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listener  net.Listener
	started   bool
	wg        sync.WaitGroup
	connSlots chan struct{}
}

// NewServer constructs a Server. An empty endpoint selects DefaultEndpoint.
func NewServer(endpoint string, executor Executor) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if endpoint == "" {
		endpoint = DefaultEndpoint()
	}
	return &Server{
		endpoint:  endpoint,
		executor:  executor,
		ctx:       ctx,
		cancel:    cancel,
		connSlots: make(chan struct{}, defaultMaxConcurrentConnections),
	}
}

// Endpoint returns the listen address.
func (s *Server) Endpoint() string {
	return s.endpoint
}

// Start begins listening.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("ipc server already started")
	}
	if s.executor == nil {
		return errors.New("ipc server requires executor")
	}

	listener, err := listenFn(s.endpoint)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.endpoint, err)
	}

	s.listener = listener
	s.started = true
	s.wg.Go(s.acceptLoop)
	slog.Info("[ipc] listening", "endpoint", s.endpoint)
	return nil
}

// Stop closes the listener and waits for in-flight requests.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil {
			slog.Warn("[ipc] failed to close listener during shutdown", "error", err)
		}
	}
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop() {
	consecutiveErrors := 0
	for {
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				consecutiveErrors++
				if consecutiveErrors > 10 {
					slog.Warn("[ipc] accept loop: repeated failures, possible permanent error", "error", err, "count", consecutiveErrors)
					time.Sleep(500 * time.Millisecond)
				} else {
					slog.Debug("[ipc] accept error", "error", err)
				}
				continue
			}
		}
		consecutiveErrors = 0

		if !s.acquireConnectionSlot() {
			s.writeResponse(conn, ErrorResponse("", CodeBusy, "server busy, try again later"))
			if closeErr := conn.Close(); closeErr != nil {
				slog.Debug("[ipc] failed to close rejected connection", "error", closeErr)
			}
			continue
		}

		s.wg.Go(func() {
			defer s.releaseConnectionSlot()
			s.handleConnection(conn)
		})
	}
}

// handleConnection processes a single client connection (one request per
// connection) under a deadline of defaultConnTimeout.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		slog.Warn("[ipc] failed to set connection deadline", "error", err)
		return
	}

	reader := bufio.NewReaderSize(conn, maxRequestBytes+1)
	rawReq, err := readDelimitedFrame(reader, maxRequestBytes)
	if errors.Is(err, io.EOF) {
		slog.Debug("[ipc] client disconnected without sending data")
		return
	}
	if err != nil {
		s.writeResponse(conn, ErrorResponse("", CodeBadRequest, fmt.Sprintf("invalid request: %v", err)))
		return
	}

	req, err := decodeRequest(rawReq)
	if err != nil {
		s.writeResponse(conn, ErrorResponse(req.ID, CodeBadRequest, fmt.Sprintf("invalid request: %v", err)))
		return
	}

	slog.Debug("[DEBUG-IPC] received request", "id", req.ID, "command", req.Command, "action", req.Action)

	resp := s.executor.Execute(req)
	if resp.ID == "" {
		resp.ID = req.ID
	}
	s.writeResponse(conn, resp)
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	rawResp, err := encodeResponse(resp)
	if err != nil {
		slog.Warn("[ipc] failed to encode response", "error", err, "code", resp.Code)
		rawResp = []byte(`{"ok":false,"code":"internal","message":"internal encode error"}`)
	}
	if _, err := conn.Write(append(rawResp, '\n')); err != nil {
		slog.Debug("[ipc] failed to write response", "error", err)
	}
}

func (s *Server) acquireConnectionSlot() bool {
	if s.connSlots == nil {
		return true
	}
	timer := time.NewTimer(connSlotAcquireTimeout)
	defer timer.Stop()
	select {
	case s.connSlots <- struct{}{}:
		return true
	case <-timer.C:
		slog.Warn("[ipc] connection slot exhausted, rejecting client")
		return false
	case <-s.ctx.Done():
		return false
	}
}

func (s *Server) releaseConnectionSlot() {
	if s.connSlots == nil {
		return
	}
	select {
	case <-s.connSlots:
	default:
		slog.Warn("[ipc] releaseConnectionSlot: no slot to release (possible double-release)")
	}
}

func readDelimitedFrame(reader *bufio.Reader, maxBytes int) ([]byte, error) {
	raw, err := reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("frame exceeds %d bytes", maxBytes)
	}
	if errors.Is(err, io.EOF) {
		if len(raw) == 0 {
			return nil, io.EOF
		}
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}
