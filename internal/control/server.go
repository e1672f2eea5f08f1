// Package control implements the supervisor control protocol: JSON objects
// over TCP, each terminated by a pair of carriage returns.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"vawter.tech/stopper"

	"github.com/loykin/symbiont/internal/metrics"
)

// Error strings returned to peers.
const (
	ErrDecode            = "decode error"
	ErrNoHandler         = "no handler for action"
	ErrNoPayload         = "no payload"
	ErrNoAction          = "no action"
	ErrNoActionOrPayload = "no action or payload"
)

// Handler serves one action. The returned value is sent back as the
// response payload.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Server dispatches framed requests to registered handlers.
type Server struct {
	addr  string
	log   *slog.Logger
	grace time.Duration

	mu      sync.RWMutex
	actions map[string]Handler

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer returns a server for addr. A nil logger discards output.
func NewServer(addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		addr:    addr,
		log:     log,
		grace:   time.Second,
		actions: make(map[string]Handler),
		conns:   make(map[net.Conn]struct{}),
	}
}

// AddAction registers h for action, replacing any earlier handler.
func (s *Server) AddAction(action string, h Handler) {
	s.mu.Lock()
	s.actions[action] = h
	s.mu.Unlock()
}

// Actions lists the registered action names.
func (s *Server) Actions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.actions))
	for a := range s.actions {
		out = append(out, a)
	}
	return out
}

// ListenAndServe listens on the configured TCP address and serves until ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Open connections
// are closed on shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	sctx := stopper.WithContext(ctx)
	sctx.Go(func(sctx *stopper.Context) error {
		select {
		case <-ctx.Done():
			sctx.Stop(s.grace)
		case <-sctx.Stopping():
		}
		_ = ln.Close()
		s.closeConns()
		return nil
	})
	s.log.Info("control server listening", "addr", ln.Addr().String())

	var serveErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if sctx.IsStopping() || ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			serveErr = err
			sctx.Stop(s.grace)
			break
		}
		s.track(conn, true)
		sctx.Go(func(sctx *stopper.Context) error {
			defer s.track(conn, false)
			s.serveConn(sctx, conn)
			return nil
		})
	}
	s.closeConns()
	if err := sctx.Wait(); err != nil && serveErr == nil && !errors.Is(err, context.Canceled) {
		serveErr = err
	}
	s.log.Info("control server stopped", "addr", ln.Addr().String())
	return serveErr
}

func (s *Server) track(c net.Conn, add bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if add {
		s.conns[c] = struct{}{}
		metrics.AddControlConnections(1)
		return
	}
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		metrics.AddControlConnections(-1)
	}
	_ = c.Close()
}

func (s *Server) closeConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// serveConn answers frames until the peer goes away. A partial frame at EOF
// counts as a clean disconnect.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.log.Debug("control connection opened", "remote", remote)
	sc := NewScanner(conn)
	for sc.Scan() {
		resp := s.Respond(ctx, sc.Bytes())
		if err := WriteFrame(conn, resp); err != nil {
			s.log.Debug("control write failed", "remote", remote, "error", err)
			return
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("control read failed", "remote", remote, "error", err)
	}
	s.log.Debug("control connection closed", "remote", remote)
}

// Respond builds the response object for one raw frame.
func (s *Server) Respond(ctx context.Context, frame []byte) map[string]any {
	var req map[string]json.RawMessage
	if err := json.Unmarshal(frame, &req); err != nil || req == nil {
		metrics.IncControlRequest("", "decode_error")
		return errorResponse(ErrDecode)
	}
	rawAction, hasAction := req["action"]
	payload, hasPayload := req["payload"]

	if hasAction {
		var action string
		var h Handler
		if json.Unmarshal(rawAction, &action) == nil {
			s.mu.RLock()
			h = s.actions[action]
			s.mu.RUnlock()
		}
		switch {
		case h == nil:
			metrics.IncControlRequest(action, "no_handler")
			return errorResponse(ErrNoHandler)
		case !hasPayload:
			metrics.IncControlRequest(action, "no_payload")
			return errorResponse(ErrNoPayload)
		}
		result, err := s.invoke(ctx, action, h, payload)
		if err != nil {
			metrics.IncControlRequest(action, "error")
			s.log.Warn("control action failed", "action", action, "error", err)
			return errorResponse(fmt.Sprintf("%s: %v", errorType(err), err))
		}
		body, err := json.Marshal(result)
		if err != nil {
			metrics.IncControlRequest(action, "error")
			s.log.Warn("control result not encodable", "action", action, "error", err)
			return errorResponse(fmt.Sprintf("%s: %v", errorType(err), err))
		}
		metrics.IncControlRequest(action, "ok")
		return map[string]any{"payload": json.RawMessage(body)}
	}
	metrics.IncControlRequest("", "invalid")
	if hasPayload {
		return errorResponse(ErrNoAction)
	}
	return errorResponse(ErrNoActionOrPayload)
}

// PanicError wraps a value recovered from a handler.
type PanicError struct{ Value any }

func (e *PanicError) Error() string { return fmt.Sprintf("%v", e.Value) }

func (s *Server) invoke(ctx context.Context, action string, h Handler, payload json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("control handler panicked", "action", action, "panic", r)
			result, err = nil, &PanicError{Value: r}
		}
	}()
	return h(ctx, payload)
}

func errorType(err error) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

func errorResponse(msg string) map[string]any {
	return map[string]any{"error": msg}
}
