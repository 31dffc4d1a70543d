// Package command implements the JSON-RPC control-plane surfaces rec-agent
// is driven over: a Unix Domain Socket for local CLI use (this file) and a
// Kafka transport for remote control (kafka.go), both routed through the
// same CommandHandler.
package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/otus-rec/rec-agent/internal/metrics"
)

// socketFileMode restricts the control socket to its owner: the daemon and
// whatever user account runs the rec-agent CLI on the same host.
const socketFileMode = 0o600

// ControlSocket speaks JSON-RPC 2.0, one request/response pair per line,
// over a Unix Domain Socket (spec §11 local control API).
type ControlSocket struct {
	path    string
	handler *CommandHandler

	listener net.Listener

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	inflight sync.WaitGroup
	stopped  bool
}

// UDSServer is an alias kept for callers that still spell out the
// transport explicitly.
type UDSServer = ControlSocket

// NewUDSServer binds a ControlSocket to path, dispatching decoded commands
// to handler.
func NewUDSServer(path string, handler *CommandHandler) *ControlSocket {
	return &ControlSocket{
		path:    path,
		handler: handler,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start creates the socket file and serves connections until ctx is
// cancelled, then tears the listener and every open connection down.
func (s *ControlSocket) Start(ctx context.Context) error {
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("command: remove stale control socket: %w", err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("command: listen on %s: %w", s.path, err)
	}
	s.listener = listener

	if err := os.Chmod(s.path, socketFileMode); err != nil {
		listener.Close()
		return fmt.Errorf("command: chmod control socket: %w", err)
	}

	slog.Info("control socket listening", "path", s.path)
	go s.acceptLoop(ctx)

	<-ctx.Done()
	slog.Info("control socket shutting down", "reason", ctx.Err())
	return s.Stop()
}

func (s *ControlSocket) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			slog.Error("control socket accept failed", "error", err)
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.inflight.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *ControlSocket) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.inflight.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	slog.Debug("control connection opened", "remote", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var req JSONRPCRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			metrics.CommandsHandledTotal.WithLabelValues("", "parse_error").Inc()
			resp := JSONRPCResponse{
				JSONRPC: "2.0",
				Error: &ErrorInfo{
					Code:    ErrCodeParseError,
					Message: fmt.Sprintf("parse error: %v", err),
				},
			}
			if encErr := encoder.Encode(resp); encErr != nil {
				slog.Error("control socket write failed", "error", encErr)
				return
			}
			continue
		}

		cmd := Command{
			Method: req.Method,
			Params: req.Params,
			ID:     fmt.Sprintf("%v", req.ID),
		}
		resp := s.handler.Handle(ctx, cmd)

		outcome := "ok"
		if resp.Error != nil {
			outcome = "error"
		}
		metrics.CommandsHandledTotal.WithLabelValues(cmd.Method, outcome).Inc()

		jsonrpcResp := JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  resp.Result,
			Error:   resp.Error,
		}
		if err := encoder.Encode(jsonrpcResp); err != nil {
			slog.Error("control socket write failed", "error", err)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Error("control connection read failed", "error", err)
	}
	slog.Debug("control connection closed", "remote", conn.RemoteAddr())
}

// Stop closes the listener and every open connection, then waits for
// in-flight handlers to drain. It is idempotent.
func (s *ControlSocket) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.inflight.Wait()
	os.RemoveAll(s.path)

	slog.Info("control socket stopped")
	return nil
}

// JSONRPCRequest is one JSON-RPC 2.0 request line.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse is one JSON-RPC 2.0 response line.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}
