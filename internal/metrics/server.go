// Package metrics exposes rec-agent's Prometheus counters and gauges over
// HTTP for scraping.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultMetricsPath = "/metrics"

// Server serves /metrics (and a plain /healthz liveness probe) for the
// running rec-agent process.
type Server struct {
	addr string
	path string

	server *http.Server
}

// NewServer builds a Server bound to addr, serving the Prometheus registry
// at path (defaulting to /metrics).
func NewServer(addr, path string) *Server {
	if path == "" {
		path = defaultMetricsPath
	}
	return &Server{addr: addr, path: path}
}

// Start begins serving in the background. It returns once the listener
// goroutine has been launched; ListenAndServe errors are logged, not
// returned, since they surface asynchronously after Start has returned.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("metrics server listening", "addr", s.addr, "path", s.path)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped unexpectedly", "error", err)
		}
	}()

	return nil
}

// Stop gracefully drains and closes the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	slog.Info("stopping metrics server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics: shutdown: %w", err)
	}

	slog.Info("metrics server stopped")
	return nil
}
