// Package health provides the liveness and readiness endpoints.
//
// /healthz reports whether the process is up. /readyz additionally reports
// whether the service has finished starting and how many tenants it serves,
// so a load balancer only routes calls to an instance with a tenant table.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Server is a lightweight HTTP server that exposes /healthz and /readyz.
type Server struct {
	port    int
	version string
	tenants func() int
	ready   atomic.Bool
	server  *http.Server
}

// New creates a new health check server. tenants reports the size of the
// tenant table and may be nil.
func New(port int, version string, tenants func() int) *Server {
	return &Server{port: port, version: version, tenants: tenants}
}

// SetReady marks the service as ready to accept traffic.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

type status struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Tenants int    `json:"tenants"`
}

// Handler returns the health routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, status{Status: "ok", Version: s.version, Tenants: s.tenantCount()})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		n := s.tenantCount()
		if !s.ready.Load() || n == 0 {
			writeStatus(w, http.StatusServiceUnavailable, status{Status: "not_ready", Version: s.version, Tenants: n})
			return
		}
		writeStatus(w, http.StatusOK, status{Status: "ok", Version: s.version, Tenants: n})
	})

	return mux
}

func (s *Server) tenantCount() int {
	if s.tenants == nil {
		return 0
	}
	return s.tenants()
}

func writeStatus(w http.ResponseWriter, code int, st status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(st)
}

// ListenAndServe starts the health check HTTP server.
// It blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("health server listening", "port", s.port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
