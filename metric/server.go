package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/resilkit/errors"
	"github.com/c360/resilkit/health"
)

// HealthFunc reports the current health of the host.
type HealthFunc func() health.Status

// Server serves /metrics and /health. Hosts mount additional debug routes
// on Router() before calling Start.
type Server struct {
	addr     string
	path     string
	registry *MetricsRegistry
	healthFn HealthFunc
	router   *mux.Router

	mu     sync.Mutex // protects server field
	server *http.Server
}

// NewServer creates a new metrics server with the provided registry.
// healthFn may be nil, in which case /health always reports healthy.
func NewServer(addr, path string, registry *MetricsRegistry, healthFn HealthFunc) *Server {
	if path == "" {
		path = "/metrics"
	}
	if addr == "" {
		addr = ":9090"
	}

	s := &Server{
		addr:     addr,
		path:     path,
		registry: registry,
		healthFn: healthFn,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	if s.registry != nil {
		s.router.Handle(s.path, promhttp.HandlerFor(
			s.registry.PrometheusRegistry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		)).Methods(http.MethodGet)
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Router returns the router so hosts can add their own endpoints.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := health.NewHealthy("resilkit", "ok")
	if s.healthFn != nil {
		status = s.healthFn()
	}

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// WriteJSON encodes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start runs the HTTP server until Shutdown is called. It returns nil after
// a clean shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"Server", "Start", "start metrics server")
	}
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("listen on %s", s.addr))
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Shutdown", "stop metrics server")
	}
	return nil
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.addr
}
