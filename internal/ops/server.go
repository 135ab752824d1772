// Package ops exposes the operational HTTP surface of the worker: liveness
// and readiness endpoints for process supervisors and load balancers.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// readyCheckTimeout bounds the total time spent on readiness probes.
const readyCheckTimeout = 2 * time.Second

// Probe is one readiness check against a critical dependency.
type Probe interface {
	// Name returns a short identifier for the probe (e.g. "database").
	Name() string

	// Check reports whether the dependency is usable. It must respect the
	// context deadline.
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (p ProbeFunc) Name() string                    { return p.ProbeName }
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

// Server serves the operational endpoints. It carries no domain state; all
// it knows is the set of readiness probes.
type Server struct {
	logger *slog.Logger
	probes []Probe
	router *chi.Mux
	http   *http.Server
}

// NewServer builds the ops server and mounts its routes.
func NewServer(port string, probes []Probe, logger *slog.Logger) *Server {
	s := &Server{
		logger: logger,
		probes: probes,
		router: chi.NewRouter(),
	}
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.http = &http.Server{
		Addr:              ":" + port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// handleHealthz reports process liveness. It always succeeds: if the process
// can answer, it is alive.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz runs every registered probe and returns 503 if any fails.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	components := make(map[string]string, len(s.probes))
	healthy := true
	for _, probe := range s.probes {
		if err := probe.Check(ctx); err != nil {
			healthy = false
			components[probe.Name()] = err.Error()
			s.logger.WarnContext(ctx, "readiness probe failed",
				"probe", probe.Name(), "error", err)
			continue
		}
		components[probe.Name()] = "ok"
	}

	status := http.StatusOK
	body := map[string]any{"status": "ready", "components": components}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "not_ready"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
