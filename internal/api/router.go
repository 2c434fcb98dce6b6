package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the store health check behind /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/system/metrics", s.handleSystemMetrics)
	if s.metricsCfg.Enabled {
		r.Method(http.MethodGet, s.metricsCfg.Path, s.recorder.Handler())
	}

	// Reads
	r.Get("/zones/{base}/{zone}", s.handleGetZone)
	r.Get("/mixedgroups/{id}", s.handleGetMixedGroup)
	r.Get("/outsidetemperature", s.handleGetOutsideTemperature)
	r.Get("/notifications", s.handleGetNotifications)
	r.Get("/mode", s.handleGetMode)
	r.Get("/state", s.handleGetState)
	r.Get("/dehumidifiers/{id}", s.handleGetDehumidifier)
	r.Get("/pumps/{id}", s.handleGetPump)
	r.Get("/plant", s.handleGetPlant)

	// Writes
	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(true))
		r.Post("/zones/{base}/{zone}", s.handleSetZone)
		r.Post("/mode", s.handleSetMode)
		r.Post("/state", s.handleSetState)
	})

	// WebSocket (any valid token when auth is enabled)
	r.With(s.requireRole(false)).Get(s.wsPath(), s.handleWebSocket)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed", "")
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth answers "OK" while the register store is usable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "register store unavailable", "")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK")) //nolint:errcheck // Best-effort write to response
}
