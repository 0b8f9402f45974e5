// Package api serves the bridge's status endpoints and Prometheus
// metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/ufvbridge/internal/accessory"
	"github.com/nugget/ufvbridge/internal/buildinfo"
	"github.com/nugget/ufvbridge/internal/connwatch"
	"github.com/nugget/ufvbridge/internal/discovery"
	"github.com/nugget/ufvbridge/internal/motion"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}

// HealthSource reports dependency health. *connwatch.Manager
// implements it.
type HealthSource interface {
	Statuses() []connwatch.ServiceStatus
	Healthy() bool
}

// CacheSource reports motion cache status. *motion.Registry
// implements it.
type CacheSource interface {
	Statuses() []motion.Status
}

// Deps are the read-only views the server reports on. Nil fields
// serve empty lists.
type Deps struct {
	Health    HealthSource
	Caches    CacheSource
	Inventory accessory.Inventory
}

// Server is the status HTTP server.
type Server struct {
	address string
	port    int
	deps    Deps
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a status server listening on address:port.
func NewServer(address string, port int, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		address: address,
		port:    port,
		deps:    deps,
		logger:  logger,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", address, port),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	s.server.Handler = s.Handler()
	return s
}

// Handler returns the router with every endpoint mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/v1/version", s.handleVersion)
	r.Get("/v1/cameras", s.handleCameras)
	r.Get("/v1/motion", s.handleMotion)
	r.Post("/v1/motion/{id}/identify", s.handleIdentify)
	r.Get("/v1/nvrs", s.handleNVRs)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Start listens until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server.BaseContext = func(_ net.Listener) context.Context { return ctx }

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting status server", "address", addr, "port", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. It may be called before or
// concurrently with Start; a Start that has not begun listening then
// returns nil immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "ufvbridge",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}

type healthResponse struct {
	Status   string                    `json:"status"`
	Services []connwatch.ServiceStatus `json:"services"`
}

// handleHealth answers 503 while any watched NVR or broker is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "healthy", Services: []connwatch.ServiceStatus{}}
	status := http.StatusOK
	if s.deps.Health != nil {
		resp.Services = s.deps.Health.Statuses()
		if !s.deps.Health.Healthy() {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp, s.logger)
}

// handleCameras lists registered cameras with API keys masked.
func (s *Server) handleCameras(w http.ResponseWriter, _ *http.Request) {
	out := []discovery.CameraDescriptor{}
	if s.deps.Inventory != nil {
		for _, cam := range s.deps.Inventory.Cameras() {
			out = append(out, cam.Redacted())
		}
	}
	writeJSON(w, http.StatusOK, out, s.logger)
}

func (s *Server) handleMotion(w http.ResponseWriter, _ *http.Request) {
	out := []accessory.SensorState{}
	if s.deps.Inventory != nil {
		out = append(out, s.deps.Inventory.Sensors()...)
	}
	writeJSON(w, http.StatusOK, out, s.logger)
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	if s.deps.Inventory == nil {
		writeError(w, http.StatusNotFound, "no accessory registry", s.logger)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Inventory.Identify(id); err != nil {
		if errors.Is(err, accessory.ErrUnknownSensor) {
			writeError(w, http.StatusNotFound, err.Error(), s.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNVRs(w http.ResponseWriter, _ *http.Request) {
	out := []motion.Status{}
	if s.deps.Caches != nil {
		out = append(out, s.deps.Caches.Statuses()...)
	}
	writeJSON(w, http.StatusOK, out, s.logger)
}
