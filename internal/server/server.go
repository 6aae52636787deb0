// Package server exposes the orchestrator over HTTP with a websocket event
// stream for live viewers.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/vmud/AI-image-gen-battle/internal/events"
	"github.com/vmud/AI-image-gen-battle/internal/metrics"
	"github.com/vmud/AI-image-gen-battle/internal/models"
	"github.com/vmud/AI-image-gen-battle/internal/platform"
	"github.com/vmud/AI-image-gen-battle/internal/service"
)

// Jobs is the orchestrator surface the server drives.
type Jobs interface {
	StartJob(ctx context.Context, req service.StartRequest) service.StartResult
	StopJob() service.StopResult
	GetStatus(jobID string) models.StatusView
	ResetBackend() bool
}

// HealthReporter supplies the condensed health view.
type HealthReporter interface {
	Summary() models.HealthSummary
}

// Deps are the collaborators a Server needs. Health, Metrics and the
// static directories are optional.
type Deps struct {
	Jobs         Jobs
	Events       *events.Distributor
	Health       HealthReporter
	Platform     *platform.State
	Metrics      *metrics.Collector
	GeneratedDir string
	AssetsDir    string
	Logger       *slog.Logger
}

// Server routes HTTP requests to the orchestrator and event distributor.
type Server struct {
	deps     Deps
	router   *mux.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates a server with all routes registered.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			// Viewers are served from other machines on the demo network.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(LoggingMiddleware(s.logger))

	r.HandleFunc("/command", s.handleCommand).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	if s.deps.GeneratedDir != "" {
		r.PathPrefix(service.GeneratedURLPrefix).Handler(
			http.StripPrefix(service.GeneratedURLPrefix, http.FileServer(http.Dir(s.deps.GeneratedDir))))
	}
	if s.deps.AssetsDir != "" {
		const assetsPrefix = "/static/emergency_assets/"
		r.PathPrefix(assetsPrefix).Handler(
			http.StripPrefix(assetsPrefix, http.FileServer(http.Dir(s.deps.AssetsDir))))
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
