package api

import (
	"context"
	"net/http"
	"time"

	"example.com/fitquest/services/progression/config"
	"example.com/fitquest/services/progression/internal/api/handlers"
	"example.com/fitquest/services/progression/internal/api/middleware"
	"example.com/fitquest/services/progression/internal/coordinator"
	"example.com/fitquest/services/progression/internal/ledger"
	"example.com/fitquest/services/progression/internal/metrics"
	"example.com/fitquest/services/progression/internal/tracing"
	"example.com/fitquest/services/progression/internal/tracker"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Deps bundles the services the HTTP surface exposes
type Deps struct {
	Coordinator *coordinator.Coordinator
	Reversal    *coordinator.ReversalService
	Enricher    *coordinator.Enricher
	EventLog    coordinator.EventLogStore
	Ledger      *ledger.Service
	Operations  *tracker.Tracker
	Metrics     *metrics.Metrics
	Tracer      tracing.Tracer
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	deps       Deps
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, deps Deps) *Server {
	server := &Server{
		config: cfg,
		deps:   deps,
	}

	router := server.setupRouter()
	server.router = router

	httpServer := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: router,
	}
	server.httpServer = httpServer

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	if app := s.deps.Tracer.Application(); app != nil {
		router.Use(nrgin.Middleware(app))
	}

	eventsHandler := handlers.NewEventsHandler(
		s.deps.Coordinator,
		s.deps.Reversal,
		s.deps.Enricher,
		s.deps.EventLog,
		s.deps.Operations,
		s.deps.Tracer,
	)
	eventsHandler.RegisterRoutes(router)

	progressHandler := handlers.NewProgressHandler(s.deps.Ledger, s.deps.Tracer)
	progressHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.deps.Metrics, s.deps.Tracer)
	metricsHandler.RegisterRoutes(router)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
