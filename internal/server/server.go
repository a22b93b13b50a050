// Package server provides the HTTP admin surface: pipeline control,
// scheduler management, health, and metrics. The dashboard reads only
// committed rows; nothing here exposes in-flight data.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/abood991b/insightbull/internal/pipeline"
	"github.com/abood991b/insightbull/internal/repository"
	"github.com/abood991b/insightbull/internal/scheduler"
)

// Config holds server configuration.
type Config struct {
	Port      int
	DevMode   bool
	Log       zerolog.Logger
	Pipeline  *pipeline.Pipeline
	Scheduler *scheduler.Scheduler
	Store     *repository.Store
	Registry  *prometheus.Registry
}

// Server is the HTTP admin server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
	store     *repository.Store
	events    *eventStream
}

// New builds the router and handlers.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		pipeline:  cfg.Pipeline,
		scheduler: cfg.Scheduler,
		store:     cfg.Store,
		events:    newEventStream(cfg.Scheduler, cfg.Log),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	// Manual pipeline triggers can legitimately run for minutes.
	s.router.Use(middleware.Timeout(10 * time.Minute))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	s.routes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // pipeline trigger requests can be slow
	}

	if cfg.Registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	return s
}

func (s *Server) routes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Route("/pipeline", func(r chi.Router) {
			r.Post("/run", s.handlePipelineRun)
			r.Post("/cancel", s.handlePipelineCancel)
			r.Get("/status", s.handlePipelineStatus)
			r.Get("/health", s.handlePipelineHealth)

			r.Route("/scheduler", func(r chi.Router) {
				r.Get("/jobs", s.handleListJobs)
				r.Post("/jobs/{jobID}/enable", s.handleEnableJob)
				r.Post("/jobs/{jobID}/disable", s.handleDisableJob)
				r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
				r.Post("/jobs/refresh", s.handleRefreshJobs)
				r.Get("/history", s.handleRunHistory)
				r.Get("/events", s.handleRecentEvents)
				r.Get("/events/stream", s.events.handleWebsocket)
				r.Get("/quotas", s.handleQuotaStatus)
			})
		})

		r.Route("/stocks", func(r chi.Router) {
			r.Get("/", s.handleListTickers)
			r.Post("/{symbol}/activate", s.handleActivateTicker)
			r.Post("/{symbol}/deactivate", s.handleDeactivateTicker)
			r.Post("/{symbol}/priority", s.handleSetPriority)
			r.Get("/{symbol}/sentiments", s.handleTickerSentiments)
		})

		r.Get("/health", s.handleHealth)
	})
}

// Start runs the HTTP server and the event stream broadcaster.
func (s *Server) Start() error {
	s.events.start()
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.events.stop()
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
