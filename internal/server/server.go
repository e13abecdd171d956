// Package server provides the HTTP read API and event streams for Foresight.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/dkalathas/foresight/internal/accuracy"
	"github.com/dkalathas/foresight/internal/calendar"
	"github.com/dkalathas/foresight/internal/config"
	"github.com/dkalathas/foresight/internal/database"
	"github.com/dkalathas/foresight/internal/events"
	"github.com/dkalathas/foresight/internal/ledger"
	"github.com/dkalathas/foresight/internal/models"
)

// Config holds server configuration
type Config struct {
	Log      zerolog.Logger
	DB       *database.DB
	Config   *config.Config
	Models   *models.Repository
	Ledger   *ledger.Repository
	Accuracy *accuracy.Repository
	Calendar *calendar.Service
	EventBus *events.Bus
	Port     int
	DevMode  bool
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	stockHandlers  *StockHandlers
	systemHandlers *SystemHandlers
	eventsStream   *EventsStreamHandler
	eventsWS       *EventsWebSocketHandler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		stockHandlers:  NewStockHandlers(cfg.Models, cfg.Ledger, cfg.Accuracy, cfg.Calendar, cfg.Log),
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.DB),
		eventsStream:   NewEventsStreamHandler(cfg.EventBus, cfg.Log),
		eventsWS:       NewEventsWebSocketHandler(cfg.EventBus, cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Event streams first so the timeout middleware ordering stays
		// obvious for long-lived connections.
		r.Get("/events/stream", s.eventsStream.ServeHTTP)
		r.Get("/events/ws", s.eventsWS.ServeHTTP)

		r.Route("/stocks", func(r chi.Router) {
			r.Get("/", s.stockHandlers.HandleList)
			r.Get("/{symbol}", s.stockHandlers.HandleDetail)
			r.Get("/{symbol}/accuracy", s.stockHandlers.HandleAccuracy)
		})

		r.Get("/system/status", s.systemHandlers.HandleSystemStatus)
	})
}

// Start starts the HTTP server (blocking)
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth responds to health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
