// Package gateway provides the HTTP gateway server.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"pybox/internal/config"
	"pybox/internal/gateway/handlers"
	"pybox/internal/gateway/middleware"
	"pybox/internal/pyexec"
	"pybox/internal/storage"
	"pybox/pkg/logger"
)

// Server represents the HTTP gateway server.
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	config      *config.Config
	executor    *pyexec.Executor
	db          *storage.DB
	rateLimiter *middleware.RateLimiter
	version     string
}

// NewServer creates a new gateway server. db may be nil when execution
// history is disabled.
func NewServer(cfg *config.Config, executor *pyexec.Executor, db *storage.DB, version string) *Server {
	router := mux.NewRouter()

	rlConfig := middleware.RateLimiterConfig{
		RequestsPerMinute: cfg.Gateway.RateLimit.RequestsPerMinute,
		Burst:             cfg.Gateway.RateLimit.Burst,
		Enabled:           cfg.Gateway.RateLimit.Enabled,
		CleanupInterval:   cfg.Gateway.RateLimit.CleanupInterval,
	}
	if rlConfig.RequestsPerMinute == 0 {
		rlConfig.RequestsPerMinute = 60
	}
	if rlConfig.Burst == 0 {
		rlConfig.Burst = 10
	}
	if rlConfig.CleanupInterval == 0 {
		rlConfig.CleanupInterval = 5 * time.Minute
	}
	rateLimiter := middleware.NewRateLimiter(rlConfig)

	// Middleware chain: Recovery -> Logging -> CORS -> RateLimit
	handler := middleware.Recovery(
		middleware.Logging(
			middleware.CORS(
				rateLimiter.RateLimit(router),
			),
		),
	)

	server := &Server{
		httpServer: &http.Server{
			Handler:      handler,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		router:      router,
		config:      cfg,
		executor:    executor,
		db:          db,
		rateLimiter: rateLimiter,
		version:     version,
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures the server routes.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", handlers.HealthHandler(s.version, s.executor.Backend().Name())).Methods(http.MethodGet)
	api.HandleFunc("/execute", handlers.ExecuteHandler(s.executor, s.db)).Methods(http.MethodPost)
	api.HandleFunc("/executions", handlers.ListExecutionsHandler(s.db)).Methods(http.MethodGet)
	api.HandleFunc("/executions/{id}", handlers.GetExecutionHandler(s.db)).Methods(http.MethodGet)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	handlers.InitStartTime()

	addr := fmt.Sprintf("%s:%d", s.config.Gateway.Host, s.config.Gateway.Port)
	s.httpServer.Addr = addr

	logger.Info().
		Str("addr", addr).
		Msg("Starting gateway server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("Shutting down gateway server")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	return nil
}

// Router returns the underlying router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}
