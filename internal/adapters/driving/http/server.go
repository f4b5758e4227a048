// Package http is the HTTP driving adapter exposing spec.md section 6's
// endpoint table over the core services, following the teacher's
// net/http.ServeMux + graceful-shutdown shape.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thunderrag/core/internal/core/ports/driving"
)

// Pinger is a health-check interface implemented by the database and
// cache clients the health endpoint pings directly, matching the
// teacher's handleHealth rather than routing health checks through a
// service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP driving adapter.
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string

	ingestionService driving.IngestionService
	queryService     driving.QueryService
	sessionService   driving.SessionService
	adminService     driving.AdminService

	db          Pinger // PostgreSQL health check
	redisClient Pinger // optional Redis health check
	gateway     Pinger // model gateway health check

	logger *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Addr    string
	Version string
}

// NewServer creates a new HTTP server and registers all routes.
func NewServer(
	cfg Config,
	ingestionService driving.IngestionService,
	queryService driving.QueryService,
	sessionService driving.SessionService,
	adminService driving.AdminService,
	db Pinger,
	redisClient Pinger, // may be nil
	gateway Pinger, // may be nil
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:           http.NewServeMux(),
		version:          cfg.Version,
		ingestionService: ingestionService,
		queryService:     queryService,
		sessionService:   sessionService,
		adminService:     adminService,
		db:               db,
		redisClient:      redisClient,
		gateway:          gateway,
		logger:           logger,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.buildHandler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

func (s *Server) buildHandler() http.Handler {
	recovery := NewRecoveryMiddleware()
	logging := NewLoggingMiddleware(s.logger)
	return logging.Handler(recovery.Handler(s.router))
}

// Handler exposes the fully wrapped handler (middleware included) for
// embedding in an httptest.Server or another outer mux, without starting
// this Server's own listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /healthz", s.handleHealthz)
	s.router.HandleFunc("GET /readyz", s.handleReadyz)
	s.router.HandleFunc("GET /version", s.handleVersion)

	s.router.HandleFunc("POST /ingest", s.handleIngest)

	s.router.HandleFunc("POST /query", s.handleQueryPhase1)
	s.router.HandleFunc("POST /query/evidence", s.handleQueryEvidence)
	s.router.HandleFunc("POST /query/complete", s.handleQueryComplete)

	s.router.HandleFunc("POST /admin/delete", s.handleAdminDelete)
	s.router.HandleFunc("POST /admin/reset", s.handleAdminReset)
	s.router.HandleFunc("POST /admin/mark_processed", s.handleAdminMarkProcessed)
	s.router.HandleFunc("POST /admin/mark_unprocessed", s.handleAdminMarkUnprocessed)
	s.router.HandleFunc("POST /admin/ingested_status", s.handleAdminIngestedStatus)
	s.router.HandleFunc("POST /admin/ingested_detail", s.handleAdminIngestedDetail)
	s.router.HandleFunc("POST /admin/session/debug", s.handleAdminSessionDebug)
	s.router.HandleFunc("POST /admin/session/reset", s.handleAdminSessionReset)
}

// Start runs the server until an interrupt/SIGTERM signal is received,
// then shuts down gracefully.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-stop:
	}

	s.logger.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Stop shuts the server down using the given context's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
