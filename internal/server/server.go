// Package server exposes job status over HTTP while jobs run in the
// same process. It serves health probes, build info, guard state for
// each job type, and the persisted run log.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/hina0118/mailbatch/internal/errors"
	"github.com/hina0118/mailbatch/internal/server/handlers"
	"github.com/hina0118/mailbatch/internal/server/middleware"
	"github.com/hina0118/mailbatch/pkg/jobstate"
	"github.com/hina0118/mailbatch/pkg/runlog"
)

// Server is the embedded status HTTP server.
type Server struct {
	host   string
	port   int
	logger *zap.Logger

	registry  *jobstate.Registry
	runs      *runlog.Store
	cancelPub handlers.CancelPublisher

	router chi.Router
	http   *http.Server
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithJobRegistry attaches the guard registry backing /api/jobs.
func WithJobRegistry(registry *jobstate.Registry) Option {
	return func(s *Server) { s.registry = registry }
}

// WithRunStore attaches the run log backing /api/runs.
func WithRunStore(store *runlog.Store) Option {
	return func(s *Server) { s.runs = store }
}

// WithCancelPublisher attaches the bus publisher that relays cancel
// requests to job runs in other processes.
func WithCancelPublisher(p handlers.CancelPublisher) Option {
	return func(s *Server) { s.cancelPub = p }
}

// WithLogger sets the request logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New builds a server listening on host:port. Port 0 lets the OS pick.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:   host,
		port:   port,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(s.logRequests)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusNotFound, apperrors.CodeNotFound,
			"route not found", apperrors.RequestIDFrom(req), nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed,
			"method not allowed", apperrors.RequestIDFrom(req), nil)
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.registry != nil {
		r.Get("/api/jobs", handlers.JobsHandler(s.registry, s.runs))
		r.Post("/api/jobs/{jobType}/cancel", handlers.CancelJobHandler(s.registry, s.cancelPub))
	}
	if s.runs != nil {
		r.Get("/api/runs", handlers.RunsHandler(s.runs))
		r.Get("/api/runs/{runID}", handlers.RunHandler(s.runs))
	}

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		s.logger.Debug("http request",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port (not the bound port when 0).
func (s *Server) Port() int {
	return s.port
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("status server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
