package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/service"
	"mercator-hq/warden/pkg/telemetry/health"
	"mercator-hq/warden/pkg/telemetry/metrics"
	"mercator-hq/warden/pkg/telemetry/tracing"
)

// Server is the HTTP front of the compliance service.
type Server struct {
	config      *config.ServerConfig
	service     *service.Service
	health      *health.Checker
	readyRate   int
	metrics     *metrics.Collector
	metricsPath string
	tracing     bool
	version     versionInfo
	logger      *slog.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

type versionInfo struct {
	version, commit, buildTime string
}

// Option configures a Server.
type Option func(*Server)

// WithHealth serves /health/live and /health/ready from checker. Readiness
// requests beyond readyPerSecond are answered with 429; zero or less
// leaves them unlimited.
func WithHealth(checker *health.Checker, readyPerSecond int) Option {
	return func(s *Server) {
		s.health = checker
		s.readyRate = readyPerSecond
	}
}

// WithMetrics records request metrics on collector and serves its registry
// at path.
func WithMetrics(collector *metrics.Collector, path string) Option {
	return func(s *Server) {
		s.metrics = collector
		s.metricsPath = path
	}
}

// WithTracing opens a server span per request.
func WithTracing(enabled bool) Option {
	return func(s *Server) { s.tracing = enabled }
}

// WithVersion sets the build information served at /version.
func WithVersion(version, commit, buildTime string) Option {
	return func(s *Server) { s.version = versionInfo{version, commit, buildTime} }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a server for svc.
func NewServer(cfg *config.ServerConfig, svc *service.Service, opts ...Option) *Server {
	s := &Server{
		config:      cfg,
		service:     svc,
		metricsPath: config.DefaultMetricsPath,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

// Start serves HTTP and blocks until ctx is cancelled or the listener
// fails. Cancellation triggers a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddress,
		Handler:        s.routes(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "address", s.config.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown gracefully shuts down the server. Only the first call has any
// effect.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		httpServer := s.httpServer
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("http server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.requestLogger)
	if s.metrics != nil {
		r.Use(s.recordMetrics)
	}
	r.Use(recoverer)
	if s.tracing {
		r.Use(tracing.HTTPMiddleware)
	}
	r.Use(actorIdentity)
	r.Use(s.limitBody)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, &requestError{status: http.StatusNotFound, code: "not_found", msg: "no such route"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, &requestError{status: http.StatusMethodNotAllowed, code: "method_not_allowed", msg: "method not allowed"})
	})

	if s.health != nil {
		r.Get("/health/live", s.health.LivenessHandler())
		r.Get("/health/ready", health.RateLimitedHandler(s.health.ReadinessHandler(), s.readyRate))
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, s.metricsPath, s.metrics.Handler())
	}
	if s.version.version != "" {
		r.Get("/version", health.VersionHandler(s.version.version, s.version.commit, s.version.buildTime))
	}

	r.Route("/v1", func(r chi.Router) {
		// Reads are open to any caller the auth layer let through.
		r.Get("/vendors/{vendorID}/facts", s.vendorFacts)
		r.Get("/vendors/{vendorID}/failures", s.vendorFailures)

		r.Get("/policies", s.listPolicies)
		r.Get("/policies/{id}", s.getPolicy)
		r.Get("/policies/{id}/versions", s.policyVersions)

		r.Get("/cases", s.listCases)
		r.Get("/cases/at-risk", s.casesAtRisk)
		r.Get("/cases/overdue", s.overdueCases)
		r.Get("/cases/{caseNumber}", s.getCase)

		r.Group(func(r chi.Router) {
			r.Use(requireActor)

			r.Post("/signals", s.ingestSignal)
			r.Post("/vendors/{vendorID}/evaluate", s.evaluateVendor)

			r.Post("/policies", s.createPolicy)
			r.Put("/policies/{id}", s.updatePolicy)
			r.Delete("/policies/{id}", s.deletePolicy)
			r.Post("/policies/{id}/submit", s.policyTransition(s.service.SubmitPolicy))
			r.Post("/policies/{id}/approve", s.policyTransition(s.service.ApprovePolicy))
			r.Post("/policies/{id}/reject", s.rejectPolicy)
			r.Post("/policies/{id}/activate", s.policyTransition(s.service.ActivatePolicy))
			r.Post("/policies/{id}/deactivate", s.policyTransition(s.service.DeactivatePolicy))
			r.Post("/policies/{id}/clone", s.clonePolicy)
			r.Post("/policies/{id}/archive", s.policyTransition(s.service.ArchivePolicy))
			r.Post("/policies/{id}/test", s.testPolicy)

			r.Post("/cases", s.createCase)
			r.Post("/cases/{caseNumber}/actions", s.addCaseAction)
			r.Post("/cases/{caseNumber}/assign", s.assignCase)
			r.Post("/cases/{caseNumber}/advance", s.advanceCase)
			r.Post("/cases/{caseNumber}/escalate", s.escalateCase)
			r.Post("/cases/{caseNumber}/resolve", s.resolveCase)
			r.Post("/cases/{caseNumber}/reject", s.rejectCase)
			r.Post("/cases/{caseNumber}/close", s.closeCase)

			r.Post("/sla/sweep", s.runSweep)
		})
	})

	return r
}
