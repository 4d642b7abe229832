package gatekeeper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/devrev/dbrouter/internal/apierrors"
	"github.com/devrev/dbrouter/internal/config"
	"github.com/devrev/dbrouter/internal/health"
	"github.com/devrev/dbrouter/internal/metrics"
	"github.com/devrev/dbrouter/internal/middleware"
	"github.com/devrev/dbrouter/internal/store"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server represents the gatekeeper HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *Handlers
	healthCheck  *health.HealthCheck
	errorHandler *apierrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cfg          *config.GatekeeperConfig
}

// NewServer creates a new gatekeeper HTTP server. idempotency may be nil.
func NewServer(
	cfg *config.GatekeeperConfig,
	client ProxyClient,
	idempotency store.IdempotencyStore,
	healthCheck *health.HealthCheck,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()
	errorHandler := apierrors.NewHandler(logger)

	var ttl time.Duration
	if idempotency != nil {
		ttl = cfg.Idempotency.TTL
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     NewHandlers(client, idempotency, ttl, errorHandler, logger),
		healthCheck:  healthCheck,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	// Setup middleware chain
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.CORS([]string{"*"}),
		metrics.MetricsMiddleware(s.metrics),
	}

	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	s.router.HandleFunc("/", s.healthCheck.RootHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	s.router.HandleFunc("/write-query", s.handlers.WriteQuery).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/read-query", s.handlers.ReadQuery).Methods(http.MethodPost, http.MethodOptions)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apierrors.ErrorCodeInvalidRequest, "endpoint not found", r.Header.Get(middleware.RequestIDHeader))
	})

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apierrors.ErrorCodeInvalidRequest, "method not allowed", r.Header.Get(middleware.RequestIDHeader))
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting gatekeeper HTTP server", zap.Int("port", s.cfg.Server.Port))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gatekeeper HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
