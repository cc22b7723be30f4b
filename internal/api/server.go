package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/FairForge/guardrail/internal/breaker"
	"github.com/FairForge/guardrail/internal/config"
	"github.com/FairForge/guardrail/internal/metrics"
	"github.com/FairForge/guardrail/internal/orchestrator"
)

// Server hosts the gateway's HTTP surface: validation, probes, metrics and
// the breaker debug endpoints.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server

	orch     *orchestrator.Orchestrator
	breakers *breaker.Registry
	metrics  *metrics.Metrics
}

func NewServer(cfg *config.Config, logger *zap.Logger, orch *orchestrator.Orchestrator, breakers *breaker.Registry, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:   cfg,
		logger:   logger,
		router:   chi.NewRouter(),
		orch:     orch,
		breakers: breakers,
		metrics:  m,
	}

	// Middleware before routes.
	s.router.Use(s.loggingMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleRoot)
	s.router.Post("/v1/validate", s.handleValidate)
	s.router.Get("/v1/health", s.handleHealth)
	s.router.Get("/v1/ready", s.handleReady)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/debug/circuit-breakers", func(r chi.Router) {
		r.Get("/", s.handleBreakerStatus)
		r.Post("/{name}/close", s.handleBreakerClose)
		r.Post("/{name}/open", s.handleBreakerOpen)
	})
}

// Router exposes the handler tree, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
