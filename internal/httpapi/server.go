// Package httpapi implements the provider's external interface: the
// read/query HTTP surface over the orchestrator, rate limiter, failover
// coordinator, and performance monitor.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/flarenet/ftso-feed-provider/internal/cache"
	"github.com/flarenet/ftso-feed-provider/internal/failover"
	"github.com/flarenet/ftso-feed-provider/internal/metrics"
	"github.com/flarenet/ftso-feed-provider/internal/monitor"
	"github.com/flarenet/ftso-feed-provider/internal/orchestrator"
	"github.com/flarenet/ftso-feed-provider/internal/ratelimit"
	"github.com/flarenet/ftso-feed-provider/internal/warmer"
)

// ServerConfig holds the HTTP surface's tunables.
type ServerConfig struct {
	ListenAddr     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultServerConfig returns conservative HTTP timeouts, plus a
// per-request deadline the middleware chain enforces.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// Server is the provider's HTTP surface.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	cfg        ServerConfig

	orch       *orchestrator.Orchestrator
	cache      *cache.Cache
	limiter    *ratelimit.Limiter
	limiterCfg ratelimit.Config
	failover   *failover.Coordinator
	warmer     *warmer.Warmer
	monitor    *monitor.Monitor
	metrics    *metrics.Registry
	gatherer   prometheus.Gatherer

	log       zerolog.Logger
	startTime time.Time
}

// NewServer wires every component the HTTP surface fronts into a single
// Server and registers its routes.
func NewServer(
	cfg ServerConfig,
	orch *orchestrator.Orchestrator,
	c *cache.Cache,
	limiter *ratelimit.Limiter,
	limiterCfg ratelimit.Config,
	fc *failover.Coordinator,
	w *warmer.Warmer,
	mon *monitor.Monitor,
	metricsRegistry *metrics.Registry,
	gatherer prometheus.Gatherer,
	log zerolog.Logger,
) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		cfg:        cfg,
		orch:       orch,
		cache:      c,
		limiter:    limiter,
		limiterCfg: limiterCfg,
		failover:   fc,
		warmer:     w,
		monitor:    mon,
		metrics:    metricsRegistry,
		gatherer:   gatherer,
		log:        log.With().Str("component", "httpapi").Logger(),
		startTime:  time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.corsMiddleware)

	// Query endpoints draw on the per-client request budget; infrastructure
	// endpoints (health checks, scrapers) run on their own fixed cadence and
	// are exempt.
	queries := s.router.PathPrefix("/").Subrouter()
	queries.Use(s.jsonContentTypeMiddleware)
	queries.Use(s.rateLimitMiddleware)

	queries.HandleFunc("/feed-values", requireJSONBody(s.postFeedValues)).Methods(http.MethodPost)
	queries.HandleFunc("/feed-values/{votingRoundId}", requireJSONBody(s.postFeedValuesForRound)).Methods(http.MethodPost)
	queries.HandleFunc("/volumes", requireJSONBody(s.postVolumes)).Methods(http.MethodPost)

	infra := s.router.PathPrefix("/").Subrouter()
	infra.Use(s.jsonContentTypeMiddleware)

	infra.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	infra.HandleFunc("/health/readiness", s.getReadiness).Methods(http.MethodGet)
	infra.HandleFunc("/health/liveness", s.getLiveness).Methods(http.MethodGet)
	infra.HandleFunc("/metrics/api", s.getAPIMetrics).Methods(http.MethodGet)
	infra.HandleFunc("/metrics/performance", s.getPerformanceMetrics).Methods(http.MethodGet)

	s.router.Handle("/metrics", metrics.Handler(s.gatherer)).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.notFound)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the address the server is configured to listen on.
func (s *Server) Addr() string {
	return s.cfg.ListenAddr
}
