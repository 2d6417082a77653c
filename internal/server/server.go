// Package server provides the HTTP server and routing for the optimizer.
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

	"github.com/aristath/optimizer/internal/config"
	"github.com/aristath/optimizer/internal/database"
	optimizationhandlers "github.com/aristath/optimizer/internal/modules/optimization/handlers"
	portfolioshandlers "github.com/aristath/optimizer/internal/modules/portfolios/handlers"
)

// Config holds server configuration
type Config struct {
	Log           zerolog.Logger
	MasterDB      *database.DB
	WorkingDB     *database.DB
	Config        *config.Config
	Optimization  *optimizationhandlers.Handler
	Portfolios    *portfolioshandlers.Handler
	Metrics       *Metrics
	SystemMetrics SystemStatsFunc
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	masterDB  *database.DB
	workingDB *database.DB
	cfg       *config.Config
	metrics   *Metrics
	limiter   *RateLimiter
	sysStats  SystemStatsFunc
	started   time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		masterDB:  cfg.MasterDB,
		workingDB: cfg.WorkingDB,
		cfg:       cfg.Config,
		metrics:   cfg.Metrics,
		limiter:   NewRateLimiter(cfg.Config.OptimizeRateLimit, cfg.Config.OptimizeBurst),
		sysStats:  cfg.SystemMetrics,
		started:   time.Now(),
	}
	if s.metrics != nil {
		s.limiter.OnReject(s.metrics.RateLimited.Inc)
	}
	if s.sysStats == nil {
		s.sysStats = SampleSystemStats
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes(cfg.Optimization, cfg.Portfolios)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Config.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Limiter returns the per-client limiter guarding the optimization routes.
func (s *Server) Limiter() *RateLimiter {
	return s.limiter
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(opt *optimizationhandlers.Handler, pf *portfolioshandlers.Handler) {
	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		if opt != nil {
			opt.RegisterRoutes(r, s.limiter.Middleware, s.cfg.RequestTimeout)
		}
		if pf != nil {
			pf.RegisterRoutes(r)
		}
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.limiter.StartCleanup(time.Minute)
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.limiter.Stop()
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if s.metrics != nil {
			pattern := chi.RouteContext(r.Context()).RoutePattern()
			s.metrics.ObserveRequest(r.Method, pattern, ww.Status(), time.Since(start))
		}

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
