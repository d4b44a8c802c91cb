package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tenantdesk/exojobs/infrastructure/http/middleware"
	"github.com/tenantdesk/exojobs/infrastructure/http/response"
	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
	"github.com/tenantdesk/exojobs/internal/config"
)

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP server
type Server struct {
	addr   string
	logger logger.Logger
	server *http.Server
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MetricsPath  string
	Security     config.SecurityConfig
}

// Routes bundles what the router serves
type Routes struct {
	Jobs      *JobHandler
	Audits    *AuditHandler
	Auth      *middleware.AuthMiddleware
	RateLimit *middleware.RateLimitMiddleware
	Gatherer  prometheus.Gatherer
	Health    HealthCheck
}

// NewServer creates a new HTTP server
func NewServer(config ServerConfig, routes Routes, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}

	return &Server{
		addr:   config.Addr,
		logger: log,
		server: &http.Server{
			Addr:         config.Addr,
			Handler:      NewHandler(config, routes, log),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// NewHandler builds the router with its middleware chain
func NewHandler(config ServerConfig, routes Routes, log logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	router := mux.NewRouter()

	router.HandleFunc("/health", healthHandler(routes.Health)).Methods(http.MethodGet)

	if routes.Gatherer != nil {
		path := config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, promhttp.HandlerFor(routes.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	if routes.Auth != nil {
		api.Use(routes.Auth.RequireJobRole)
	}

	var limit func(http.Handler) http.Handler
	if routes.RateLimit != nil {
		limit = routes.RateLimit.RateLimit
	}
	if routes.Jobs != nil {
		routes.Jobs.RegisterRoutes(api, limit)
	}
	if routes.Audits != nil {
		routes.Audits.RegisterRoutes(api)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "Route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w)
	})

	// CORS sits outside the router so preflight requests never reach route matching
	var handler http.Handler = router
	handler = middleware.CORSMiddleware(config.Security)(handler)
	handler = middleware.RecoveryMiddleware(log)(handler)
	handler = middleware.LoggingMiddleware(log)(handler)
	handler = middleware.CorrelationIDMiddleware(handler)
	return handler
}

func healthHandler(check HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				response.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
		}
		response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "Starting HTTP server", map[string]interface{}{"addr": s.addr})
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server", nil)
	return s.server.Shutdown(ctx)
}
