package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/techcortex/buildcheck/internal/domain"
)

// Server is the buildcheck HTTP API.
type Server struct {
	router *chi.Mux
	config domain.ServerConfig

	mu     sync.Mutex
	server *http.Server
}

// NewServer wires the handlers for deps into a chi router.
func NewServer(cfg domain.ServerConfig, deps Dependencies) *Server {
	router := chi.NewRouter()

	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	mountRoutes(router, NewHandler(deps))

	return &Server{router: router, config: cfg}
}

func mountRoutes(router chi.Router, h *Handler) {
	// Probes and scraping carry no tenant.
	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/validate", h.Validate)
		r.Get("/validations/{id}", h.GetValidation)
		r.Post("/builds/{id}/selection", h.PublishSelection)

		r.Get("/categories", h.ListCategories)
		r.Get("/rules", h.ListRules)
		r.Get("/rules/{id}", h.GetRule)
		r.Post("/rules/check", h.CheckRule)
		r.Post("/catalog/reload", h.ReloadCatalog)
	})
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	return srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Router exposes the routes for in-process use such as httptest.
func (s *Server) Router() http.Handler {
	return s.router
}
