package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/score"
)

// Server wires the scoring handlers into a chi router with the shared
// middleware stack.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer builds the router. Health endpoints are open; everything
// else requires the X-Tenant-ID header.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, processor *score.Processor, riskCfg *domain.RiskConfig, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, processor, riskCfg, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/score", handler.Score)
		r.Post("/config/validate", handler.ValidateConfig)
		r.Get("/runs/{id}", handler.GetRun)
		r.Get("/flagged", handler.ListFlagged)
		r.Get("/transactions/{id}", handler.GetTransaction)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the chi router for httptest servers.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler exposes the handler for tests.
func (s *Server) Handler() *Handler {
	return s.handler
}
