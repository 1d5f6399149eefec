package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/netriage/config"
	core "github.com/mohammad-safakhou/netriage/internal/agent/core"
	"github.com/mohammad-safakhou/netriage/internal/agent/telemetry"
	"github.com/mohammad-safakhou/netriage/internal/endpoint"
	"github.com/mohammad-safakhou/netriage/internal/store"
	"github.com/mohammad-safakhou/netriage/provider"
)

// Server exposes the triage engine over HTTP.
type Server struct {
	cfg    *config.Config
	orch   *core.Orchestrator
	logger *log.Logger
	audit  *store.AuditStore
}

// New assembles the full dependency graph from config: providers, endpoint
// catalog, telemetry, orchestrator and the optional audit sink. Anything
// miswired fails here, before the listener opens.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	registry, err := provider.NewRegistry(cfg.LLM)
	if err != nil {
		return nil, err
	}
	catalogCfgs, err := endpoint.LoadCatalog(cfg.Endpoints.Path)
	if err != nil {
		return nil, err
	}
	catalog, err := endpoint.NewCatalog(catalogCfgs)
	if err != nil {
		return nil, err
	}
	tele := telemetry.NewTelemetry(cfg.Telemetry, nil)
	orch, err := core.NewOrchestrator(cfg, registry, catalog, tele)
	if err != nil {
		return nil, err
	}

	s := newServer(cfg, orch)
	if cfg.Audit.Enabled() {
		audit, err := store.NewAuditStore(ctx, cfg.Audit)
		if err != nil {
			return nil, err
		}
		s.audit = audit
		orch.SetAuditor(audit)
	}
	return s, nil
}

func newServer(cfg *config.Config, orch *core.Orchestrator) *Server {
	return &Server{
		cfg:    cfg,
		orch:   orch,
		logger: log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}
}

// Echo builds the router with middleware and routes registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	if s.cfg.Server.JWTSecret != "" {
		secret := []byte(s.cfg.Server.JWTSecret)
		api.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	}
	api.POST("/chat", s.handleChat)
	api.GET("/config", s.handleConfig)
	return e
}

// Run serves until the listener fails or the process stops.
func (s *Server) Run() error {
	e := s.Echo()
	s.logger.Printf("listening on %s", s.cfg.Server.Address)
	return e.Start(s.cfg.Server.Address)
}

// Close releases held resources.
func (s *Server) Close() error {
	if s.audit != nil {
		return s.audit.Close()
	}
	return nil
}
