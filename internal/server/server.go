package server

import (
	"context"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/analytics"
	"github.com/nulzo/model-gateway/internal/audit"
	"github.com/nulzo/model-gateway/internal/catalog"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/control"
	"github.com/nulzo/model-gateway/internal/gateway"
	"github.com/nulzo/model-gateway/internal/matching"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/selfheal"
	"github.com/nulzo/model-gateway/internal/server/middleware"
	"github.com/nulzo/model-gateway/internal/server/validator"
	"github.com/nulzo/model-gateway/internal/tasks"
)

// Services are the constructed components the HTTP surface exposes.
type Services struct {
	Registry  *provider.Registry
	Models    *provider.ModelRegistry
	Gateway   gateway.Service
	Control   *control.Service
	Catalog   *catalog.Service
	Matching  *matching.Engine
	SelfHeal  *selfheal.Service
	Audit     audit.Service
	Analytics analytics.Service
	Tasks     *tasks.Runner
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Reload refreshes cached registry state after a database rollback.
	Reload func(ctx context.Context) error
}

type Server struct {
	router   *gin.Engine
	config   *config.Config
	logger   *zap.Logger
	services Services
}

func New(cfg *config.Config, logger *zap.Logger, services Services) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	validator.InitValidator()

	engine := gin.New()
	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger(logger))
	if cfg.Telemetry.TracingEnabled {
		engine.Use(middleware.Tracing(cfg.Telemetry.ServiceName))
	}

	s := &Server{
		router:   engine,
		config:   cfg,
		logger:   logger,
		services: services,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer wraps the handler with the listener timeouts used in production.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              ":" + s.config.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
