package server

import (
	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/internal/server/middleware"
	v1 "github.com/nulzo/model-gateway/internal/server/v1"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.ErrorHandler(s.logger))

	limiter := middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst, s.logger)
	auth := middleware.Auth(s.config.Server.APIKey)
	svc := s.services

	// Public
	s.router.GET("/health", v1.NewHealthHandler(svc.Registry).Health)
	if svc.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(svc.Metrics))
	}

	// OpenAI-compatible surface
	gatewayHandler := v1.NewGatewayHandler(svc.Gateway, svc.Models)
	openai := s.router.Group("/v1", limiter.Middleware(), auth)
	{
		openai.POST("/chat/completions", gatewayHandler.ChatCompletions)
		openai.POST("/embeddings", gatewayHandler.Embeddings)
		openai.GET("/models", gatewayHandler.ListModels)
		openai.GET("/candidates", gatewayHandler.ResolveCandidates)
	}

	controlHandler := v1.NewControlHandler(svc.Control)
	catalogHandler := v1.NewCatalogHandler(svc.Catalog, svc.Matching, svc.Control)
	maintenanceHandler := v1.NewMaintenanceHandler(svc.SelfHeal, svc.Reload, s.logger)
	auditHandler := v1.NewAuditHandler(svc.Audit)
	analyticsHandler := v1.NewAnalyticsHandler(svc.Analytics)
	configHandler := v1.NewConfigHandler(s.config)

	ctl := s.router.Group("/api/control", auth)
	{
		ctl.GET("/config", configHandler.Get)

		ctl.GET("/providers", controlHandler.ListProviders)
		ctl.POST("/providers", controlHandler.UpsertProvider)
		ctl.DELETE("/providers/:id", controlHandler.DeleteProvider)
		ctl.POST("/providers/:id/test", controlHandler.TestProvider)
		ctl.POST("/defaults", controlHandler.SetDefaultProvider)
		ctl.GET("/model_defaults", controlHandler.GetModelDefaults)
		ctl.POST("/model_defaults", controlHandler.SetModelDefaults)

		ctl.GET("/models", controlHandler.ListAliases)
		ctl.POST("/models", controlHandler.UpsertAlias)
		ctl.DELETE("/models/:id", controlHandler.DeleteAlias)

		ctl.GET("/profiles", controlHandler.ListProfiles)
		ctl.POST("/profiles", controlHandler.UpsertProfile)
		ctl.POST("/profiles/default", controlHandler.SetDefaultProfile)
		ctl.DELETE("/profiles/:id", controlHandler.DeleteProfile)

		ctl.GET("/model_catalog", catalogHandler.ListCatalog)
		ctl.POST("/model_catalog/sync", catalogHandler.SyncCatalog)
		ctl.GET("/layer_presets", catalogHandler.ListPresets)
		ctl.POST("/layer_presets", catalogHandler.UpsertPresets)

		ctl.GET("/audit_logs", auditHandler.List)
		ctl.GET("/stats", analyticsHandler.ProviderStats)
		ctl.GET("/traces", analyticsHandler.RecentTraces)

		heal := ctl.Group("/self_heal")
		heal.POST("/daily_tick", maintenanceHandler.DailyTick)
		heal.POST("/run_full_check", maintenanceHandler.RunFullCheck)
		heal.POST("/rollback_latest", maintenanceHandler.RollbackLatest)
		heal.POST("/backup", maintenanceHandler.Backup)
		heal.GET("/backups", maintenanceHandler.ListBackups)
		heal.GET("/integrity", maintenanceHandler.Integrity)
	}

	if svc.Tasks != nil {
		tasksHandler := v1.NewTasksHandler(svc.Tasks)
		api := s.router.Group("/api", auth)
		api.GET("/tasks", tasksHandler.List)
		api.POST("/tasks", tasksHandler.Create)
		api.POST("/research", tasksHandler.EnqueueResearch)
		api.GET("/research/:id", tasksHandler.GetResearch)
	}
}
