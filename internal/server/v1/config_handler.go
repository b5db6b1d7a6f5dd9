package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/internal/config"
)

type ConfigHandler struct {
	config *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{config: cfg}
}

// Get returns the effective runtime settings. Secrets are reported only as
// whether they are set.
//
// GET /api/control/config
func (h *ConfigHandler) Get(c *gin.Context) {
	cfg := h.config
	c.JSON(http.StatusOK, gin.H{
		"server": gin.H{
			"env":         cfg.Server.Env,
			"auth_active": cfg.Server.APIKey != "",
		},
		"store": gin.H{
			"path":       cfg.Store.Path,
			"backup_dir": cfg.Store.BackupDir,
		},
		"upstream": gin.H{
			"base_url":        cfg.Upstream.BaseURL,
			"model":           cfg.Upstream.Model,
			"has_api_key":     cfg.Upstream.APIKey != "",
			"default_timeout": cfg.Upstream.DefaultTimeout.String(),
		},
		"scheduler": gin.H{
			"enabled":         cfg.Scheduler.Enabled,
			"poll_interval":   cfg.Scheduler.PollInterval.String(),
			"health_interval": cfg.Scheduler.HealthInterval.String(),
		},
		"audit": gin.H{
			"retention_days": cfg.Audit.RetentionDays,
			"has_key":        cfg.Audit.Key != "",
		},
		"cache": gin.H{
			"driver": cfg.Cache.Driver,
			"ttl":    cfg.Cache.TTL.String(),
		},
		"telemetry": cfg.Telemetry,
	})
}
