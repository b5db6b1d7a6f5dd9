package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/control"
	"github.com/nulzo/model-gateway/internal/selfheal"
)

type MaintenanceHandler struct {
	service *selfheal.Service
	// reload refreshes in-memory state from the store after a rollback.
	reload func(ctx context.Context) error
	logger *zap.Logger
}

func NewMaintenanceHandler(service *selfheal.Service, reload func(ctx context.Context) error, logger *zap.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		service: service,
		reload:  reload,
		logger:  logger,
	}
}

// DailyTick runs the daily check unless it already ran in the last 24h.
//
// POST /api/control/self_heal/daily_tick
func (h *MaintenanceHandler) DailyTick(c *gin.Context) {
	report, err := h.service.DailyTick(c.Request.Context(), control.Actor)
	if err != nil {
		_ = c.Error(problemFor(err, "Daily check failed"))
		return
	}
	c.JSON(http.StatusOK, report)
}

// RunFullCheck runs every maintenance step now.
//
// POST /api/control/self_heal/run_full_check
func (h *MaintenanceHandler) RunFullCheck(c *gin.Context) {
	report, err := h.service.RunFullCheck(c.Request.Context(), control.Actor)
	if err != nil {
		_ = c.Error(problemFor(err, "Full check failed"))
		return
	}
	c.JSON(http.StatusOK, report)
}

// POST /api/control/self_heal/backup
func (h *MaintenanceHandler) Backup(c *gin.Context) {
	name, err := h.service.Backup(c.Request.Context(), control.Actor, "manual")
	if err != nil {
		_ = c.Error(problemFor(err, "Backup failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "backup": name})
}

// GET /api/control/self_heal/backups
func (h *MaintenanceHandler) ListBackups(c *gin.Context) {
	names, err := h.service.Backups()
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to list backups"))
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"items": names})
}

// GET /api/control/self_heal/integrity
func (h *MaintenanceHandler) Integrity(c *gin.Context) {
	res, err := h.service.IntegrityCheck(c.Request.Context())
	if err != nil {
		_ = c.Error(problemFor(err, "Integrity check failed"))
		return
	}
	c.JSON(http.StatusOK, res)
}

// RollbackLatest restores the newest backup and reloads cached config.
//
// POST /api/control/self_heal/rollback_latest
func (h *MaintenanceHandler) RollbackLatest(c *gin.Context) {
	ctx := c.Request.Context()
	name, err := h.service.RollbackLatest(ctx, control.Actor)
	if err != nil {
		_ = c.Error(problemFor(err, "Rollback failed"))
		return
	}
	if h.reload != nil {
		if err := h.reload(ctx); err != nil {
			h.logger.Error("Failed to reload state after rollback", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "restored": name})
}
