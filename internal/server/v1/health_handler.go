package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/internal/provider"
)

type HealthHandler struct {
	registry *provider.Registry
}

func NewHealthHandler(registry *provider.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

// Health reports liveness and how many providers the last probe saw up.
//
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	snap, err := h.registry.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}

	up := 0
	for _, p := range snap.Providers {
		if p.Runtime.Health.Status == provider.HealthUp {
			up++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"providers":    len(snap.Providers),
		"providers_up": up,
	})
}
