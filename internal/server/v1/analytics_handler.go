package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/internal/analytics"
	"github.com/nulzo/model-gateway/pkg/api"
)

type AnalyticsHandler struct {
	service analytics.Service
}

func NewAnalyticsHandler(service analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{
		service: service,
	}
}

// ProviderStats aggregates dispatch attempts per provider.
//
// GET /api/control/stats?days=7
func (h *AnalyticsHandler) ProviderStats(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil {
		_ = c.Error(api.BadRequestError("Invalid 'days' parameter"))
		return
	}

	stats, err := h.service.ProviderStats(c.Request.Context(), days)
	if err != nil {
		_ = c.Error(api.InternalError("Failed to fetch analytics", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   stats,
	})
}

// RecentTraces returns the latest dispatch trace events.
//
// GET /api/control/traces?limit=100
func (h *AnalyticsHandler) RecentTraces(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		_ = c.Error(api.BadRequestError("Invalid 'limit' parameter"))
		return
	}

	traces, err := h.service.RecentTraces(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(api.InternalError("Failed to fetch traces", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   traces,
	})
}
