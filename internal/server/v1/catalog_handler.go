package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/internal/catalog"
	"github.com/nulzo/model-gateway/internal/control"
	"github.com/nulzo/model-gateway/internal/matching"
	"github.com/nulzo/model-gateway/internal/server/validator"
	"github.com/nulzo/model-gateway/pkg/api"
)

type CatalogHandler struct {
	catalog  *catalog.Service
	matching *matching.Engine
	control  *control.Service
}

func NewCatalogHandler(catalogSvc *catalog.Service, engine *matching.Engine, controlSvc *control.Service) *CatalogHandler {
	return &CatalogHandler{
		catalog:  catalogSvc,
		matching: engine,
		control:  controlSvc,
	}
}

// ListCatalog returns cached catalog rows for one provider.
//
// GET /api/control/model_catalog?provider_id=&status=online&limit=
func (h *CatalogHandler) ListCatalog(c *gin.Context) {
	providerID := c.Query("provider_id")
	if providerID == "" {
		_ = c.Error(api.ValidationError(map[string]string{"provider_id": "provider_id is a required field"}))
		return
	}
	status := c.DefaultQuery("status", "online")
	if status != "online" && status != "offline" {
		_ = c.Error(api.ValidationError(map[string]string{"status": "must be one of [online, offline]"}))
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}

	items, err := h.catalog.ListCached(c.Request.Context(), providerID, status, int(limit))
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to list model catalog"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"provider_id": providerID,
		"status":      status,
		"items":       items,
	})
}

type syncCatalogRequest struct {
	ProviderID string `json:"provider_id"`
}

// SyncCatalog fetches a provider's models (the default provider when
// provider_id is omitted) and re-matches layer presets.
//
// POST /api/control/model_catalog/sync
func (h *CatalogHandler) SyncCatalog(c *gin.Context) {
	var req syncCatalogRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
			return
		}
	}

	res, err := h.control.SyncCatalog(c.Request.Context(), req.ProviderID, control.Actor)
	if err != nil {
		_ = c.Error(problemFor(err, "Catalog sync failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"cache":         res.Catalog,
		"layer_presets": res.Presets,
	})
}

// GET /api/control/layer_presets
func (h *CatalogHandler) ListPresets(c *gin.Context) {
	presets, err := h.matching.ListLayerPresets(c.Request.Context())
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to list layer presets"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": presets})
}

type upsertPresetsRequest struct {
	ProviderID string   `json:"provider_id" binding:"required"`
	Models     []string `json:"models"`
}

// UpsertPresets matches tiers against the given models, or the provider's
// cached online models when none are given.
//
// POST /api/control/layer_presets
func (h *CatalogHandler) UpsertPresets(c *gin.Context) {
	var req upsertPresetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	res, err := h.control.UpsertPresets(c.Request.Context(), req.ProviderID, req.Models, control.Actor)
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to match layer presets"))
		return
	}
	c.JSON(http.StatusOK, res)
}
