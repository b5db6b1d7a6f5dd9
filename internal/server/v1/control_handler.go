package v1

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/internal/control"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/server/validator"
	"github.com/nulzo/model-gateway/pkg/api"
)

type ControlHandler struct {
	service *control.Service
}

func NewControlHandler(service *control.Service) *ControlHandler {
	return &ControlHandler{service: service}
}

// ListProviders returns the masked registry snapshot with runtime state.
//
// GET /api/control/providers
func (h *ControlHandler) ListProviders(c *gin.Context) {
	snap, err := h.service.Snapshot(c.Request.Context())
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to load providers"))
		return
	}
	c.JSON(http.StatusOK, snap)
}

// POST /api/control/providers
func (h *ControlHandler) UpsertProvider(c *gin.Context) {
	var p provider.Provider
	if err := c.ShouldBindJSON(&p); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}
	if strings.TrimSpace(p.ID) == "" {
		_ = c.Error(api.ValidationError(map[string]string{"id": "id is a required field"}))
		return
	}

	change, err := h.service.UpsertProvider(c.Request.Context(), p, control.Actor)
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to save provider"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "default_change": change})
}

// DELETE /api/control/providers/:id
func (h *ControlHandler) DeleteProvider(c *gin.Context) {
	change, err := h.service.DeleteProvider(c.Request.Context(), c.Param("id"), control.Actor)
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to delete provider"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "default_change": change})
}

type setDefaultProviderRequest struct {
	DefaultProviderID *string `json:"default_provider_id"`
}

// SetDefaultProvider switches the default provider; null clears it.
//
// POST /api/control/defaults
func (h *ControlHandler) SetDefaultProvider(c *gin.Context) {
	var req setDefaultProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}
	id := ""
	if req.DefaultProviderID != nil {
		id = *req.DefaultProviderID
	}

	change, err := h.service.SetDefaultProvider(c.Request.Context(), id, control.Actor)
	if err != nil {
		if control.IsNotFound(err) {
			_ = c.Error(api.BadRequestError("Unknown provider id"))
			return
		}
		_ = c.Error(problemFor(err, "Failed to set default provider"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"model_catalog": change.Catalog,
		"layer_presets": change.Presets,
		"catalog_error": change.CatalogError,
	})
}

// TestProvider lists models live and returns the first few ids.
//
// POST /api/control/providers/:id/test
func (h *ControlHandler) TestProvider(c *gin.Context) {
	res, err := h.service.TestProvider(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(problemFor(err, "Provider test failed"))
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/control/model_defaults
func (h *ControlHandler) GetModelDefaults(c *gin.Context) {
	d, err := h.service.Defaults(c.Request.Context())
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to load model defaults"))
		return
	}
	c.JSON(http.StatusOK, d)
}

// POST /api/control/model_defaults
func (h *ControlHandler) SetModelDefaults(c *gin.Context) {
	var req provider.Defaults
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}
	d, err := h.service.SetDefaults(c.Request.Context(), req, control.Actor)
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to save model defaults"))
		return
	}
	c.JSON(http.StatusOK, d)
}

// GET /api/control/models
func (h *ControlHandler) ListAliases(c *gin.Context) {
	aliases, err := h.service.Aliases(c.Request.Context())
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to load model aliases"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": aliases})
}

// POST /api/control/models
func (h *ControlHandler) UpsertAlias(c *gin.Context) {
	var a provider.Alias
	if err := c.ShouldBindJSON(&a); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}
	if err := h.service.UpsertAlias(c.Request.Context(), a); err != nil {
		_ = c.Error(problemFor(err, "Failed to save model alias"))
		return
	}
	c.JSON(http.StatusOK, api.OK{OK: true})
}

// DELETE /api/control/models/:id
func (h *ControlHandler) DeleteAlias(c *gin.Context) {
	if err := h.service.DeleteAlias(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(problemFor(err, "Failed to delete model alias"))
		return
	}
	c.JSON(http.StatusOK, api.OK{OK: true})
}

// GET /api/control/profiles
func (h *ControlHandler) ListProfiles(c *gin.Context) {
	profiles, err := h.service.Profiles(c.Request.Context())
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to load profiles"))
		return
	}
	c.JSON(http.StatusOK, profiles)
}

// POST /api/control/profiles
func (h *ControlHandler) UpsertProfile(c *gin.Context) {
	var p provider.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}
	if err := h.service.UpsertProfile(c.Request.Context(), p); err != nil {
		_ = c.Error(problemFor(err, "Failed to save profile"))
		return
	}
	c.JSON(http.StatusOK, api.OK{OK: true})
}

type setDefaultProfileRequest struct {
	DefaultProfileID *string `json:"default_profile_id"`
}

// POST /api/control/profiles/default
func (h *ControlHandler) SetDefaultProfile(c *gin.Context) {
	var req setDefaultProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}
	id := ""
	if req.DefaultProfileID != nil {
		id = *req.DefaultProfileID
	}
	if err := h.service.SetDefaultProfile(c.Request.Context(), id); err != nil {
		if control.IsNotFound(err) {
			_ = c.Error(api.BadRequestError("Unknown profile id"))
			return
		}
		_ = c.Error(problemFor(err, "Failed to set default profile"))
		return
	}
	c.JSON(http.StatusOK, api.OK{OK: true})
}

// DELETE /api/control/profiles/:id
func (h *ControlHandler) DeleteProfile(c *gin.Context) {
	if err := h.service.DeleteProfile(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(problemFor(err, "Failed to delete profile"))
		return
	}
	c.JSON(http.StatusOK, api.OK{OK: true})
}
