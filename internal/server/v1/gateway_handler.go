package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/internal/gateway"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/server/validator"
	"github.com/nulzo/model-gateway/pkg/api"
)

// HeaderProfile selects a model profile for a chat request.
const HeaderProfile = "X-Model-Profile"

// ProfileSource resolves model profiles for chat requests.
type ProfileSource interface {
	Profiles(ctx context.Context) ([]provider.Profile, string, error)
	Profile(ctx context.Context, id string) (provider.Profile, error)
}

type GatewayHandler struct {
	service  gateway.Service
	profiles ProfileSource
}

func NewGatewayHandler(service gateway.Service, profiles ProfileSource) *GatewayHandler {
	return &GatewayHandler{
		service:  service,
		profiles: profiles,
	}
}

// ChatCompletions routes an OpenAI-compatible chat request.
//
// POST /v1/chat/completions
func (h *GatewayHandler) ChatCompletions(c *gin.Context) {
	var payload api.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}
	if _, ok := payload["messages"].([]interface{}); !ok {
		_ = c.Error(api.ValidationError(map[string]string{"messages": "messages is a required array"}))
		return
	}
	if stream, _ := payload["stream"].(bool); stream {
		_ = c.Error(api.BadRequestError("Streaming responses are not supported"))
		return
	}

	payload, err := h.withProfile(c, payload)
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to resolve model profile"))
		return
	}

	resp, err := h.service.DispatchChat(c.Request.Context(), payload)
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to process chat request"))
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

// withProfile applies the profile named by the header or the payload's
// profile_id, falling back to the default profile.
func (h *GatewayHandler) withProfile(c *gin.Context, payload api.Payload) (api.Payload, error) {
	if h.profiles == nil {
		return payload, nil
	}
	ctx := c.Request.Context()

	id := c.GetHeader(HeaderProfile)
	if id == "" {
		id, _ = payload["profile_id"].(string)
	}
	if id == "" {
		_, def, err := h.profiles.Profiles(ctx)
		if err != nil {
			return nil, err
		}
		if def == "" {
			return payload, nil
		}
		id = def
	}

	prof, err := h.profiles.Profile(ctx, id)
	if err != nil {
		return nil, err
	}
	return gateway.ApplyProfile(payload, prof), nil
}

// Embeddings routes an OpenAI-compatible embeddings request.
//
// POST /v1/embeddings
func (h *GatewayHandler) Embeddings(c *gin.Context) {
	var payload api.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}
	if _, ok := payload["input"]; !ok {
		_ = c.Error(api.ValidationError(map[string]string{"input": "input is a required field"}))
		return
	}

	resp, err := h.service.DispatchEmbeddings(c.Request.Context(), payload)
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to process embeddings request"))
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

// ListModels lists one provider's models, the default provider unless
// ?provider_id is given.
//
// GET /v1/models
func (h *GatewayHandler) ListModels(c *gin.Context) {
	list, err := h.service.ListModels(c.Request.Context(), c.Query("provider_id"))
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to list models"))
		return
	}
	c.JSON(http.StatusOK, list)
}

// ResolveCandidates shows the ordered dispatch plan for a model reference.
//
// GET /v1/candidates?model=
func (h *GatewayHandler) ResolveCandidates(c *gin.Context) {
	candidates, err := h.service.ResolveCandidates(c.Request.Context(), c.Query("model"))
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to resolve candidates"))
		return
	}
	// Candidates carry provider credentials; only ids leave the process.
	out := make([]provider.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		out = append(out, provider.Candidate{ProviderID: cand.Provider.ID, UpstreamModel: cand.UpstreamModel})
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   out,
	})
}
