package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/pkg/api"
)

func TestApplyProfile(t *testing.T) {
	prof := provider.Profile{
		ID:           "writer",
		ModelAliasID: "fast",
		SystemPrompt: "be brief",
		Params:       map[string]interface{}{"temperature": 0.2, "max_tokens": 64},
	}

	in := api.Payload{
		"model":      "default",
		"profile_id": "writer",
		"max_tokens": 10,
		"messages":   []interface{}{map[string]interface{}{"role": "user", "content": "hi"}},
	}
	out := ApplyProfile(in, prof)

	assert.Equal(t, "fast", out.Model())
	assert.Equal(t, 0.2, out["temperature"])
	assert.Equal(t, 10, out["max_tokens"])
	assert.NotContains(t, out, "profile_id")
	msgs := out.Messages()
	assert.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])

	// The caller's payload is untouched.
	assert.Equal(t, "default", in.Model())
	assert.Len(t, in.Messages(), 1)

	explicit := ApplyProfile(api.Payload{"model": "p1::m"}, prof)
	assert.Equal(t, "p1::m", explicit.Model())
}
