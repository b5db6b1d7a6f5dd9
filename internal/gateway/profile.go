package gateway

import (
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/pkg/api"
)

// ApplyProfile fills a chat payload from a profile: the profile's alias
// replaces an empty or "default" model, params fill keys the caller left
// unset, and the system prompt is prepended to the messages.
func ApplyProfile(payload api.Payload, prof provider.Profile) api.Payload {
	out := payload.Clone()
	if m := out.Model(); m == "" || m == "default" {
		out["model"] = prof.ModelAliasID
	}
	for k, v := range prof.Params {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	if prof.SystemPrompt != "" {
		msgs := make([]interface{}, 0, len(out.Messages())+1)
		msgs = append(msgs, map[string]interface{}{"role": "system", "content": prof.SystemPrompt})
		out["messages"] = append(msgs, out.Messages()...)
	}
	delete(out, "profile_id")
	return out
}
