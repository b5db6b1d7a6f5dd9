package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/pkg/api"
)

func (c *Client) nativeChat(ctx context.Context, p provider.Provider, headers map[string]string, payload api.Payload) (json.RawMessage, error) {
	model := payload.Model()
	if model == "" {
		model = "default"
	}
	messages := json.RawMessage("[]")
	if m := payload.Messages(); m != nil {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		messages = raw
	}

	req := api.NativeChatRequest{Model: model, Messages: messages, Stream: false}
	var out api.NativeChatResponse
	if err := c.send(ctx, http.MethodPost, p.BaseURL, PathNativeChat, headers, req, &out); err != nil {
		return nil, err
	}

	return json.Marshal(translateNativeChat(out, model, time.Now()))
}

// translateNativeChat maps a native single-message reply into the
// chat.completion envelope.
func translateNativeChat(out api.NativeChatResponse, requestModel string, now time.Time) api.ChatResponse {
	created := now.Unix()
	if t, err := time.Parse(time.RFC3339Nano, out.CreatedAt); err == nil {
		created = t.Unix()
	}
	model := out.Model
	if model == "" {
		model = requestModel
	}
	content := ""
	if out.Message != nil {
		content = out.Message.Content
	}
	finish := out.DoneReason
	if finish == "" {
		finish = "stop"
	}

	resp := api.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []api.Choice{{
			Index:        0,
			Message:      &api.ChatMessage{Role: "assistant", Content: content},
			FinishReason: finish,
		}},
	}
	if out.PromptEvalCount > 0 || out.EvalCount > 0 {
		resp.Usage = &api.ResponseUsage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		}
	}
	return resp
}
