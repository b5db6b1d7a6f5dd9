package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nulzo/model-gateway/internal/store/model"
	"github.com/nulzo/model-gateway/pkg/api"
)

// ResearchExecutor runs one claimed research job and returns its result.
type ResearchExecutor interface {
	Research(ctx context.Context, job model.ResearchJob) (json.RawMessage, error)
}

// ChatDispatcher is the part of the router a chat-backed executor needs.
type ChatDispatcher interface {
	DispatchChat(ctx context.Context, payload api.Payload) (json.RawMessage, error)
}

// ChatResearcher answers research queries through the routed chat endpoint.
type ChatResearcher struct {
	chat  ChatDispatcher
	model string
}

// NewChatResearcher uses modelRef for every query. An empty modelRef lets the
// router pick the default chat model.
func NewChatResearcher(chat ChatDispatcher, modelRef string) *ChatResearcher {
	return &ChatResearcher{chat: chat, model: modelRef}
}

func (r *ChatResearcher) Research(ctx context.Context, job model.ResearchJob) (json.RawMessage, error) {
	payload := api.Payload{
		"messages": []interface{}{
			map[string]interface{}{"role": "system", "content": "Answer the research question concisely and list the key facts."},
			map[string]interface{}{"role": "user", "content": job.Query},
		},
	}
	if r.model != "" {
		payload["model"] = r.model
	}

	raw, err := r.chat.DispatchChat(ctx, payload)
	if err != nil {
		return nil, err
	}

	var resp api.ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode research answer: %w", err)
	}
	answer := ""
	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
		answer = strings.TrimSpace(resp.Choices[0].Message.Content)
	}

	return json.Marshal(map[string]interface{}{
		"query":      job.Query,
		"collection": job.Collection,
		"model":      resp.Model,
		"answer":     answer,
	})
}
