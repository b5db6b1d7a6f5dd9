package api

import (
	"encoding/json"
	"strings"
)

// Payload is an OpenAI-compatible request body. It is kept as a generic map so
// that fields the gateway does not understand are forwarded untouched.
type Payload map[string]interface{}

// Model returns the trimmed "model" field, or "" when absent or not a string.
func (p Payload) Model() string {
	s, _ := p["model"].(string)
	return strings.TrimSpace(s)
}

// Messages returns the raw "messages" field.
func (p Payload) Messages() []interface{} {
	m, _ := p["messages"].([]interface{})
	return m
}

// WithModel returns a shallow copy of the payload with the model replaced.
func (p Payload) WithModel(model string) Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	if model != "" {
		out["model"] = model
	}
	return out
}

func (p Payload) Clone() Payload {
	return p.WithModel("")
}

// ChatMessage is the minimal message shape used when translating to and from
// the native chat protocol.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NativeChatRequest is the body sent to a vendor's native /api/chat endpoint.
type NativeChatRequest struct {
	Model    string          `json:"model"`
	Messages json.RawMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}
