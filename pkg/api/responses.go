package api

type ChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"` // "chat.completion"
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []Choice       `json:"choices"`
	Usage   *ResponseUsage `json:"usage,omitempty"`
}

type Choice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	FinishReason string       `json:"finish_reason"`
}

type ResponseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NativeChatResponse mirrors the single-message reply of a native /api/chat call.
type NativeChatResponse struct {
	Model           string       `json:"model"`
	CreatedAt       string       `json:"created_at"`
	Message         *ChatMessage `json:"message"`
	Done            bool         `json:"done"`
	DoneReason      string       `json:"done_reason,omitempty"`
	PromptEvalCount int          `json:"prompt_eval_count,omitempty"`
	EvalCount       int          `json:"eval_count,omitempty"`
}

// OK is the envelope returned by mutating control operations.
type OK struct {
	OK bool `json:"ok"`
}
