package llm

import "time"

// UpstreamRequest is the Ollama-compatible /api/chat request the relay sends
// to its upstream model server.
type UpstreamRequest struct {
	Model    string           `json:"model"`             // Model name (e.g., "llama3.2")
	Messages []ChatMessage    `json:"messages"`          // Conversation history
	Stream   bool             `json:"stream"`            // Ollama streams by default, so always explicit
	Options  *UpstreamOptions `json:"options,omitempty"` // Generation options
}

// UpstreamOptions contains model inference parameters forwarded upstream.
type UpstreamOptions struct {
	Temperature *float64 `json:"temperature,omitempty"` // Creativity (0.0-2.0)
	NumPredict  *int     `json:"num_predict,omitempty"` // Max tokens to generate
}

// UpstreamChunk is a single ndjson line from a streaming upstream response,
// and also the whole body of a non-streaming one.
type UpstreamChunk struct {
	Model     string      `json:"model"`
	CreatedAt time.Time   `json:"created_at"`
	Message   ChatMessage `json:"message"`
	Done      bool        `json:"done"`
	Error     string      `json:"error,omitempty"`

	// Final chunk includes token counts
	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

// Usage converts the upstream token counts into the backend usage shape.
func (c UpstreamChunk) Usage() *Usage {
	if c.PromptEvalCount == 0 && c.EvalCount == 0 {
		return nil
	}
	return &Usage{
		PromptTokens:     c.PromptEvalCount,
		CompletionTokens: c.EvalCount,
		TotalTokens:      c.PromptEvalCount + c.EvalCount,
	}
}
