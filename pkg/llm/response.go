package llm

const (
	StatusSuccess = "success"
	StatusFail    = "fail"
)

// ChatEnvelope is the response body of the non-streaming POST /chat endpoint.
type ChatEnvelope struct {
	Status  string    `json:"status"`  // "success" or "fail"
	Message string    `json:"message"` // Human readable status text
	Data    *ChatData `json:"data"`    // nil when Status is "fail"
}

// ChatData carries the assistant reply of a successful envelope.
type ChatData struct {
	Response string `json:"response"`
	Usage    *Usage `json:"usage,omitempty"`
}

// Usage reports token accounting for a completed reply.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OK reports whether the envelope carries a usable reply.
func (e *ChatEnvelope) OK() bool {
	return e != nil && e.Status == StatusSuccess && e.Data != nil
}
