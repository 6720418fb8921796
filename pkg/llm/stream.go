package llm

// StreamEvent is one decoded `data: ` payload from the chat event stream.
//
// An event with a non-empty Error is terminal and takes precedence over
// Content and Done.
type StreamEvent struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Error   string `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Done || e.Error != ""
}
