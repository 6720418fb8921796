// Package llm provides the wire representations exchanged with the chat backend:
// requests, streamed events and the non-streaming envelope, plus the
// Ollama-compatible upstream shapes the relay translates from.
package llm

// ErrorResponse represents an error body returned by the relay or backend.
type ErrorResponse struct {
	Error string `json:"error"`
}
