package relay

import "time"

// Config is the relay server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string

	// Upstream Ollama-compatible model server (e.g., "http://localhost:11434")
	UpstreamURL string

	// Model requested from the upstream for every chat.
	Model string

	// Token, when set, is the bearer token every chat request must carry.
	Token string

	// DBPath is the path to the SQLite database file.
	// Empty keeps transcripts in memory.
	DBPath string

	// UpstreamTimeout bounds a non-streaming upstream call.
	UpstreamTimeout time.Duration
}
