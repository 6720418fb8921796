// Package stream turns a chat event-stream body into an ordered sequence of
// typed events.
//
// The wire format is newline-delimited text. Lines starting with "data: "
// carry a JSON llm.StreamEvent; every other line is ignored. A stream ends
// when an event has done=true or a non-empty error, and nothing after that
// terminal event is processed.
package stream

import "github.com/papercomputeco/streamchat/pkg/llm"

// Kind tags an Event.
type Kind int

const (
	KindChunk Kind = iota + 1
	KindCompleted
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindCompleted:
		return "completed"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one step of a stream: a content chunk, the completion signal, or a
// failure. At most one Completed or Failed event is produced per stream and it
// is always the last.
type Event struct {
	Kind Kind

	// Chunk is the decoded payload for KindChunk events.
	Chunk llm.StreamEvent

	// Err is set for KindFailed events.
	Err error
}

// Chunk wraps a decoded payload that carries content.
func Chunk(ev llm.StreamEvent) Event {
	return Event{Kind: KindChunk, Chunk: ev}
}

// Completed is the terminal success event.
func Completed() Event {
	return Event{Kind: KindCompleted}
}

// Failed is the terminal failure event.
func Failed(err error) Event {
	return Event{Kind: KindFailed, Err: err}
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindCompleted || e.Kind == KindFailed
}

// Content returns the text carried by a chunk event.
func (e Event) Content() string {
	return e.Chunk.Content
}
