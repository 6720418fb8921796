package stream

import (
	"errors"
	"fmt"
	"time"
)

// ErrSilentTermination reports a stream whose connection closed before any
// done or error event arrived. It is only emitted when the reader runs with
// WithStrictTermination.
var ErrSilentTermination = errors.New("stream closed without a terminal event")

// TransportError is a non-2xx status or a network failure while opening or
// reading the stream.
type TransportError struct {
	StatusCode int    // 0 when no response was received
	Body       string // response body for non-2xx statuses, possibly truncated
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("chat backend returned %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("chat backend returned %d", e.StatusCode)
	case e.Err != nil:
		return "chat backend transport: " + e.Err.Error()
	default:
		return "chat backend transport failure"
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedEventError is a "data: " line whose payload is not a JSON event.
type MalformedEventError struct {
	Line string
	Err  error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed stream event %q: %v", truncate(e.Line, 80), e.Err)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// ServerSignaledError is an event carrying a non-empty error field. Its
// message is the server's text, unchanged.
type ServerSignaledError struct {
	Message string
}

func (e *ServerSignaledError) Error() string {
	return e.Message
}

// TimeoutError reports that no bytes arrived for the configured idle period.
type TimeoutError struct {
	Idle time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("chat stream idle for %s", e.Idle)
}

// Timeout lets callers treat TimeoutError like a net.Error timeout.
func (e *TimeoutError) Timeout() bool {
	return true
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
