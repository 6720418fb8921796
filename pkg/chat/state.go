// Package chat assembles streamed replies into a conversation.
//
// A Session owns the conversation log and the in-progress reply. Each user
// turn moves it through Idle → Sending → Streaming → Completed | Errored;
// Completed and Errored are resting states from which the next turn starts.
package chat

import (
	"errors"
	"fmt"
)

// State is the per-turn state of a Session.
type State int

const (
	Idle State = iota
	Sending
	Streaming
	Completed
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Busy reports whether a reply is outstanding.
func (s State) Busy() bool {
	return s == Sending || s == Streaming
}

// Trigger is an input to the state machine.
type Trigger int

const (
	Submit Trigger = iota + 1
	Chunk
	Complete
	Fail
	Abandon
)

func (t Trigger) String() string {
	switch t {
	case Submit:
		return "submit"
	case Chunk:
		return "chunk"
	case Complete:
		return "complete"
	case Fail:
		return "fail"
	case Abandon:
		return "abandon"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

var (
	// ErrBusy rejects a submit while a reply is outstanding.
	ErrBusy = errors.New("a reply is already in progress")

	// ErrNotStreaming rejects reply events when no turn is outstanding.
	ErrNotStreaming = errors.New("no reply in progress")
)

// Transition returns the state that follows from on from. It has no side
// effects; Session applies it under its lock.
func Transition(from State, on Trigger) (State, error) {
	switch on {
	case Submit:
		if from.Busy() {
			return from, ErrBusy
		}
		return Sending, nil
	case Chunk:
		if from.Busy() {
			return Streaming, nil
		}
	case Complete:
		if from.Busy() {
			return Completed, nil
		}
	case Fail:
		if from.Busy() {
			return Errored, nil
		}
	case Abandon:
		return Idle, nil
	}
	return from, fmt.Errorf("%w: cannot %s while %s", ErrNotStreaming, on, from)
}
