package stream

import (
	"strings"

	"github.com/papercomputeco/streamchat/pkg/llm"
)

// Callbacks is the three-callback form of a stream consumer. Nil callbacks
// are skipped.
type Callbacks struct {
	OnChunk    func(llm.StreamEvent)
	OnComplete func()
	OnError    func(error)
}

// Dispatch drains ch into cb in order and reports whether a terminal event
// was delivered. OnComplete and OnError together fire at most once; anything
// after the first terminal event is dropped.
func Dispatch(ch <-chan Event, cb Callbacks) bool {
	terminated := false
	for ev := range ch {
		if terminated {
			continue
		}

		switch ev.Kind {
		case KindChunk:
			if cb.OnChunk != nil {
				cb.OnChunk(ev.Chunk)
			}
		case KindCompleted:
			terminated = true
			if cb.OnComplete != nil {
				cb.OnComplete()
			}
		case KindFailed:
			terminated = true
			if cb.OnError != nil {
				cb.OnError(ev.Err)
			}
		}
	}
	return terminated
}

// Collect concatenates every chunk of ch. It returns the text received so far
// together with the failure, or ErrSilentTermination when the channel closed
// without a terminal event.
func Collect(ch <-chan Event) (string, error) {
	var sb strings.Builder
	var err error

	done := Dispatch(ch, Callbacks{
		OnChunk: func(ev llm.StreamEvent) { sb.WriteString(ev.Content) },
		OnError: func(e error) { err = e },
	})
	if !done {
		return sb.String(), ErrSilentTermination
	}
	return sb.String(), err
}
