package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/papercomputeco/streamchat/pkg/llm"
	"github.com/papercomputeco/streamchat/pkg/logger"
	"github.com/papercomputeco/streamchat/pkg/stream"
)

// ErrIncomplete is returned by Send when the stream closed without a done or
// error event. The session stays in Streaming until the caller abandons it.
var ErrIncomplete = errors.New("reply ended without a completion signal")

// Streamer opens a reply stream for a request. *client.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, req llm.ChatRequest) <-chan stream.Event
}

// Runner drives one Session against a Streamer, one turn at a time.
type Runner struct {
	session  *Session
	streamer Streamer
	logger   *zap.Logger
}

// NewRunner returns a Runner for session.
func NewRunner(session *Session, streamer Streamer, l *zap.Logger) *Runner {
	return &Runner{
		session:  session,
		streamer: streamer,
		logger:   logger.OrNop(l),
	}
}

// Session returns the driven session.
func (r *Runner) Session() *Session {
	return r.session
}

// Send runs a full turn for input and blocks until the stream ends. It
// returns the stream failure, ErrIncomplete, or the Begin error (ErrBusy,
// ErrEmptyInput) without touching the stream.
func (r *Runner) Send(ctx context.Context, input string) error {
	req, err := r.session.Begin(input)
	if err != nil {
		return err
	}

	var failure error
	terminated := stream.Dispatch(r.streamer.Stream(ctx, req), stream.Callbacks{
		OnChunk: func(ev llm.StreamEvent) {
			if err := r.session.ApplyChunk(ev.Content); err != nil {
				r.logger.Warn("chunk dropped", zap.Error(err))
			}
		},
		OnComplete: func() {
			if _, _, err := r.session.Complete(); err != nil {
				r.logger.Warn("completion dropped", zap.Error(err))
			}
		},
		OnError: func(err error) {
			failure = err
			if ferr := r.session.Fail(err); ferr != nil {
				r.logger.Warn("failure dropped", zap.Error(ferr))
			}
		},
	})

	if !terminated {
		r.logger.Warn("stream ended without completion",
			zap.String("session_id", r.session.ID()),
			zap.Int("pending_bytes", len(r.session.Pending())),
		)
		return ErrIncomplete
	}
	return failure
}

// StreamerFunc adapts a function to Streamer.
type StreamerFunc func(ctx context.Context, req llm.ChatRequest) <-chan stream.Event

func (f StreamerFunc) Stream(ctx context.Context, req llm.ChatRequest) <-chan stream.Event {
	return f(ctx, req)
}
