package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/streamchat/pkg/logger"
)

const (
	// DefaultReadSize is the buffer size of a single body read.
	DefaultReadSize = 4096

	// cancelGrace bounds how long a cancelled reader waits for the consumer to
	// take the final Failed event.
	cancelGrace = 250 * time.Millisecond
)

// Option configures Read.
type Option func(*readerConfig)

type readerConfig struct {
	idleTimeout time.Duration
	strict      bool
	readSize    int
	logger      *zap.Logger
}

// WithIdleTimeout fails the stream with a TimeoutError when no bytes arrive
// for d. Zero disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *readerConfig) {
		c.idleTimeout = d
	}
}

// WithStrictTermination reports ErrSilentTermination when the body ends
// before a done or error event. Without it the event channel simply closes.
func WithStrictTermination() Option {
	return func(c *readerConfig) {
		c.strict = true
	}
}

// WithReadSize sets the size of each body read.
func WithReadSize(n int) Option {
	return func(c *readerConfig) {
		if n > 0 {
			c.readSize = n
		}
	}
}

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *readerConfig) {
		c.logger = logger.OrNop(l)
	}
}

type readResult struct {
	data []byte
	err  error
}

// Read consumes body and returns the decoded events in wire order. The
// channel carries at most one terminal event and is closed when reading stops;
// body is closed at the same time.
//
// Cancelling ctx tears the read down and, if the consumer is still receiving,
// delivers Failed with the context error.
func Read(ctx context.Context, body io.ReadCloser, opts ...Option) <-chan Event {
	cfg := readerConfig{
		readSize: DefaultReadSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer body.Close()
		run(ctx, body, out, cfg)
	}()
	return out
}

func run(ctx context.Context, body io.Reader, out chan<- Event, cfg readerConfig) {
	stop := make(chan struct{})
	defer close(stop)

	reads := make(chan readResult)
	go pump(body, cfg.readSize, reads, stop)

	idle := newIdleTimer(cfg.idleTimeout)
	defer idle.pause()

	runLoop(ctx, reads, idle, out, cfg)
}

// idleTimer measures time spent waiting on the body. It is paused while
// events are handed to the consumer, so a slow consumer never counts as an
// idle server.
type idleTimer struct {
	d     time.Duration
	timer *time.Timer
}

func newIdleTimer(d time.Duration) *idleTimer {
	t := &idleTimer{d: d}
	if d > 0 {
		t.timer = time.NewTimer(d)
	}
	return t
}

// C is nil, and so never ready, when the timeout is disabled.
func (t *idleTimer) C() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.C
}

func (t *idleTimer) pause() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *idleTimer) resume() {
	if t.timer != nil {
		t.timer.Reset(t.d)
	}
}

func runLoop(
	ctx context.Context,
	reads <-chan readResult,
	idle *idleTimer,
	out chan<- Event,
	cfg readerConfig,
) {
	parser := NewParser()
	var received int

	// handle applies one read and reports whether the stream is over.
	handle := func(res readResult) bool {
		if len(res.data) > 0 {
			idle.pause()
			received += len(res.data)
			for _, ev := range parser.Feed(res.data) {
				if !emit(ctx, out, ev) {
					return true
				}
				if ev.Terminal() {
					cfg.logger.Debug("stream terminated",
						zap.Stringer("kind", ev.Kind),
						zap.Int("bytes", received),
					)
					return true
				}
			}
			idle.resume()
		}

		if res.err == nil {
			return false
		}

		if !errors.Is(res.err, io.EOF) {
			cfg.logger.Error("stream read failed", zap.Error(res.err))
			emit(ctx, out, Failed(&TransportError{Err: res.err}))
			return true
		}

		cfg.logger.Warn("stream closed without terminal event",
			zap.Int("bytes", received),
			zap.Int("unterminated_bytes", parser.Pending()),
			zap.Bool("strict", cfg.strict),
		)
		if cfg.strict {
			emit(ctx, out, Failed(ErrSilentTermination))
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			cfg.logger.Debug("stream cancelled", zap.Error(ctx.Err()))
			emitFinal(out, Failed(ctx.Err()))
			return

		case <-idle.C():
			// a read that is already waiting wins over the timer
			select {
			case res := <-reads:
				if handle(res) {
					return
				}
				idle.resume()
				continue
			default:
			}
			cfg.logger.Warn("stream idle timeout", zap.Duration("idle", cfg.idleTimeout))
			emit(ctx, out, Failed(&TimeoutError{Idle: cfg.idleTimeout}))
			return

		case res := <-reads:
			if handle(res) {
				return
			}
		}
	}
}

// pump performs the blocking body reads so the loop can also watch ctx and
// the idle timer. Closing the body unblocks a pending Read.
func pump(body io.Reader, size int, reads chan<- readResult, stop <-chan struct{}) {
	for {
		buf := make([]byte, size)
		n, err := body.Read(buf)
		select {
		case reads <- readResult{data: buf[:n], err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		if ev.Terminal() {
			emitFinal(out, ev)
		} else {
			emitFinal(out, Failed(ctx.Err()))
		}
		return false
	}
}

func emitFinal(out chan<- Event, ev Event) {
	t := time.NewTimer(cancelGrace)
	defer t.Stop()
	select {
	case out <- ev:
	case <-t.C:
	}
}
