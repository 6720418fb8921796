package tui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/papercomputeco/streamchat/pkg/chat"
	"github.com/papercomputeco/streamchat/pkg/llm"
	"github.com/papercomputeco/streamchat/pkg/logger"
	"github.com/papercomputeco/streamchat/pkg/stream"
)

var exitWords = map[string]bool{"exit": true, "quit": true, "bye": true}

// Spinner wraps a terminal spinner for the wait before the first chunk.
type Spinner struct {
	s *spinner.Spinner
}

// NewSpinner creates a spinner with the given message writing to w.
func NewSpinner(msg string, w io.Writer) *Spinner {
	s := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = "  " + msg
	_ = s.Color("cyan")
	return &Spinner{s: s}
}

// Start begins the spinner animation.
func (sp *Spinner) Start() {
	sp.s.Start()
}

// Stop halts the spinner and clears the line.
func (sp *Spinner) Stop() {
	sp.s.Stop()
}

// Line is the prompt-per-line front end used when the terminal cannot host
// the full-screen interface. Replies are printed as they stream.
type Line struct {
	in     io.Reader
	out    io.Writer
	status io.Writer
	logger *zap.Logger

	you   *color.Color
	bot   *color.Color
	dim   *color.Color
	red   *color.Color
	amber *color.Color
}

// NewLine returns a Line reading prompts from in, writing replies to out and
// prompts, spinner and errors to status.
func NewLine(in io.Reader, out, status io.Writer, l *zap.Logger) *Line {
	return &Line{
		in:     in,
		out:    out,
		status: status,
		logger: logger.OrNop(l),
		you:    color.New(color.FgGreen),
		bot:    color.New(color.FgCyan, color.Bold),
		dim:    color.New(color.FgHiBlack),
		red:    color.New(color.FgRed),
		amber:  color.New(color.FgYellow),
	}
}

// Run reads one prompt per line and runs a turn for each until EOF, an exit
// word, or ctx is done.
func (l *Line) Run(ctx context.Context, session *chat.Session, streamer chat.Streamer) error {
	runner := chat.NewRunner(session, l.echo(streamer), l.logger)
	scanner := bufio.NewScanner(l.in)

	l.dim.Fprintf(l.status, "  Type 'exit' to quit.\n\n")
	for {
		l.you.Fprint(l.status, "  you → ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if exitWords[input] {
			break
		}

		l.bot.Fprint(l.status, "  assistant → ")
		err := runner.Send(ctx, input)
		fmt.Fprintln(l.out)
		l.report(session, err)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func (l *Line) report(session *chat.Session, err error) {
	switch {
	case err == nil:
		fmt.Fprintln(l.status)
	case errors.Is(err, chat.ErrIncomplete):
		l.amber.Fprintf(l.status, "  ⚠ %v; the partial reply was discarded\n\n", err)
		session.Abandon()
	default:
		l.red.Fprintf(l.status, "  ✗ %v\n\n", err)
	}
}

// echo prints chunk content to out as it passes through, with a spinner
// until the first chunk arrives.
func (l *Line) echo(streamer chat.Streamer) chat.Streamer {
	return chat.StreamerFunc(func(ctx context.Context, req llm.ChatRequest) <-chan stream.Event {
		sp := NewSpinner("Thinking...", l.status)
		sp.Start()

		in := streamer.Stream(ctx, req)
		out := make(chan stream.Event)
		go func() {
			defer close(out)
			defer sp.Stop()

			waiting := true
			for ev := range in {
				if waiting {
					sp.Stop()
					waiting = false
				}
				if ev.Kind == stream.KindChunk {
					fmt.Fprint(l.out, ev.Content())
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	})
}
