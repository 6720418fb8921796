// Package tui renders a chat session in the terminal: a full-screen bubbletea
// interface for interactive use, and a plain line mode for pipes.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/papercomputeco/streamchat/pkg/chat"
	"github.com/papercomputeco/streamchat/pkg/logger"
	"github.com/papercomputeco/streamchat/pkg/stream"
)

const (
	headerHeight = 1
	footerHeight = 1
	inputHeight  = 1

	placeholder = "Ask me anything... (Enter to send, Esc to cancel, Ctrl+C to exit)"
)

// eventMsg carries one stream event into Update. ok is false once the stream
// channel has closed. turn identifies the send the event belongs to.
type eventMsg struct {
	ev   stream.Event
	ok   bool
	turn uint64
}

func waitForEvent(ch <-chan stream.Event, turn uint64) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		return eventMsg{ev: ev, ok: ok, turn: turn}
	}
}

// Option configures a Model.
type Option func(*Model)

// WithStyles replaces the default styles.
func WithStyles(s Styles) Option {
	return func(m *Model) {
		m.styles = s
	}
}

// WithMarkdownStyle selects the glamour style for replies: "dark", "light"
// or "notty".
func WithMarkdownStyle(style string) Option {
	return func(m *Model) {
		m.mdStyle = style
	}
}

// WithLogger sets the model logger. It must not write to the terminal the
// model draws on.
func WithLogger(l *zap.Logger) Option {
	return func(m *Model) {
		m.logger = logger.OrNop(l)
	}
}

// Model is the bubbletea model for an interactive session.
type Model struct {
	session  *chat.Session
	streamer chat.Streamer
	logger   *zap.Logger
	ctx      context.Context

	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	styles    Styles
	mdStyle   string
	md        markdown

	// current turn
	turn       uint64
	events     <-chan stream.Event
	cancel     context.CancelFunc
	incomplete bool

	width  int
	height int
	ready  bool
}

// New returns a Model driving session through streamer. ctx bounds every
// turn.
func New(ctx context.Context, session *chat.Session, streamer chat.Streamer, opts ...Option) Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Prompt = "› "
	ti.Focus()

	m := Model{
		session:   session,
		streamer:  streamer,
		logger:    zap.NewNop(),
		ctx:       ctx,
		textinput: ti,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		styles:    DefaultStyles(),
		mdStyle:   glamourDark,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Run starts a full-screen program for session and blocks until the user
// quits.
func Run(ctx context.Context, session *chat.Session, streamer chat.Streamer, opts ...Option) error {
	m := New(ctx, session, streamer, opts...)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.endTurn()
			return m, tea.Quit

		case tea.KeyEsc:
			if m.session.State().Busy() {
				m.endTurn()
				m.session.Abandon()
				m.refresh()
			}
			return m, nil

		case tea.KeyEnter:
			return m.submit()
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case eventMsg:
		return m.handleEvent(msg)

	case spinner.TickMsg:
		if !m.session.State().Busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	var cmd tea.Cmd
	m.textinput, cmd = m.textinput.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	req, err := m.session.Begin(m.textinput.Value())
	if err != nil {
		// ErrEmptyInput and ErrBusy keep the draft in place
		m.logger.Debug("submit ignored", zap.Error(err))
		return m, nil
	}
	m.textinput.Reset()
	m.incomplete = false

	ctx, cancel := context.WithCancel(m.ctx)
	m.turn++
	m.cancel = cancel
	m.events = m.streamer.Stream(ctx, req)
	m.refresh()
	return m, tea.Batch(waitForEvent(m.events, m.turn), m.spinner.Tick)
}

func (m Model) handleEvent(msg eventMsg) (tea.Model, tea.Cmd) {
	if msg.turn != m.turn || m.events == nil {
		// left over from an ended turn, typically Failed(context.Canceled)
		return m, nil
	}
	if !msg.ok {
		// closed with no terminal event: leave the turn open for Esc
		if m.session.State().Busy() {
			m.incomplete = true
			m.logger.Warn("stream closed without completion")
		}
		m.events = nil
		m.refresh()
		return m, nil
	}

	switch msg.ev.Kind {
	case stream.KindChunk:
		if err := m.session.ApplyChunk(msg.ev.Content()); err != nil {
			m.logger.Warn("chunk dropped", zap.Error(err))
		}
		m.refresh()
		return m, waitForEvent(m.events, m.turn)

	case stream.KindCompleted:
		if _, _, err := m.session.Complete(); err != nil {
			m.logger.Warn("completion dropped", zap.Error(err))
		}

	case stream.KindFailed:
		if err := m.session.Fail(msg.ev.Err); err != nil {
			m.logger.Warn("failure dropped", zap.Error(err))
		}
	}

	// terminal: anything after it is ignored
	m.endTurn()
	m.refresh()
	return m, nil
}

func (m *Model) endTurn() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.events = nil
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	vpHeight := max(height-headerHeight-footerHeight-inputHeight, 1)

	if !m.ready {
		m.viewport = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}
	m.textinput.Width = max(width-4, 1)
	m.md = newMarkdown(m.mdStyle, max(width-4, 1))
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

// transcript is the scrollable body: the committed log plus the turn in
// flight.
func (m Model) transcript() string {
	snap := m.session.Snapshot()

	var b strings.Builder
	b.WriteString(renderLog(m.styles, m.md, snap.Messages))

	switch snap.State {
	case chat.Sending:
		b.WriteString(m.styles.Assistant.Render("assistant"))
		b.WriteString("\n")
		b.WriteString(m.spinner.View())
	case chat.Streaming:
		b.WriteString(m.styles.Assistant.Render("assistant"))
		b.WriteString("\n")
		b.WriteString(m.styles.Pending.Render(snap.Pending))
		if !m.incomplete {
			b.WriteString(" " + m.spinner.View())
		}
	}
	return b.String()
}

// status is the line under the transcript.
func (m Model) status() string {
	snap := m.session.Snapshot()

	switch {
	case m.incomplete:
		return m.styles.Warning.Render("reply ended without a completion signal; press Esc to discard it")
	case snap.State == chat.Errored && snap.Err != nil:
		return m.styles.Error.Render(fmt.Sprintf("error: %v", snap.Err))
	case snap.State.Busy():
		return m.styles.Help.Render("receiving… Esc to cancel")
	default:
		return m.styles.Help.Render(fmt.Sprintf("%d messages", len(snap.Messages)))
	}
}

func (m Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	header := m.styles.Title.Render("streamchat") + " " + m.styles.State.Render(m.session.State().String())
	return strings.Join([]string{
		fit(header, m.width),
		m.viewport.View(),
		fit(m.status(), m.width),
		m.textinput.View(),
	}, "\n")
}
