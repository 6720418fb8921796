package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/streamchat/pkg/llm"
	"github.com/papercomputeco/streamchat/pkg/logger"
)

// ErrEmptyInput rejects a submit with nothing but whitespace.
var ErrEmptyInput = errors.New("message is empty")

// Recorder persists committed messages. Failures are logged and never undo a
// commit.
type Recorder interface {
	Record(ctx context.Context, sessionID string, msg llm.ChatMessage) error
}

// Snapshot is a consistent copy of a Session's visible state.
type Snapshot struct {
	State    State
	Messages []llm.ChatMessage
	Pending  string
	Err      error
}

// Observer is called after every state change with a fresh snapshot.
type Observer func(Snapshot)

// Session is one conversation: the committed log plus the reply being
// streamed. Only one turn may be outstanding at a time.
type Session struct {
	id         string
	maxHistory int
	recorder   Recorder
	observers  []Observer
	logger     *zap.Logger

	mu         sync.Mutex
	state      State
	log        []llm.ChatMessage
	unrecorded []llm.ChatMessage
	acc        strings.Builder
	err        error
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the session identifier instead of a random UUID.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// WithSystemPrompt appends a system message to the log. It reaches the
// Recorder ahead of the first user message.
func WithSystemPrompt(prompt string) Option {
	return func(s *Session) {
		if strings.TrimSpace(prompt) != "" {
			msg := llm.ChatMessage{Role: llm.RoleSystem, Content: prompt}
			s.log = append(s.log, msg)
			s.unrecorded = append(s.unrecorded, msg)
		}
	}
}

// WithHistory seeds the log, for example from a stored transcript.
func WithHistory(msgs []llm.ChatMessage) Option {
	return func(s *Session) {
		s.log = append(s.log, msgs...)
	}
}

// WithMaxHistory caps how many messages each request replays after the
// leading system messages. Zero, the default, sends the whole log.
func WithMaxHistory(n int) Option {
	return func(s *Session) {
		s.maxHistory = n
	}
}

// WithRecorder persists every committed message.
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		s.recorder = r
	}
}

// WithObserver registers fn for change notifications.
func WithObserver(fn Observer) Option {
	return func(s *Session) {
		s.observers = append(s.observers, fn)
	}
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger.OrNop(l)
	}
}

// NewSession returns an idle Session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.logger = s.logger.With(zap.String("session_id", s.id))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Begin starts a turn: it appends the user's message, clears the reply buffer
// and returns the request to send. It fails with ErrEmptyInput for blank input
// and ErrBusy while another turn is outstanding.
func (s *Session) Begin(input string) (llm.ChatRequest, error) {
	content := strings.TrimSpace(input)
	if content == "" {
		return llm.ChatRequest{}, ErrEmptyInput
	}

	s.mu.Lock()
	next, err := Transition(s.state, Submit)
	if err != nil {
		s.mu.Unlock()
		return llm.ChatRequest{}, err
	}

	msg := llm.ChatMessage{Role: llm.RoleUser, Content: content}
	s.log = append(s.log, msg)
	s.acc.Reset()
	s.err = nil
	s.state = next
	req := llm.NewChatRequest(s.log, s.maxHistory)
	toRecord := append(s.unrecorded, msg)
	s.unrecorded = nil
	s.mu.Unlock()

	s.logger.Debug("turn started", zap.Int("messages", len(req.Messages)))
	for _, m := range toRecord {
		s.record(m)
	}
	s.notify()
	return req, nil
}

// ApplyChunk appends content to the reply in progress.
func (s *Session) ApplyChunk(content string) error {
	s.mu.Lock()
	next, err := Transition(s.state, Chunk)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.acc.WriteString(content)
	s.mu.Unlock()

	s.notify()
	return nil
}

// Complete ends the turn. When the reply holds more than whitespace it is
// committed verbatim as an assistant message, which is returned with true.
func (s *Session) Complete() (llm.ChatMessage, bool, error) {
	s.mu.Lock()
	next, err := Transition(s.state, Complete)
	if err != nil {
		s.mu.Unlock()
		return llm.ChatMessage{}, false, err
	}

	reply := s.acc.String()
	s.acc.Reset()
	s.state = next

	var msg llm.ChatMessage
	committed := strings.TrimSpace(reply) != ""
	if committed {
		msg = llm.ChatMessage{Role: llm.RoleAssistant, Content: reply}
		s.log = append(s.log, msg)
	}
	s.mu.Unlock()

	s.logger.Debug("turn completed", zap.Bool("committed", committed), zap.Int("reply_bytes", len(reply)))
	if committed {
		s.record(msg)
	}
	s.notify()
	return msg, committed, nil
}

// Fail ends the turn with cause. The partial reply is discarded, never
// committed.
func (s *Session) Fail(cause error) error {
	s.mu.Lock()
	next, err := Transition(s.state, Fail)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	discarded := s.acc.Len()
	s.acc.Reset()
	s.err = cause
	s.state = next
	s.mu.Unlock()

	s.logger.Warn("turn failed", zap.Error(cause), zap.Int("discarded_bytes", discarded))
	s.notify()
	return nil
}

// Abandon drops any reply in progress and returns to Idle. It is the cancel
// path for a stream that will never finish.
func (s *Session) Abandon() {
	s.mu.Lock()
	wasBusy := s.state.Busy()
	s.state, _ = Transition(s.state, Abandon)
	s.acc.Reset()
	s.mu.Unlock()

	if wasBusy {
		s.logger.Info("turn abandoned")
	}
	s.notify()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the committed log.
func (s *Session) Messages() []llm.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.ChatMessage(nil), s.log...)
}

// Pending returns the reply text received so far in this turn.
func (s *Session) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.String()
}

// Err returns the failure of the last turn, if it failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Snapshot returns a consistent copy of the visible state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:    s.state,
		Messages: append([]llm.ChatMessage(nil), s.log...),
		Pending:  s.acc.String(),
		Err:      s.err,
	}
}

func (s *Session) record(msg llm.ChatMessage) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(context.Background(), s.id, msg); err != nil {
		s.logger.Error("failed to record message", zap.Error(err), zap.String("role", string(msg.Role)))
	}
}

func (s *Session) notify() {
	if len(s.observers) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range s.observers {
		fn(snap)
	}
}
