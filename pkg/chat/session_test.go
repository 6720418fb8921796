package chat_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/streamchat/pkg/chat"
	"github.com/papercomputeco/streamchat/pkg/llm"
)

type memoryRecorder struct {
	mu   sync.Mutex
	msgs []llm.ChatMessage
	ids  []string
	err  error
}

func (r *memoryRecorder) Record(_ context.Context, sessionID string, msg llm.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, sessionID)
	r.msgs = append(r.msgs, msg)
	return r.err
}

var _ = Describe("Session", func() {
	var session *chat.Session

	BeforeEach(func() {
		session = chat.NewSession(chat.WithID("test-session"))
	})

	Describe("Begin", func() {
		It("appends the user message synchronously and starts sending", func() {
			req, err := session.Begin("  hello  ")
			Expect(err).NotTo(HaveOccurred())

			Expect(session.State()).To(Equal(chat.Sending))
			Expect(session.Messages()).To(Equal([]llm.ChatMessage{{Role: llm.RoleUser, Content: "hello"}}))
			Expect(req.Messages).To(Equal(session.Messages()))
		})

		It("rejects blank input without touching the log", func() {
			_, err := session.Begin(" \n\t")
			Expect(err).To(MatchError(chat.ErrEmptyInput))
			Expect(session.Messages()).To(BeEmpty())
			Expect(session.State()).To(Equal(chat.Idle))
		})

		It("rejects a second submit while a reply is outstanding", func() {
			_, err := session.Begin("first")
			Expect(err).NotTo(HaveOccurred())

			_, err = session.Begin("second")
			Expect(err).To(MatchError(chat.ErrBusy))
			Expect(session.Messages()).To(HaveLen(1))
		})

		It("allows the next turn after completion or failure", func() {
			_, _ = session.Begin("one")
			_, _, _ = session.Complete()
			_, err := session.Begin("two")
			Expect(err).NotTo(HaveOccurred())

			Expect(session.Fail(errors.New("x"))).To(Succeed())
			_, err = session.Begin("three")
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Err()).To(BeNil())
		})

		It("sends the whole conversation by default", func() {
			s := chat.NewSession(chat.WithSystemPrompt("be brief"))
			for i := 0; i < 26; i++ {
				_, err := s.Begin(fmt.Sprintf("q%d", i))
				Expect(err).NotTo(HaveOccurred())
				Expect(s.ApplyChunk(fmt.Sprintf("a%d", i))).To(Succeed())
				_, _, err = s.Complete()
				Expect(err).NotTo(HaveOccurred())
			}

			req, err := s.Begin("last")
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Messages).To(HaveLen(54))
			Expect(req.Messages[0]).To(Equal(llm.ChatMessage{Role: llm.RoleSystem, Content: "be brief"}))
			Expect(req.Messages[1].Content).To(Equal("q0"))
		})

		It("keeps the system prompt when the history is capped", func() {
			s := chat.NewSession(
				chat.WithSystemPrompt("be brief"),
				chat.WithHistory([]llm.ChatMessage{
					{Role: llm.RoleUser, Content: "old"},
					{Role: llm.RoleAssistant, Content: "   "},
					{Role: llm.RoleAssistant, Content: "older reply"},
				}),
				chat.WithMaxHistory(2),
			)

			req, err := s.Begin("new")
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Messages).To(Equal([]llm.ChatMessage{
				{Role: llm.RoleSystem, Content: "be brief"},
				{Role: llm.RoleAssistant, Content: "older reply"},
				{Role: llm.RoleUser, Content: "new"},
			}))
			Expect(s.Messages()).To(HaveLen(5))
		})
	})

	Describe("streaming a reply", func() {
		BeforeEach(func() {
			_, err := session.Begin("hi")
			Expect(err).NotTo(HaveOccurred())
		})

		It("moves to streaming on the first chunk and accumulates in order", func() {
			Expect(session.ApplyChunk("Hel")).To(Succeed())
			Expect(session.State()).To(Equal(chat.Streaming))
			Expect(session.ApplyChunk("lo")).To(Succeed())

			Expect(session.Pending()).To(Equal("Hello"))
		})

		It("commits the untrimmed reply on completion", func() {
			_ = session.ApplyChunk(" Hello")
			_ = session.ApplyChunk(" world\n")

			msg, committed, err := session.Complete()
			Expect(err).NotTo(HaveOccurred())
			Expect(committed).To(BeTrue())
			Expect(msg).To(Equal(llm.ChatMessage{Role: llm.RoleAssistant, Content: " Hello world\n"}))

			Expect(session.State()).To(Equal(chat.Completed))
			Expect(session.Pending()).To(BeEmpty())
			Expect(session.Messages()).To(HaveLen(2))
		})

		It("does not commit a whitespace-only reply", func() {
			_ = session.ApplyChunk("  \n")

			_, committed, err := session.Complete()
			Expect(err).NotTo(HaveOccurred())
			Expect(committed).To(BeFalse())
			Expect(session.Messages()).To(HaveLen(1))
			Expect(session.State()).To(Equal(chat.Completed))
		})

		It("completes at most once per turn", func() {
			_, _, err := session.Complete()
			Expect(err).NotTo(HaveOccurred())

			_, _, err = session.Complete()
			Expect(err).To(MatchError(chat.ErrNotStreaming))
		})

		It("discards partial text on failure", func() {
			_ = session.ApplyChunk("partial answ")
			cause := errors.New("rate limited")

			Expect(session.Fail(cause)).To(Succeed())

			Expect(session.State()).To(Equal(chat.Errored))
			Expect(session.Err()).To(MatchError("rate limited"))
			Expect(session.Pending()).To(BeEmpty())
			Expect(session.Messages()).To(Equal([]llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}}))
		})

		It("rejects chunks after the turn ended", func() {
			_, _, _ = session.Complete()
			Expect(session.ApplyChunk("late")).To(MatchError(chat.ErrNotStreaming))
		})

		It("abandons the reply and returns to idle", func() {
			_ = session.ApplyChunk("never finished")
			session.Abandon()

			Expect(session.State()).To(Equal(chat.Idle))
			Expect(session.Pending()).To(BeEmpty())
			Expect(session.Messages()).To(HaveLen(1))
		})
	})

	Describe("ordering", func() {
		It("commits exactly the concatenation of chunks in arrival order", func() {
			chunks := []string{"a", "β", "c ", "🎉", "", "d\n", "e"}
			_, _ = session.Begin("go")
			for _, c := range chunks {
				Expect(session.ApplyChunk(c)).To(Succeed())
			}

			msg, committed, _ := session.Complete()
			Expect(committed).To(BeTrue())
			Expect(msg.Content).To(Equal(strings.Join(chunks, "")))
		})
	})

	Describe("recording and observing", func() {
		It("records user and assistant messages in order", func() {
			rec := &memoryRecorder{}
			s := chat.NewSession(chat.WithID("rec"), chat.WithRecorder(rec))

			_, _ = s.Begin("question")
			_ = s.ApplyChunk("answer")
			_, _, _ = s.Complete()

			Expect(rec.msgs).To(Equal([]llm.ChatMessage{
				{Role: llm.RoleUser, Content: "question"},
				{Role: llm.RoleAssistant, Content: "answer"},
			}))
			Expect(rec.ids).To(ConsistOf("rec", "rec"))
		})

		It("records the system prompt once, ahead of the first question", func() {
			rec := &memoryRecorder{}
			s := chat.NewSession(chat.WithSystemPrompt("be brief"), chat.WithRecorder(rec))

			_, _ = s.Begin("one")
			_ = s.ApplyChunk("1")
			_, _, _ = s.Complete()
			_, _ = s.Begin("two")

			Expect(rec.msgs).To(Equal([]llm.ChatMessage{
				{Role: llm.RoleSystem, Content: "be brief"},
				{Role: llm.RoleUser, Content: "one"},
				{Role: llm.RoleAssistant, Content: "1"},
				{Role: llm.RoleUser, Content: "two"},
			}))
		})

		It("does not re-record resumed history", func() {
			rec := &memoryRecorder{}
			s := chat.NewSession(
				chat.WithHistory([]llm.ChatMessage{{Role: llm.RoleSystem, Content: "stored"}}),
				chat.WithRecorder(rec),
			)

			_, _ = s.Begin("more")

			Expect(rec.msgs).To(Equal([]llm.ChatMessage{{Role: llm.RoleUser, Content: "more"}}))
		})

		It("keeps the commit when recording fails", func() {
			rec := &memoryRecorder{err: errors.New("disk full")}
			s := chat.NewSession(chat.WithRecorder(rec))

			_, _ = s.Begin("question")
			_ = s.ApplyChunk("answer")
			_, committed, err := s.Complete()

			Expect(err).NotTo(HaveOccurred())
			Expect(committed).To(BeTrue())
			Expect(s.Messages()).To(HaveLen(2))
		})

		It("notifies observers with snapshots", func() {
			var states []chat.State
			var pending []string
			s := chat.NewSession(chat.WithObserver(func(snap chat.Snapshot) {
				states = append(states, snap.State)
				pending = append(pending, snap.Pending)
			}))

			_, _ = s.Begin("q")
			_ = s.ApplyChunk("a")
			_ = s.ApplyChunk("b")
			_, _, _ = s.Complete()

			Expect(states).To(Equal([]chat.State{chat.Sending, chat.Streaming, chat.Streaming, chat.Completed}))
			Expect(pending).To(Equal([]string{"", "a", "ab", ""}))
		})
	})

	It("generates an id when none is given", func() {
		Expect(chat.NewSession().ID()).To(HaveLen(36))
	})
})
