package transcript_test

import (
	"context"
	"io"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/streamchat/pkg/chat"
	"github.com/papercomputeco/streamchat/pkg/llm"
	"github.com/papercomputeco/streamchat/pkg/merkle"
	"github.com/papercomputeco/streamchat/pkg/stream"
	"github.com/papercomputeco/streamchat/pkg/transcript"
)

func wire(body string) chat.StreamerFunc {
	return func(ctx context.Context, _ llm.ChatRequest) <-chan stream.Event {
		return stream.Read(ctx, io.NopCloser(strings.NewReader(body)))
	}
}

var _ = Describe("Recorder", func() {
	var (
		ctx      context.Context
		store    *merkle.SQLiteStorer
		recorder *transcript.Recorder
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		store, err = merkle.NewSQLiteStorer(":memory:")
		Expect(err).NotTo(HaveOccurred())
		recorder = transcript.NewRecorder(store, nil)
	})

	AfterEach(func() {
		store.Close()
	})

	It("chains messages of one session", func() {
		Expect(recorder.Record(ctx, "s1", llm.ChatMessage{Role: llm.RoleUser, Content: "hi"})).To(Succeed())
		Expect(recorder.Record(ctx, "s1", llm.ChatMessage{Role: llm.RoleAssistant, Content: "hello"})).To(Succeed())

		head, ok := recorder.Head("s1")
		Expect(ok).To(BeTrue())
		Expect(store.Depth(ctx, head)).To(Equal(1))

		msgs, err := transcript.History(ctx, store, head)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(Equal([]llm.ChatMessage{
			{Role: llm.RoleUser, Content: "hi"},
			{Role: llm.RoleAssistant, Content: "hello"},
		}))
	})

	It("keeps sessions separate", func() {
		Expect(recorder.Record(ctx, "a", llm.ChatMessage{Role: llm.RoleUser, Content: "first"})).To(Succeed())
		Expect(recorder.Record(ctx, "b", llm.ChatMessage{Role: llm.RoleUser, Content: "second"})).To(Succeed())

		roots, err := store.Roots(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(roots).To(HaveLen(2))
	})

	It("reports no head for an unknown session", func() {
		_, ok := recorder.Head("nope")
		Expect(ok).To(BeFalse())
	})

	Context("wired into a chat session", func() {
		It("records the user message and the committed reply only", func() {
			session := chat.NewSession(chat.WithID("wired"), chat.WithRecorder(recorder))
			runner := chat.NewRunner(session, wire(`data: {"content":"Hel","done":false}
data: {"content":"lo","done":false}
data: {"content":"","done":true}
`), nil)
			Expect(runner.Send(ctx, "greet me")).To(Succeed())

			head, ok := recorder.Head("wired")
			Expect(ok).To(BeTrue())
			msgs, err := transcript.History(ctx, store, head)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[1].Content).To(Equal("Hello"))
		})

		It("does not record a failed reply", func() {
			session := chat.NewSession(chat.WithID("failed"), chat.WithRecorder(recorder))
			runner := chat.NewRunner(session, wire(`data: {"content":"partial","done":false}
data: {"content":"","done":false,"error":"boom"}
`), nil)
			Expect(runner.Send(ctx, "try")).NotTo(Succeed())

			nodes, err := store.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(nodes).To(HaveLen(1))
			Expect(nodes[0].Bucket.Role).To(Equal(llm.RoleUser))
		})
	})

	Describe("Resume", func() {
		It("continues a stored conversation as a branch", func() {
			Expect(recorder.Record(ctx, "old", llm.ChatMessage{Role: llm.RoleUser, Content: "q1"})).To(Succeed())
			Expect(recorder.Record(ctx, "old", llm.ChatMessage{Role: llm.RoleAssistant, Content: "a1"})).To(Succeed())
			head, _ := recorder.Head("old")

			msgs, err := recorder.Resume(ctx, "new", head)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(2))

			Expect(recorder.Record(ctx, "new", llm.ChatMessage{Role: llm.RoleUser, Content: "q2"})).To(Succeed())
			newHead, _ := recorder.Head("new")
			Expect(store.Depth(ctx, newHead)).To(Equal(2))
		})

		It("brings back the system prompt of a recorded session", func() {
			first := chat.NewSession(chat.WithID("first"), chat.WithSystemPrompt("be brief"), chat.WithRecorder(recorder))
			_, err := first.Begin("q1")
			Expect(err).NotTo(HaveOccurred())
			Expect(first.ApplyChunk("a1")).To(Succeed())
			_, _, err = first.Complete()
			Expect(err).NotTo(HaveOccurred())
			head, _ := recorder.Head("first")

			msgs, err := recorder.Resume(ctx, "second", head)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(Equal([]llm.ChatMessage{
				{Role: llm.RoleSystem, Content: "be brief"},
				{Role: llm.RoleUser, Content: "q1"},
				{Role: llm.RoleAssistant, Content: "a1"},
			}))

			second := chat.NewSession(chat.WithID("second"), chat.WithHistory(msgs), chat.WithRecorder(recorder))
			req, err := second.Begin("q2")
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Messages[0]).To(Equal(llm.ChatMessage{Role: llm.RoleSystem, Content: "be brief"}))

			summaries, err := transcript.List(ctx, store)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(1))
			Expect(summaries[0].Title).To(Equal("q1"))
		})

		It("fails for an unknown hash", func() {
			_, err := recorder.Resume(ctx, "new", "missing")
			Expect(err).To(MatchError(merkle.ErrNotFound{Hash: "missing"}))
		})
	})

	Describe("List", func() {
		It("summarizes each conversation by its first user message", func() {
			Expect(recorder.Record(ctx, "a", llm.ChatMessage{Role: llm.RoleUser, Content: "alpha"})).To(Succeed())
			Expect(recorder.Record(ctx, "a", llm.ChatMessage{Role: llm.RoleAssistant, Content: "reply"})).To(Succeed())
			Expect(recorder.Record(ctx, "b", llm.ChatMessage{Role: llm.RoleUser, Content: "beta"})).To(Succeed())

			summaries, err := transcript.List(ctx, store)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(2))

			titles := []string{summaries[0].Title, summaries[1].Title}
			Expect(titles).To(ConsistOf("alpha", "beta"))
		})
	})
})

var _ = Describe("Resolve", func() {
	var (
		ctx   context.Context
		store *merkle.MemoryStorer
		a, b  *merkle.Node
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = merkle.NewMemoryStorer()
		a = merkle.NewNode(merkle.MessageBucket(llm.ChatMessage{Role: llm.RoleUser, Content: "a"}), nil)
		b = merkle.NewNode(merkle.MessageBucket(llm.ChatMessage{Role: llm.RoleUser, Content: "b"}), nil)
		Expect(store.Put(ctx, a)).To(Succeed())
		Expect(store.Put(ctx, b)).To(Succeed())
	})

	It("accepts a full hash", func() {
		Expect(transcript.Resolve(ctx, store, a.Hash)).To(Equal(a.Hash))
	})

	It("expands a unique prefix", func() {
		Expect(transcript.Resolve(ctx, store, b.Hash[:12])).To(Equal(b.Hash))
	})

	It("rejects an ambiguous prefix", func() {
		_, err := transcript.Resolve(ctx, store, "")
		Expect(err).To(MatchError(transcript.ErrAmbiguous))
	})

	It("reports an unknown prefix as not found", func() {
		_, err := transcript.Resolve(ctx, store, "zz")
		Expect(err).To(MatchError(merkle.ErrNotFound{Hash: "zz"}))
	})
})
