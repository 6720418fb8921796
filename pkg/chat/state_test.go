package chat_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/streamchat/pkg/chat"
)

var _ = Describe("Transition", func() {
	DescribeTable("valid transitions",
		func(from chat.State, on chat.Trigger, want chat.State) {
			got, err := chat.Transition(from, on)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("idle submit", chat.Idle, chat.Submit, chat.Sending),
		Entry("completed submit", chat.Completed, chat.Submit, chat.Sending),
		Entry("errored submit", chat.Errored, chat.Submit, chat.Sending),
		Entry("first chunk", chat.Sending, chat.Chunk, chat.Streaming),
		Entry("later chunk", chat.Streaming, chat.Chunk, chat.Streaming),
		Entry("complete before any chunk", chat.Sending, chat.Complete, chat.Completed),
		Entry("complete after chunks", chat.Streaming, chat.Complete, chat.Completed),
		Entry("fail before any chunk", chat.Sending, chat.Fail, chat.Errored),
		Entry("fail after chunks", chat.Streaming, chat.Fail, chat.Errored),
		Entry("abandon streaming", chat.Streaming, chat.Abandon, chat.Idle),
		Entry("abandon idle", chat.Idle, chat.Abandon, chat.Idle),
	)

	DescribeTable("rejected transitions keep the state",
		func(from chat.State, on chat.Trigger, want error) {
			got, err := chat.Transition(from, on)
			Expect(err).To(MatchError(want))
			Expect(got).To(Equal(from))
		},
		Entry("submit while sending", chat.Sending, chat.Submit, chat.ErrBusy),
		Entry("submit while streaming", chat.Streaming, chat.Submit, chat.ErrBusy),
		Entry("chunk while idle", chat.Idle, chat.Chunk, chat.ErrNotStreaming),
		Entry("complete twice", chat.Completed, chat.Complete, chat.ErrNotStreaming),
		Entry("fail after completion", chat.Completed, chat.Fail, chat.ErrNotStreaming),
		Entry("complete after failure", chat.Errored, chat.Complete, chat.ErrNotStreaming),
	)

	It("names states and triggers", func() {
		Expect(chat.Streaming.String()).To(Equal("streaming"))
		Expect(chat.Submit.String()).To(Equal("submit"))
		Expect(chat.State(42).String()).To(Equal("state(42)"))
		Expect(chat.Sending.Busy()).To(BeTrue())
		Expect(chat.Completed.Busy()).To(BeFalse())
	})
})
