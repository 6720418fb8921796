package historycmder_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/streamchat/cmd/streamchat/cliconfig"
	historycmder "github.com/papercomputeco/streamchat/cmd/streamchat/history"
	"github.com/papercomputeco/streamchat/pkg/llm"
	"github.com/papercomputeco/streamchat/pkg/merkle"
	"github.com/papercomputeco/streamchat/pkg/transcript"
)

var _ = Describe("History Command", func() {
	var (
		ctx     context.Context
		tmpDir  string
		dbPath  string
		cfgPath string
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "transcripts.db")
		cfgPath = filepath.Join(tmpDir, "config.toml")
	})

	execute := func(args ...string) (string, error) {
		root := &cobra.Command{Use: "streamchat", SilenceUsage: true, SilenceErrors: true}
		flags := cliconfig.Register(root)
		root.AddCommand(historycmder.NewHistoryCmd(flags))

		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append([]string{"--config", cfgPath, "--db", dbPath, "history"}, args...))
		err := root.ExecuteContext(ctx)
		return out.String(), err
	}

	seed := func(path, sessionID string, msgs ...llm.ChatMessage) string {
		store, err := merkle.NewSQLiteStorer(path)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		rec := transcript.NewRecorder(store, nil)
		for _, m := range msgs {
			Expect(rec.Record(ctx, sessionID, m)).To(Succeed())
		}
		head, ok := rec.Head(sessionID)
		Expect(ok).To(BeTrue())
		return head
	}

	user := func(s string) llm.ChatMessage { return llm.ChatMessage{Role: llm.RoleUser, Content: s} }
	assistant := func(s string) llm.ChatMessage { return llm.ChatMessage{Role: llm.RoleAssistant, Content: s} }

	It("reports an empty history", func() {
		out, err := execute()
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("No saved conversations."))
	})

	It("lists conversations by head hash and first question", func() {
		head := seed(dbPath, "s1", user("what is a merkle dag?"), assistant("a hash-linked graph"))

		out, err := execute()
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring(head[:12]))
		Expect(out).To(ContainSubstring("what is a merkle dag?"))
		Expect(out).To(ContainSubstring("(2 messages)"))
	})

	It("shows a conversation by hash prefix", func() {
		head := seed(dbPath, "s1", user("ping"), assistant("pong"))

		out, err := execute("show", head[:8])
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("user:\nping"))
		Expect(out).To(ContainSubstring("assistant:\npong"))
	})

	It("fails to show an unknown conversation", func() {
		seed(dbPath, "s1", user("ping"))

		_, err := execute("show", "ffffffff")
		Expect(err).To(HaveOccurred())
	})

	Describe("merge", func() {
		It("merges nodes from a source into the target", func() {
			srcPath := filepath.Join(tmpDir, "source.db")
			seed(srcPath, "src", user("hello from source"), assistant("hi back"))
			seed(dbPath, "dst", user("already here"))

			out, err := execute("merge", srcPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("2 new, 0 already existed"))

			target, err := merkle.NewSQLiteStorer(dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer target.Close()
			nodes, err := target.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(nodes).To(HaveLen(3))
		})

		It("skips nodes that already exist", func() {
			srcPath := filepath.Join(tmpDir, "source.db")
			seed(srcPath, "src", user("shared"), assistant("reply"))
			seed(dbPath, "dst", user("shared"))

			out, err := execute("merge", srcPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("1 new, 1 already existed"))
		})

		It("does not create a missing source", func() {
			missing := filepath.Join(tmpDir, "missing.db")

			_, err := execute("merge", missing)
			Expect(err).To(HaveOccurred())

			_, statErr := os.Stat(missing)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})
	})
})
