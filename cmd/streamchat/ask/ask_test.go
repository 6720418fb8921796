package askcmder_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	askcmder "github.com/papercomputeco/streamchat/cmd/streamchat/ask"
	"github.com/papercomputeco/streamchat/cmd/streamchat/cliconfig"
	"github.com/papercomputeco/streamchat/pkg/client"
	"github.com/papercomputeco/streamchat/pkg/llm"
	"github.com/papercomputeco/streamchat/pkg/stream"
)

var _ = Describe("Ask Command", func() {
	var (
		ctx      context.Context
		cfgPath  string
		backend  *httptest.Server
		requests chan llm.ChatRequest
		streamed atomic.Value
	)

	BeforeEach(func() {
		ctx = context.Background()
		requests = make(chan llm.ChatRequest, 1)
		streamed.Store("data: {\"content\":\"Hi \",\"done\":false}\ndata: {\"content\":\"there\",\"done\":false}\ndata: {\"content\":\"\",\"done\":true}\n")

		backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req llm.ChatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
				requests <- req
			}

			switch r.URL.Path {
			case "/api" + client.ChatPath:
				fmt.Fprint(w, `{"status":"success","data":{"response":"whole reply","usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}}`)
			case "/api" + client.StreamPath:
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, streamed.Load().(string))
			default:
				http.NotFound(w, r)
			}
		}))
		DeferCleanup(backend.Close)

		tmpDir := GinkgoT().TempDir()
		cfgPath = filepath.Join(tmpDir, "config.toml")
		cfg := fmt.Sprintf("base_url = %q\ncredentials_path = %q\n", backend.URL+"/api", filepath.Join(tmpDir, "credentials.toml"))
		Expect(os.WriteFile(cfgPath, []byte(cfg), 0o600)).To(Succeed())
	})

	execute := func(stdin string, args ...string) (string, string, error) {
		root := &cobra.Command{Use: "streamchat", SilenceUsage: true, SilenceErrors: true}
		flags := cliconfig.Register(root)
		root.AddCommand(askcmder.NewAskCmd(flags))

		var out, errOut bytes.Buffer
		root.SetIn(strings.NewReader(stdin))
		root.SetOut(&out)
		root.SetErr(&errOut)
		root.SetArgs(append([]string{"--config", cfgPath, "ask"}, args...))
		err := root.ExecuteContext(ctx)
		return out.String(), errOut.String(), err
	}

	It("prints the fallback reply", func() {
		out, _, err := execute("", "what", "is", "go?")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("whole reply\n"))

		req := <-requests
		Expect(req.Messages).To(Equal([]llm.ChatMessage{{Role: llm.RoleUser, Content: "what is go?"}}))
	})

	It("reads the prompt from stdin and sends the system prompt first", func() {
		_, _, err := execute("  piped question \n", "--system", "be brief")
		Expect(err).NotTo(HaveOccurred())

		req := <-requests
		Expect(req.Messages).To(HaveLen(2))
		Expect(req.Messages[0].Role).To(Equal(llm.RoleSystem))
		Expect(req.Messages[1].Content).To(Equal("piped question"))
	})

	It("prints usage when asked", func() {
		_, errOut, err := execute("", "--usage", "hi")
		Expect(err).NotTo(HaveOccurred())
		Expect(errOut).To(ContainSubstring("= 5 tokens"))
	})

	It("rejects an empty prompt", func() {
		_, _, err := execute("   ")
		Expect(err).To(MatchError(ContainSubstring("no prompt")))
	})

	It("streams the reply", func() {
		out, _, err := execute("", "--stream", "hi")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("Hi there\n"))
	})

	It("reports a server-signalled error", func() {
		streamed.Store("data: {\"content\":\"par\",\"done\":false}\ndata: {\"content\":\"\",\"done\":false,\"error\":\"quota exceeded\"}\n")

		_, _, err := execute("", "--stream", "hi")
		var serverErr *stream.ServerSignaledError
		Expect(errors.As(err, &serverErr)).To(BeTrue())
		Expect(serverErr.Message).To(Equal("quota exceeded"))
	})

	It("reports a stream that ends without completion", func() {
		streamed.Store("data: {\"content\":\"cut\",\"done\":false}\n")

		_, _, err := execute("", "--stream", "hi")
		Expect(err).To(MatchError(stream.ErrSilentTermination))
	})
})
