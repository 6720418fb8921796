package askcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/streamchat/cmd/streamchat/cliconfig"
	"github.com/papercomputeco/streamchat/pkg/client"
	"github.com/papercomputeco/streamchat/pkg/llm"
	"github.com/papercomputeco/streamchat/pkg/stream"
	"github.com/papercomputeco/streamchat/pkg/tui"
)

const askLongDesc string = `Ask a single question and print the reply.

By default the non-streaming endpoint is used and the whole reply is
printed at once. With --stream the reply is printed as it arrives.
When no prompt is given on the command line it is read from stdin.

Examples:
  streamchat ask "What is a Merkle DAG?"
  git diff | streamchat ask --system "Review this diff."
  streamchat ask --stream --usage "Write a haiku about Go"`

const askShortDesc string = "Ask a one-shot question"

var errEmptyPrompt = errors.New("no prompt given")

type askCommander struct {
	flags  *cliconfig.Flags
	system string
	stream bool
	usage  bool
}

func NewAskCmd(flags *cliconfig.Flags) *cobra.Command {
	cmder := &askCommander{flags: flags}

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: askShortDesc,
		Long:  askLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().StringVar(&cmder.system, "system", "", "System prompt")
	cmd.Flags().BoolVar(&cmder.stream, "stream", false, "Print the reply as it streams")
	cmd.Flags().BoolVar(&cmder.usage, "usage", false, "Print token usage when the backend reports it")

	return cmd
}

func (c *askCommander) run(ctx context.Context, cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	env, err := c.flags.Load(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Logger.Sync()

	if err := env.Tokens.Load(ctx); err != nil {
		return err
	}

	var msgs []llm.ChatMessage
	if strings.TrimSpace(c.system) != "" {
		msgs = append(msgs, llm.ChatMessage{Role: llm.RoleSystem, Content: c.system})
	}
	msgs = append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: prompt})
	req := llm.NewChatRequest(msgs, env.Config.MaxHistory)

	cl := env.Client()
	if c.stream {
		return c.streamReply(ctx, cmd, cl, req)
	}
	return c.fallbackReply(ctx, cmd, cl, req)
}

func (c *askCommander) fallbackReply(ctx context.Context, cmd *cobra.Command, cl *client.Client, req llm.ChatRequest) error {
	sp := tui.NewSpinner("Thinking...", cmd.ErrOrStderr())
	sp.Start()
	resp, err := cl.Chat(ctx, req)
	sp.Stop()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), resp.Data.Response)
	if c.usage {
		printUsage(cmd.ErrOrStderr(), resp.Data.Usage)
	}
	return nil
}

func (c *askCommander) streamReply(ctx context.Context, cmd *cobra.Command, cl *client.Client, req llm.ChatRequest) error {
	out := cmd.OutOrStdout()

	var failure error
	terminated := stream.Dispatch(cl.Stream(ctx, req), stream.Callbacks{
		OnChunk: func(ev llm.StreamEvent) { fmt.Fprint(out, ev.Content) },
		OnError: func(err error) { failure = err },
	})
	fmt.Fprintln(out)

	switch {
	case failure != nil:
		return failure
	case !terminated:
		return stream.ErrSilentTermination
	}
	return nil
}

func readPrompt(in io.Reader, args []string) (string, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("could not read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return "", errEmptyPrompt
	}
	return prompt, nil
}

func printUsage(w io.Writer, usage *llm.Usage) {
	if usage == nil {
		return
	}
	color.New(color.FgHiBlack).Fprintf(w, "  %d prompt + %d completion = %d tokens\n",
		usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
}
