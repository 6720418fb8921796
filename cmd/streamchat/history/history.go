package historycmder

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/x/ansi"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/streamchat/cmd/streamchat/cliconfig"
	"github.com/papercomputeco/streamchat/pkg/llm"
	"github.com/papercomputeco/streamchat/pkg/merkle"
	"github.com/papercomputeco/streamchat/pkg/transcript"
)

const historyLongDesc string = `List saved conversations.

Every conversation is addressed by the hash of its last message. Pass a
hash, or any unique prefix of one, to "history show" to print it or to
"chat --resume" to continue it.

Examples:
  streamchat history
  streamchat history show 3fa9c1
  streamchat history merge ~/laptop/transcripts.db`

const (
	historyShortDesc = "List saved conversations"
	hashWidth        = 12
	titleWidth       = 60
)

type historyCommander struct {
	flags *cliconfig.Flags
}

func NewHistoryCmd(flags *cliconfig.Flags) *cobra.Command {
	cmder := &historyCommander{flags: flags}

	cmd := &cobra.Command{
		Use:   "history",
		Short: historyShortDesc,
		Long:  historyLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.list(cmd.Context(), cmd)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <hash>",
		Short: "Print a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.show(cmd.Context(), cmd, args[0])
		},
	})
	cmd.AddCommand(newMergeCmd(flags))

	return cmd
}

func (c *historyCommander) open(cmd *cobra.Command) (merkle.Storer, error) {
	env, err := c.flags.Load(cmd, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return env.OpenStore()
}

func (c *historyCommander) list(ctx context.Context, cmd *cobra.Command) error {
	store, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := transcript.List(ctx, store)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No saved conversations.")
		return nil
	}

	dim := color.New(color.FgHiBlack)
	for _, s := range summaries {
		fmt.Fprintf(out, "%s  %s ", s.Head[:hashWidth], ansi.Truncate(oneLine(s.Title), titleWidth, "…"))
		dim.Fprintf(out, "(%d messages)\n", s.Messages)
	}
	return nil
}

func (c *historyCommander) show(ctx context.Context, cmd *cobra.Command, prefix string) error {
	store, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	hash, err := transcript.Resolve(ctx, store, prefix)
	if err != nil {
		return fmt.Errorf("could not find conversation %s: %w", prefix, err)
	}

	msgs, err := transcript.History(ctx, store, hash)
	if err != nil {
		return err
	}

	printConversation(cmd.OutOrStdout(), msgs)
	return nil
}

func printConversation(w io.Writer, msgs []llm.ChatMessage) {
	labels := map[llm.Role]*color.Color{
		llm.RoleUser:      color.New(color.FgGreen, color.Bold),
		llm.RoleAssistant: color.New(color.FgCyan, color.Bold),
		llm.RoleSystem:    color.New(color.FgHiBlack),
	}

	for _, m := range msgs {
		label, ok := labels[m.Role]
		if !ok {
			label = color.New()
		}
		label.Fprintf(w, "%s:\n", m.Role)
		fmt.Fprintf(w, "%s\n\n", m.Content)
	}
}

func oneLine(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r == '\n' || r == '\r' || r == '\t' {
			out[i] = ' '
		}
	}
	return string(out)
}
