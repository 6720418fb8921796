package chatcmder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/streamchat/cmd/streamchat/cliconfig"
	"github.com/papercomputeco/streamchat/pkg/chat"
	"github.com/papercomputeco/streamchat/pkg/client"
	"github.com/papercomputeco/streamchat/pkg/config"
	"github.com/papercomputeco/streamchat/pkg/llm"
	"github.com/papercomputeco/streamchat/pkg/merkle"
	"github.com/papercomputeco/streamchat/pkg/transcript"
	"github.com/papercomputeco/streamchat/pkg/tui"
)

const chatLongDesc string = `Start an interactive chat session.

Replies stream in as they are generated. Each sent message and each
completed reply is saved to the local transcript database, as is the
--system prompt; a reply that fails part way is discarded, never saved.
A conversation continued with --resume keeps its saved system prompt.

In a terminal a full-screen interface is used. When input or output is
redirected, or with --plain, one prompt is read per line instead.

Examples:
  streamchat chat
  streamchat chat --system "Answer in one sentence."
  streamchat chat --resume 3fa9c1`

const chatShortDesc string = "Start an interactive chat session"

const logFileName = "streamchat.log"

type chatCommander struct {
	flags    *cliconfig.Flags
	system   string
	resume   string
	plain    bool
	noRecord bool
}

func NewChatCmd(flags *cliconfig.Flags) *cobra.Command {
	cmder := &chatCommander{flags: flags}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.system, "system", "", "System prompt for the session")
	cmd.Flags().StringVarP(&cmder.resume, "resume", "r", "", "Continue a saved conversation by hash or hash prefix")
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Use the line interface even in a terminal")
	cmd.Flags().BoolVar(&cmder.noRecord, "no-record", false, "Do not save this session")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command) error {
	fullScreen := !c.plain && tui.Interactive()

	logTo, closeLog, err := c.logWriter(cmd, fullScreen)
	if err != nil {
		return err
	}
	defer closeLog()

	env, err := c.flags.Load(cmd, logTo)
	if err != nil {
		return err
	}
	defer env.Logger.Sync()

	if err := env.Tokens.Load(ctx); err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		if err := env.Tokens.Watch(watchCtx); err != nil {
			env.Logger.Warn("credentials will not reload", zap.Error(err))
		}
	}()

	opts, closeStore, err := c.sessionOptions(ctx, env)
	if err != nil {
		return err
	}
	defer closeStore()

	session := chat.NewSession(opts...)
	cl := env.Client(client.WithUnauthorizedHandler(func() {
		env.Logger.Warn("backend rejected the token; run `streamchat login`")
	}))

	env.Logger.Info("chat session started",
		zap.String("session_id", session.ID()),
		zap.String("base_url", env.Config.BaseURL),
		zap.Bool("full_screen", fullScreen),
	)

	if fullScreen {
		style := "dark"
		if !termenv.HasDarkBackground() {
			style = "light"
		}
		return tui.Run(ctx, session, cl, tui.WithMarkdownStyle(style), tui.WithLogger(env.Logger))
	}
	return tui.NewLine(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), env.Logger).Run(ctx, session, cl)
}

// sessionOptions seeds the session from --system and --resume and wires the
// transcript recorder.
func (c *chatCommander) sessionOptions(ctx context.Context, env *cliconfig.Env) ([]chat.Option, func(), error) {
	sessionID := uuid.NewString()
	opts := []chat.Option{
		chat.WithID(sessionID),
		chat.WithLogger(env.Logger),
		chat.WithMaxHistory(env.Config.MaxHistory),
	}
	if c.noRecord && c.resume == "" {
		return append(opts, chat.WithSystemPrompt(c.system)), func() {}, nil
	}

	store, err := env.OpenStore()
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() { store.Close() }

	recorder := transcript.NewRecorder(store, env.Logger)
	if !c.noRecord {
		opts = append(opts, chat.WithRecorder(recorder))
	}

	if c.resume != "" {
		history, err := c.resumeHistory(ctx, store, recorder, sessionID)
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("could not resume %s: %w", c.resume, err)
		}
		opts = append(opts, chat.WithHistory(history))
		if hasSystemPrompt(history, c.system) {
			return opts, closeStore, nil
		}
	}

	return append(opts, chat.WithSystemPrompt(c.system)), closeStore, nil
}

// hasSystemPrompt reports whether history already carries prompt as a system
// message, so resuming with the same --system does not repeat it.
func hasSystemPrompt(history []llm.ChatMessage, prompt string) bool {
	for _, m := range history {
		if m.Role == llm.RoleSystem && m.Content == prompt {
			return true
		}
	}
	return false
}

// resumeHistory loads the conversation named by --resume. New messages are
// chained after it, so the stored history branches rather than forks anew.
func (c *chatCommander) resumeHistory(ctx context.Context, store merkle.Storer, recorder *transcript.Recorder, sessionID string) ([]llm.ChatMessage, error) {
	hash, err := transcript.Resolve(ctx, store, c.resume)
	if err != nil {
		return nil, err
	}
	return recorder.Resume(ctx, sessionID, hash)
}

// logWriter keeps log lines off the screen the full-screen interface draws
// on: they go to a file when debugging and are dropped otherwise.
func (c *chatCommander) logWriter(cmd *cobra.Command, fullScreen bool) (io.Writer, func(), error) {
	if !fullScreen {
		return cmd.ErrOrStderr(), func() {}, nil
	}
	if !c.flags.Debug {
		return io.Discard, func() {}, nil
	}

	path := filepath.Join(config.Dir(), logFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("could not create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}
