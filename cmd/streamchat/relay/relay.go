package relaycmder

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/streamchat/cmd/streamchat/cliconfig"
	"github.com/papercomputeco/streamchat/relay"
)

const relayLongDesc string = `Run a development chat backend in front of an Ollama-compatible server.

The relay serves POST /chat/stream and POST /chat with the same contract
as the production backend, so the client can be exercised against a local
model. Completed turns are kept in a content-addressed store that can be
inspected under /dag.

Examples:
  streamchat relay
  streamchat relay --upstream http://gpu-box:11434 --model qwen2.5
  streamchat relay --token dev-secret --relay-db /tmp/relay.db`

const relayShortDesc string = "Run a local development backend"

const shutdownTimeout = 5 * time.Second

type relayCommander struct {
	flags       *cliconfig.Flags
	listenAddr  string
	upstreamURL string
	model       string
	token       string
	dbPath      string
}

func NewRelayCmd(flags *cliconfig.Flags) *cobra.Command {
	cmder := &relayCommander{flags: flags}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: relayShortDesc,
		Long:  relayLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.listenAddr, "listen", "l", "", "Address to listen on")
	cmd.Flags().StringVarP(&cmder.upstreamURL, "upstream", "u", "", "Upstream Ollama-compatible URL")
	cmd.Flags().StringVarP(&cmder.model, "model", "m", "", "Upstream model")
	cmd.Flags().StringVar(&cmder.token, "token", "", "Require this bearer token on chat requests")
	cmd.Flags().StringVar(&cmder.dbPath, "relay-db", "", "Path to the relay SQLite database (default: in-memory)")

	return cmd
}

func (c *relayCommander) run(ctx context.Context, cmd *cobra.Command) error {
	env, err := c.flags.Load(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	logger := env.Logger
	defer logger.Sync()

	cfg := relay.Config{
		ListenAddr:  env.Config.Relay.ListenAddr,
		UpstreamURL: env.Config.Relay.UpstreamURL,
		Model:       env.Config.Relay.Model,
		Token:       env.Config.Relay.Token,
		DBPath:      c.dbPath,
	}
	if c.listenAddr != "" {
		cfg.ListenAddr = c.listenAddr
	}
	if c.upstreamURL != "" {
		cfg.UpstreamURL = c.upstreamURL
	}
	if c.model != "" {
		cfg.Model = c.model
	}
	if c.token != "" {
		cfg.Token = c.token
	}

	r, err := relay.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("could not create relay: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("relay server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.Shutdown(shutdownCtx); err != nil {
		logger.Warn("relay shutdown incomplete", zap.Error(err))
	}
	return nil
}
