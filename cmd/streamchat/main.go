package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	askcmder "github.com/papercomputeco/streamchat/cmd/streamchat/ask"
	authcmder "github.com/papercomputeco/streamchat/cmd/streamchat/auth"
	chatcmder "github.com/papercomputeco/streamchat/cmd/streamchat/chat"
	"github.com/papercomputeco/streamchat/cmd/streamchat/cliconfig"
	configcmder "github.com/papercomputeco/streamchat/cmd/streamchat/configcmd"
	historycmder "github.com/papercomputeco/streamchat/cmd/streamchat/history"
	relaycmder "github.com/papercomputeco/streamchat/cmd/streamchat/relay"
)

const rootLongDesc string = `streamchat is a terminal client for a streaming chat backend.

Replies stream in as they are generated. Conversations are saved locally
as a content-addressed history so they can be listed, resumed and merged.

Configuration is read from ~/.streamchat/config.toml, a .env file in the
working directory and STREAMCHAT_* environment variables, in that order.`

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "streamchat",
		Short:         "Streaming chat in the terminal",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cliconfig.Register(root)

	root.AddCommand(chatcmder.NewChatCmd(flags))
	root.AddCommand(askcmder.NewAskCmd(flags))
	root.AddCommand(relaycmder.NewRelayCmd(flags))
	root.AddCommand(authcmder.NewLoginCmd(flags))
	root.AddCommand(authcmder.NewLogoutCmd(flags))
	root.AddCommand(authcmder.NewWhoamiCmd(flags))
	root.AddCommand(historycmder.NewHistoryCmd(flags))
	root.AddCommand(configcmder.NewConfigCmd(flags))

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
