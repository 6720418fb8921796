package authcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/streamchat/cmd/streamchat/cliconfig"
)

const loginLongDesc string = `Store the access token used for chat requests.

The token is saved to the credentials file (~/.streamchat/credentials.toml
by default) with owner-only permissions. A running chat session picks up
the new token without restarting.

Examples:
  streamchat login
  streamchat login "$CHAT_TOKEN"
  echo "$CHAT_TOKEN" | streamchat login`

var errEmptyToken = errors.New("no token given")

type authCommander struct {
	flags *cliconfig.Flags
}

func NewLoginCmd(flags *cliconfig.Flags) *cobra.Command {
	cmder := &authCommander{flags: flags}

	return &cobra.Command{
		Use:   "login [token]",
		Short: "Save an access token",
		Long:  loginLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.login(cmd.Context(), cmd, args)
		},
	}
}

func NewLogoutCmd(flags *cliconfig.Flags) *cobra.Command {
	cmder := &authCommander{flags: flags}

	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.logout(cmd.Context(), cmd)
		},
	}
}

func NewWhoamiCmd(flags *cliconfig.Flags) *cobra.Command {
	cmder := &authCommander{flags: flags}

	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the backend and login state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.whoami(cmd.Context(), cmd)
		},
	}
}

func (c *authCommander) login(ctx context.Context, cmd *cobra.Command, args []string) error {
	env, err := c.flags.Load(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	token := ""
	if len(args) == 1 {
		token = args[0]
	} else {
		token, err = readToken(cmd)
		if err != nil {
			return err
		}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errEmptyToken
	}

	if err := env.Tokens.Set(ctx, token); err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Logged in. Credentials saved to %s\n", env.Tokens.Path())
	return nil
}

func (c *authCommander) logout(ctx context.Context, cmd *cobra.Command) error {
	env, err := c.flags.Load(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if err := env.Tokens.Clear(ctx); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
	return nil
}

func (c *authCommander) whoami(ctx context.Context, cmd *cobra.Command) error {
	env, err := c.flags.Load(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if err := env.Tokens.Load(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backend:     %s\n", env.Config.BaseURL)
	fmt.Fprintf(out, "Credentials: %s\n", env.Tokens.Path())

	token := env.Tokens.Token()
	if token == "" {
		color.New(color.FgYellow).Fprintln(out, "Not logged in.")
		return nil
	}
	fmt.Fprintf(out, "Logged in with token %s\n", mask(token))
	return nil
}

// readToken prompts without echo on a terminal, and otherwise reads the
// first line of input.
func readToken(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("could not read token: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("could not read token: %w", err)
	}
	return line, nil
}

// mask keeps only the ends of a token.
func mask(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "…" + token[len(token)-4:]
}
