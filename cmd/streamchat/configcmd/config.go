package configcmder

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/streamchat/cmd/streamchat/cliconfig"
	"github.com/papercomputeco/streamchat/pkg/config"
)

const configLongDesc string = `Print the effective configuration.

The output merges the config file, .env, STREAMCHAT_* environment
variables and any global flags, and is itself a valid config file.

Examples:
  streamchat config
  streamchat --base-url https://chat.example.com/api config init`

type configCommander struct {
	flags *cliconfig.Flags
	force bool
}

func NewConfigCmd(flags *cliconfig.Flags) *cobra.Command {
	cmder := &configCommander{flags: flags}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  configLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.show(cmd)
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.init(cmd)
		},
	}
	initCmd.Flags().BoolVarP(&cmder.force, "force", "f", false, "Overwrite an existing config file")
	cmd.AddCommand(initCmd)

	return cmd
}

func (c *configCommander) show(cmd *cobra.Command) error {
	env, err := c.flags.Load(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	return toml.NewEncoder(cmd.OutOrStdout()).Encode(env.Config)
}

func (c *configCommander) init(cmd *cobra.Command) error {
	path := c.flags.ConfigPath
	if _, err := os.Stat(path); err == nil && !c.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	env, err := c.flags.Load(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if err := config.Save(env.Config, path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
