package historycmder

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/streamchat/cmd/streamchat/cliconfig"
	"github.com/papercomputeco/streamchat/pkg/merkle"
)

const mergeLongDesc string = `Merge one or more transcript databases into the local one.

Content-addressing makes this a simple union: messages that already
exist in the target are skipped (deduped by hash), and conversations
that share a prefix share its messages.

Examples:
  streamchat history merge ~/laptop/transcripts.db
  streamchat --db /tmp/merged.db history merge a.db b.db`

const mergeShortDesc string = "Merge transcript databases"

type mergeCommander struct {
	flags *cliconfig.Flags
}

func newMergeCmd(flags *cliconfig.Flags) *cobra.Command {
	cmder := &mergeCommander{flags: flags}

	return &cobra.Command{
		Use:   "merge [sources...]",
		Short: mergeShortDesc,
		Long:  mergeLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}
}

func (c *mergeCommander) run(ctx context.Context, cmd *cobra.Command, sources []string) error {
	env, err := c.flags.Load(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	target, err := env.OpenStore()
	if err != nil {
		return fmt.Errorf("could not open target database: %w", err)
	}
	defer target.Close()

	var totalNew, totalDuped int

	for _, srcPath := range sources {
		srcNew, srcDuped, err := mergeFrom(ctx, target, srcPath)
		if err != nil {
			return err
		}

		totalNew += srcNew
		totalDuped += srcDuped

		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d new, %d already existed\n", srcPath, srcNew, srcDuped)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d new messages from %d sources (%d already existed) into %s\n",
		totalNew, len(sources), totalDuped, env.Config.DBPath)

	return nil
}

// mergeFrom copies every node of the database at srcPath into target.
// Nodes are listed in insertion order, so parents land before children.
func mergeFrom(ctx context.Context, target merkle.Storer, srcPath string) (int, int, error) {
	if _, err := os.Stat(srcPath); err != nil {
		return 0, 0, fmt.Errorf("could not open source database %s: %w", srcPath, err)
	}

	source, err := merkle.NewSQLiteStorer(srcPath)
	if err != nil {
		return 0, 0, fmt.Errorf("could not open source database %s: %w", srcPath, err)
	}
	defer source.Close()

	nodes, err := source.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("could not list nodes from %s: %w", srcPath, err)
	}

	var srcNew, srcDuped int
	for _, n := range nodes {
		exists, err := target.Has(ctx, n.Hash)
		if err != nil {
			return 0, 0, fmt.Errorf("could not check node %s: %w", n.Hash, err)
		}
		if exists {
			srcDuped++
			continue
		}

		if !n.Verify() {
			return 0, 0, fmt.Errorf("node %s in %s does not match its content", n.Hash, srcPath)
		}
		if err := target.Put(ctx, n); err != nil {
			return 0, 0, fmt.Errorf("could not put node %s: %w", n.Hash, err)
		}
		srcNew++
	}
	return srcNew, srcDuped, nil
}
