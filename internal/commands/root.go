package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the clauditor command tree. Without a subcommand
// it behaves like watch.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}
	w := &watchFlags{}

	root := &cobra.Command{
		Use:   "clauditor",
		Short: "Claude usage window monitor",
		Long: `Track token usage and cost of Claude sessions within the current
5-hour usage window by following the local JSONL logs.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, g, w)
		},
	}
	g.register(root)
	w.register(root)

	root.AddCommand(
		newWindowCommand(g),
		newWatchCommand(g),
		newBlocksCommand(g),
		newConfigCommand(g),
	)
	return root
}
