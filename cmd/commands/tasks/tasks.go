package tasks

import "github.com/spf13/cobra"

// NewCommand returns the "tasks" parent command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Track and inspect hypervisor tasks",
		Long: `Track long-running hypervisor tasks (backups, restores, ISO downloads)
and inspect the local records vpsd keeps for them.

A tracked task is monitored by a worker ("vpsd worker") until it finishes,
fails, or monitoring gives up. Records live in the local database.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(TrackCommand())
	cmd.AddCommand(ListCommand())
	cmd.AddCommand(ShowCommand())
	cmd.AddCommand(WatchCommand())
	cmd.AddCommand(WaitCommand())
	cmd.AddCommand(PruneCommand())

	return cmd
}
