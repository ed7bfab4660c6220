package events

import "github.com/spf13/cobra"

// NewCommand returns the "events" parent command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "View and manage monitoring history",
		Long: "View the events workers record while monitoring tasks (each attempt,\n" +
			"retry and outcome) and prune old entries.\n\n" +
			"Events are stored in the local database next to the task records.",
		SilenceUsage: true,
	}

	cmd.AddCommand(ListCommand())
	cmd.AddCommand(PruneCommand())

	return cmd
}
