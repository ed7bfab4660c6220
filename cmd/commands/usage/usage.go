package usage

import "github.com/spf13/cobra"

// NewCommand returns the "usage" parent command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show and collect resource usage samples",
		Long: `Workers sample CPU, disk and network usage of the resources listed in
usage-resources every usage-interval. These commands read the stored
samples or take one right away.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(ShowCommand())
	cmd.AddCommand(SyncCommand())

	return cmd
}
