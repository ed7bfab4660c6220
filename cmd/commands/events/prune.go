package events

import (
	"fmt"
	"strings"

	"nathanbeddoewebdev/vpsd/cmd/commands/tasks"
	"nathanbeddoewebdev/vpsd/internal/app"

	"github.com/spf13/cobra"
)

func PruneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete events older than a duration",
		Long: `Delete monitoring events older than a duration. Usage samples older than
the same duration are removed too.

Examples:
  vpsd events prune --older-than 30d
  vpsd events prune --older-than 72h`,
		RunE:         runPrune,
		SilenceUsage: true,
	}

	cmd.Flags().String("older-than", "", "Remove entries older than this duration (e.g. 30d, 72h)")
	cmd.Flags().Bool("keep-usage", false, "Leave usage samples in place")

	return cmd
}

func runPrune(cmd *cobra.Command, args []string) error {
	olderThanRaw, _ := cmd.Flags().GetString("older-than")
	olderThanRaw = strings.TrimSpace(olderThanRaw)
	if olderThanRaw == "" {
		return fmt.Errorf("--older-than is required")
	}
	keepUsage, _ := cmd.Flags().GetBool("keep-usage")

	olderThan, err := tasks.ParseAge(olderThanRaw)
	if err != nil {
		return err
	}

	a, err := app.Load(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.Events.Prune(cmd.Context(), olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d event(s).\n", removed)

	if keepUsage {
		return nil
	}
	samples, err := a.Usage.Prune(cmd.Context(), olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d usage sample(s).\n", samples)
	return nil
}
