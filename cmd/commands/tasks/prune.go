package tasks

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/taskstore"

	"github.com/spf13/cobra"
)

// PruneCommand returns the "tasks prune" command.
func PruneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished tasks older than a duration",
		Long: `Delete completed and failed task records older than a duration. Active
tasks are never pruned.

Examples:
  vpsd tasks prune --older-than 30d
  vpsd tasks prune --older-than 72h`,
		RunE:         runPrune,
		SilenceUsage: true,
	}

	cmd.Flags().String("older-than", "", "Remove tasks finished before this duration (e.g. 30d, 72h)")

	return cmd
}

func runPrune(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetString("older-than")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("--older-than is required")
	}
	olderThan, err := ParseAge(raw)
	if err != nil {
		return err
	}

	a, err := app.Load(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	old, err := a.Records.ListOlderThan(ctx, olderThan)
	if err != nil {
		return err
	}
	for _, rec := range old {
		if rec.Kind != taskstore.KindRebuild {
			continue
		}
		if _, err := a.Steps.DeleteByParent(ctx, rec.ID); err != nil {
			return err
		}
	}

	removed, err := a.Records.DeleteOlderThan(ctx, olderThan)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d task(s).\n", removed)
	return nil
}

// ParseAge parses a Go duration or a whole number of days ("30d").
func ParseAge(input string) (time.Duration, error) {
	if before, ok := strings.CutSuffix(input, "d"); ok {
		days, err := strconv.Atoi(before)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", input)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be positive")
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(input)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", input)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return d, nil
}
