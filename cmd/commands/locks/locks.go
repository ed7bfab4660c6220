package locks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/lockstore"

	"github.com/spf13/cobra"
)

// NewCommand returns the "locks" parent command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and release resource locks",
		Long: `Resource locks keep two exclusive operations (a restore and a rebuild,
say) from running on the same resource at once. Workers release them when
the operation finishes; a lock left behind by a crashed process expires on
its own after the configured lock-ttl.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(ListCommand())
	cmd.AddCommand(StatusCommand())
	cmd.AddCommand(ReleaseCommand())

	return cmd
}

// findLock returns the stored lock on resourceID, expired or not.
func findLock(ctx context.Context, a *app.App, resourceID string) (*lockstore.Lock, error) {
	if l, err := a.Locks.Get(ctx, resourceID); err != nil || l != nil {
		return l, err
	}
	all, err := a.Locks.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ResourceID == resourceID {
			return &all[i], nil
		}
	}
	return nil, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func lockState(l *lockstore.Lock, now time.Time) string {
	if l.Expired(now) {
		return "expired"
	}
	return "held"
}

func owner(l *lockstore.Lock) string {
	if l.Owner == "" {
		return "-"
	}
	return l.Owner
}

func remaining(l *lockstore.Lock, now time.Time) string {
	if l.Expired(now) {
		return "-"
	}
	return l.ExpiresAt.Sub(now).Truncate(time.Second).String()
}
