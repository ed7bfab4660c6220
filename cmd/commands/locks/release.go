package locks

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/tui"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/spf13/cobra"
)

func ReleaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <resource>",
		Short: "Force-release a resource lock",
		Long: `Remove the lock on a resource whoever holds it. Use this after a worker
died mid-operation and you do not want to wait for the lock to expire.

Without --yes you are asked to confirm; outside a terminal --yes is
required.

Examples:
  vpsd locks release 101
  vpsd locks release 101 --yes`,
		Args:         cobra.ExactArgs(1),
		RunE:         runRelease,
		SilenceUsage: true,
	}

	cmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func runRelease(cmd *cobra.Command, args []string) error {
	resourceID := strings.TrimSpace(args[0])
	if resourceID == "" {
		return fmt.Errorf("resource id must not be empty")
	}
	yes, _ := cmd.Flags().GetBool("yes")

	a, err := app.Load(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	l, err := findLock(cmd.Context(), a, resourceID)
	if err != nil {
		return err
	}
	if l == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Resource %s is not locked.\n", resourceID)
		return nil
	}

	if !yes {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("refusing to release the lock on %s without --yes", resourceID)
		}
		if err := tui.ConfirmRelease(l, a.Locks.Now()); err != nil {
			if errors.Is(err, tui.ErrAborted) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Release cancelled.")
				return nil
			}
			return err
		}
	}

	if err := a.Locks.Release(cmd.Context(), resourceID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Released the lock on %s.\n", resourceID)
	a.Log.Info("lock released by operator", zap.String("resource", resourceID), zap.String("owner", l.Owner))
	return nil
}
