package auth

import (
	"fmt"
	"os"

	"nathanbeddoewebdev/vpsd/cmd/commands/runner"
	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/tui"

	"golang.org/x/term"

	"github.com/spf13/cobra"
)

func StatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show authentication status for providers",
		Long: `Show which hypervisor providers have credentials, and where they come
from (keychain or environment).

Example:
  vpsd auth status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := runner.Store()
			providerNames := hypervisor.List()

			// Use TUI in interactive terminal.
			if term.IsTerminal(int(os.Stdout.Fd())) {
				if err := tui.RunAuthStatus(store, providerNames); err != nil {
					return fmt.Errorf("auth status failed: %w", err)
				}
				return nil
			}

			// Non-interactive fallback.
			if len(providerNames) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No providers registered.")
				return nil
			}

			for _, st := range tui.ProviderStatuses(store, providerNames) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", st.Name, st.Status)
			}
			return nil
		},
		SilenceUsage: true,
	}

	return cmd
}
