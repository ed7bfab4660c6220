package auth

import (
	"fmt"
	"os"
	"strings"

	"nathanbeddoewebdev/vpsd/cmd/commands/runner"
	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/services/auth"

	"golang.org/x/term"

	"github.com/spf13/cobra"
)

func LoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <provider>",
		Short: "Store an API token for a hypervisor provider",
		Long: `Store an API token for a hypervisor provider using the local keychain.

Example:
  vpsd auth login hetzner`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := auth.NormalizeProvider(args[0])
			if provider == "" {
				return fmt.Errorf("provider is required")
			}
			if !known(provider) {
				return fmt.Errorf("unknown provider %q (available: %s)", provider, strings.Join(hypervisor.List(), ", "))
			}

			token, _ := cmd.Flags().GetString("token")
			token = strings.TrimSpace(token)
			if token == "" {
				if !term.IsTerminal(int(os.Stdin.Fd())) {
					return fmt.Errorf("--token is required when stdin is not a terminal")
				}
				fmt.Fprint(cmd.OutOrStdout(), "Enter API token: ")
				bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				token = strings.TrimSpace(string(bytes))
			}

			if token == "" {
				return fmt.Errorf("token cannot be empty")
			}

			if err := runner.Store().SetToken(provider, token); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved token for provider %s\n", provider)
			if os.Getenv(auth.EnvVar(provider)) != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Note: %s is set and takes precedence over the stored token.\n", auth.EnvVar(provider))
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("token", "", "API token (optional, overrides prompt)")

	return cmd
}

// LogoutCommand returns the "auth logout" command.
func LogoutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout <provider>",
		Short: "Remove the stored API token for a provider",
		Long: `Remove a provider's API token from the local keychain.

Example:
  vpsd auth logout hetzner`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := auth.NormalizeProvider(args[0])
			if provider == "" {
				return fmt.Errorf("provider is required")
			}
			if err := runner.Store().DeleteToken(provider); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed token for provider %s\n", provider)
			return nil
		},
		SilenceUsage: true,
	}

	return cmd
}

func known(provider string) bool {
	for _, name := range hypervisor.List() {
		if name == provider {
			return true
		}
	}
	return false
}
