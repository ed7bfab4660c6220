package auth

import (
	"github.com/spf13/cobra"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage hypervisor credentials",
		Long: `Manage hypervisor credentials.

Tokens are stored in the local keychain. An environment variable named
VPSD_<PROVIDER>_TOKEN takes precedence over the keychain, which suits
workers running under a service manager.`,
	}

	cmd.AddCommand(LoginCommand())
	cmd.AddCommand(LogoutCommand())
	cmd.AddCommand(StatusCommand())

	return cmd
}
