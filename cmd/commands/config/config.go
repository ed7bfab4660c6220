package config

import (
	"nathanbeddoewebdev/vpsd/internal/config"

	"github.com/spf13/cobra"
)

// NewCommand returns the "config" parent command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage vpsd configuration",
		Long: "View and modify persistent vpsd settings.\n\n" +
			"Configuration is stored at ~/.config/vpsd/config.json. Every key can be\n" +
			"overridden by an environment variable such as VPSD_QUEUE_BACKEND or\n" +
			"VPSD_LOCKS_TTL.\n\n" +
			config.KeysHelp(),
	}

	cmd.AddCommand(SetCommand())
	cmd.AddCommand(GetCommand())

	return cmd
}
