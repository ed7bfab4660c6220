package cmd

import (
	"os"

	"nathanbeddoewebdev/vpsd/cmd/commands/auth"
	cfgcmd "nathanbeddoewebdev/vpsd/cmd/commands/config"
	"nathanbeddoewebdev/vpsd/cmd/commands/events"
	"nathanbeddoewebdev/vpsd/cmd/commands/locks"
	"nathanbeddoewebdev/vpsd/cmd/commands/rebuild"
	"nathanbeddoewebdev/vpsd/cmd/commands/tasks"
	"nathanbeddoewebdev/vpsd/cmd/commands/usage"
	"nathanbeddoewebdev/vpsd/cmd/commands/worker"
	"nathanbeddoewebdev/vpsd/internal/config"
	"nathanbeddoewebdev/vpsd/internal/hypervisor/hetzner"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
func rootCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "vpsd",
		Short: "Monitor long-running hypervisor tasks",
		Long: `vpsd tracks long-running hypervisor tasks (backups, restores, ISO
downloads and multi-step server rebuilds) and monitors them until they
finish. Progress is kept in a local database, resources are locked while
destructive operations run, and a worker retries transient failures.

Quick start:
  vpsd auth login hetzner                               # Store your API token
  vpsd worker                                           # Run the monitoring worker
  vpsd tasks track --kind backup_create --resource 101  # Start and track a backup
  vpsd tasks list                                       # Show active tasks
  vpsd rebuild begin 101 --follow                       # Rebuild a server`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				config.SetPath(path)
			}
		},
	}

	cmd.PersistentFlags().String("config", "", "Config file (default ~/.config/vpsd/config.json)")

	cmd.AddCommand(auth.NewCommand())
	cmd.AddCommand(cfgcmd.NewCommand())
	cmd.AddCommand(tasks.NewCommand())
	cmd.AddCommand(rebuild.NewCommand())
	cmd.AddCommand(locks.NewCommand())
	cmd.AddCommand(events.NewCommand())
	cmd.AddCommand(usage.NewCommand())
	cmd.AddCommand(worker.NewCommand())

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	hetzner.Register()

	var root = rootCmd()
	err := root.Execute()
	if err != nil {
		os.Exit(1)
	}
}
