package config

import (
	"fmt"
	"os"
	"strings"

	"nathanbeddoewebdev/vpsd/internal/config"
	"nathanbeddoewebdev/vpsd/internal/tui"
	"nathanbeddoewebdev/vpsd/internal/util"

	"golang.org/x/term"

	"github.com/spf13/cobra"
)

// GetCommand returns the "config get" command.
func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Get a configuration value",
		Long: "Get a persistent configuration value.\n\n" +
			"If no key is provided and running in a terminal, opens an interactive\n" +
			"config viewer where you can browse and edit all settings.\n\n" +
			"With --effective the value vpsd actually uses is printed: built-in\n" +
			"defaults, overlaid by the config file, overlaid by VPSD_* variables.\n\n" +
			config.KeysHelp() +
			"\nExamples:\n" +
			"  vpsd config get                        # interactive viewer\n" +
			"  vpsd config get queue-backend          # print a single value\n" +
			"  vpsd config get lock-ttl --effective   # include defaults and env",
		Args:         cobra.MaximumNArgs(1),
		RunE:         runGet,
		SilenceUsage: true,
	}

	cmd.Flags().Bool("effective", false, "Show the resolved value instead of the saved one")

	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	effective, _ := cmd.Flags().GetBool("effective")

	load := config.Load
	if effective {
		load = config.Resolve
	}

	// No key: open interactive config viewer.
	if len(args) == 0 {
		if !effective && term.IsTerminal(int(os.Stdout.Fd())) {
			if err := tui.RunConfigView(); err != nil {
				return fmt.Errorf("config view failed: %w", err)
			}
			return nil
		}

		// Non-interactive: list all values.
		cfg, err := load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		for _, spec := range config.Keys {
			value := spec.Get(cfg)
			if value == "" {
				value = "(not set)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", spec.Name, value)
		}
		return nil
	}

	key := util.NormalizeKey(args[0])

	spec := config.Lookup(key)
	if spec == nil {
		return fmt.Errorf("unknown configuration key %q (valid: %s)", args[0], strings.Join(config.KeyNames(), ", "))
	}

	cfg, err := load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	value := spec.Get(cfg)
	if value == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "not set")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), value)
	}
	return nil
}
