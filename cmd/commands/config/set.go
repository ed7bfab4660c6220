package config

import (
	"fmt"
	"strings"

	"nathanbeddoewebdev/vpsd/internal/config"
	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/util"

	"github.com/spf13/cobra"
)

// SetCommand returns the "config set" command.
func SetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: "Set a persistent configuration value.\n\n" +
			config.KeysHelp() +
			"\nExamples:\n" +
			"  vpsd config set hypervisor-provider hetzner\n" +
			"  vpsd config set queue-backend nats\n" +
			"  vpsd config set lock-ttl 90m",
		Args:         cobra.ExactArgs(2),
		RunE:         runSet,
		SilenceUsage: true,
	}

	return cmd
}

// validators maps key names to optional pre-save validation functions.
// Keys not present in this map rely on the key's own Set validation.
var validators = map[string]func(value string) (string, error){
	"hypervisor-provider": validateProvider,
}

func runSet(cmd *cobra.Command, args []string) error {
	key := util.NormalizeKey(args[0])
	value := strings.TrimSpace(args[1])

	spec := config.Lookup(key)
	if spec == nil {
		return fmt.Errorf("unknown configuration key %q (valid: %s)", args[0], strings.Join(config.KeyNames(), ", "))
	}

	if validate, ok := validators[spec.Name]; ok {
		normalized, err := validate(value)
		if err != nil {
			return err
		}
		value = normalized
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := spec.Set(cfg, value); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s set to %q\n", spec.Name, spec.Get(cfg))
	return nil
}

// validateProvider checks that the given name is a registered provider.
func validateProvider(name string) (string, error) {
	normalized := util.NormalizeKey(name)
	known := hypervisor.List()
	for _, p := range known {
		if p == normalized {
			return normalized, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q (registered: %s)", name, strings.Join(known, ", "))
}
