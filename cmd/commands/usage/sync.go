package usage

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"nathanbeddoewebdev/vpsd/cmd/commands/runner"
	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/queue"
	"nathanbeddoewebdev/vpsd/internal/worker"

	"github.com/spf13/cobra"
)

func SyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [resource...]",
		Short: "Sample usage now",
		Long: `Take one usage sample of each resource and store it. Without arguments
the resources listed in usage-resources are sampled.

Examples:
  vpsd usage sync
  vpsd usage sync 101 102`,
		RunE:         runSync,
		SilenceUsage: true,
	}

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	a, err := app.Load(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	resources := make([]string, 0, len(args))
	for _, arg := range args {
		if id := strings.TrimSpace(arg); id != "" {
			resources = append(resources, id)
		}
	}
	if len(resources) == 0 {
		resources = a.Config.UsageResources()
	}
	if len(resources) == 0 {
		return fmt.Errorf("no resources given and usage-resources is not set")
	}

	client, err := a.Hypervisor(runner.Store())
	if err != nil {
		return err
	}

	q := queue.NewMemory(1)
	defer q.Close()
	w, err := worker.New(a, client, q, worker.WithListen(""))
	if err != nil {
		return err
	}

	err = w.SampleNow(ctx, resources)
	if errors.Is(err, worker.ErrNoUsage) {
		return fmt.Errorf("provider %q does not report usage", a.Config.Hypervisor.Provider)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Sampled %d resource(s).\n", len(resources))
	return nil
}
