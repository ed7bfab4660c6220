package rebuild

import (
	"nathanbeddoewebdev/vpsd/cmd/commands/runner"
	"nathanbeddoewebdev/vpsd/internal/app"
	rebuildsvc "nathanbeddoewebdev/vpsd/internal/services/rebuild"

	"github.com/spf13/cobra"
)

// NewCommand returns the "rebuild" parent command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild a server and follow its steps",
		Long: `Rebuild a server: delete it, recreate it from the configured image,
restore its last backup and start it again. Each step is a hypervisor
task monitored by a worker. The resource stays locked for the whole
rebuild.

When the hypervisor provider cannot start step tasks on its own, the
rebuild pauses between steps; start the next task yourself and hand it
over with 'vpsd rebuild advance'.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(BeginCommand())
	cmd.AddCommand(AdvanceCommand())
	cmd.AddCommand(StatusCommand())

	return cmd
}

func newService(a *app.App, r *runner.Runner) *rebuildsvc.Service {
	var opts []rebuildsvc.Option
	if actions := r.Actions(); actions != nil {
		opts = append(opts, rebuildsvc.WithActions(actions))
	}
	return rebuildsvc.NewService(a.Records, a.Steps, a.Locks, r.Scheduler(), opts...)
}
