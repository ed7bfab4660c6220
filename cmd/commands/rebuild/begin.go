package rebuild

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"nathanbeddoewebdev/vpsd/cmd/commands/runner"
	"nathanbeddoewebdev/vpsd/cmd/commands/tasks"
	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/services/lock"

	"github.com/spf13/cobra"
)

func BeginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "begin <resource>",
		Short: "Start a rebuild",
		Long: `Lock the resource, record the rebuild and its steps, and hand the first
step to the monitoring queue.

Pass --task with the id of the delete task if it is already running;
otherwise vpsd starts it.

Examples:
  vpsd rebuild begin 101
  vpsd rebuild begin 101 --task 4711 --follow`,
		Args:         cobra.ExactArgs(1),
		RunE:         runBegin,
		SilenceUsage: true,
	}

	cmd.Flags().String("task", "", "Id of the delete task if it is already running")
	cmd.Flags().Bool("follow", false, "Wait until the rebuild settles")

	return cmd
}

func runBegin(cmd *cobra.Command, args []string) error {
	resourceID := strings.TrimSpace(args[0])
	if resourceID == "" {
		return fmt.Errorf("resource id must not be empty")
	}
	taskID, _ := cmd.Flags().GetString("task")
	taskID = strings.TrimSpace(taskID)
	follow, _ := cmd.Flags().GetBool("follow")

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	a, err := app.Load(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := runner.New(a, runner.Options{NeedClient: taskID == "", Follow: follow})
	if err != nil {
		return err
	}
	defer r.Close()

	rec, err := newService(a, r).Begin(ctx, resourceID, taskID)
	if errors.Is(err, lock.ErrInProgress) {
		return fmt.Errorf("resource %s is busy: %w", resourceID, err)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Rebuild #%d of %s started (step %s, task %s).\n", rec.ID, rec.ResourceID, rec.Step, rec.ExternalTaskID)
	if !follow {
		if r.Detached() {
			fmt.Fprintf(cmd.ErrOrStderr(), "A running worker picks it up within seconds. Use 'vpsd tasks watch %d' to follow it.\n", rec.ID)
		}
		return nil
	}
	return tasks.Follow(ctx, cmd, r, rec.ID)
}
