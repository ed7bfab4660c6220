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
	rebuildsvc "nathanbeddoewebdev/vpsd/internal/services/rebuild"

	"github.com/spf13/cobra"
)

func AdvanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Hand the next step of a paused rebuild to the queue",
		Long: `Start the current step of a rebuild that is waiting between steps.

Pass --task with the id of a task you started yourself; otherwise vpsd
starts it.

Examples:
  vpsd rebuild advance 12 --task 4712
  vpsd rebuild advance 12 --follow`,
		Args:         cobra.ExactArgs(1),
		RunE:         runAdvance,
		SilenceUsage: true,
	}

	cmd.Flags().String("task", "", "Id of the task running the current step")
	cmd.Flags().Bool("follow", false, "Wait until the rebuild settles")

	return cmd
}

func runAdvance(cmd *cobra.Command, args []string) error {
	id, err := tasks.ParseID(args[0])
	if err != nil {
		return err
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

	rec, err := newService(a, r).Advance(ctx, id, taskID)
	switch {
	case errors.Is(err, rebuildsvc.ErrStepInFlight):
		return fmt.Errorf("%w; use 'vpsd tasks watch %d' to follow it", err, id)
	case errors.Is(err, rebuildsvc.ErrTaskRequired):
		return fmt.Errorf("%w (pass --task)", err)
	case err != nil:
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Rebuild #%d advanced (step %s, task %s).\n", rec.ID, rec.Step, rec.ExternalTaskID)
	if !follow {
		return nil
	}
	return tasks.Follow(ctx, cmd, r, rec.ID)
}
