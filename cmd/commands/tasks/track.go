package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"nathanbeddoewebdev/vpsd/cmd/commands/runner"
	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/services/lock"
	tasksvc "nathanbeddoewebdev/vpsd/internal/services/tasks"
	"nathanbeddoewebdev/vpsd/internal/taskstore"

	"github.com/spf13/cobra"
)

// TrackCommand returns the "tasks track" command.
func TrackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Start monitoring a hypervisor task",
		Long: `Record a hypervisor task and hand it to the monitoring queue.

Pass --task with the id of a task that is already running. Without --task,
vpsd starts the task itself (the hypervisor provider must support it).

Restores always hold the resource lock while they run; use --lock to take
it for other kinds too. A busy resource is reported as an error.

With --follow the command stays until the task settles. When the queue
backend is "memory" the monitoring jobs then run inside this command.

Examples:
  vpsd tasks track --kind backup_create --resource 101 --task 'UPID:node:0001'
  vpsd tasks track --kind backup_restore --resource 101 --task 4711 --follow
  vpsd tasks track --kind backup_create --resource 101 --label nightly`,
		RunE:         runTrack,
		SilenceUsage: true,
	}

	cmd.Flags().String("kind", "", "Task kind: backup_create, backup_restore, backup_delete, iso_download")
	cmd.Flags().String("resource", "", "Hypervisor resource the task acts on")
	cmd.Flags().String("task", "", "Id of a task that is already running")
	cmd.Flags().String("type", "", "Task type to start when --task is not given")
	cmd.Flags().String("label", "", "Human-readable label (backup or ISO name)")
	cmd.Flags().Bool("lock", false, "Hold the resource lock while the task runs")
	cmd.Flags().Bool("follow", false, "Wait until the task settles")
	cmd.MarkFlagRequired("kind")
	cmd.MarkFlagRequired("resource")

	return cmd
}

func runTrack(cmd *cobra.Command, args []string) error {
	kindFlag, _ := cmd.Flags().GetString("kind")
	kind, err := taskstore.ParseKind(strings.ToLower(strings.TrimSpace(kindFlag)))
	if err != nil {
		return err
	}
	if kind == taskstore.KindRebuild {
		return fmt.Errorf("rebuilds are started with 'vpsd rebuild begin'")
	}

	req := tasksvc.Request{Kind: kind}
	req.ResourceID, _ = cmd.Flags().GetString("resource")
	req.TaskID, _ = cmd.Flags().GetString("task")
	req.TaskType, _ = cmd.Flags().GetString("type")
	req.Label, _ = cmd.Flags().GetString("label")
	req.Lock, _ = cmd.Flags().GetBool("lock")
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	req.TaskID = strings.TrimSpace(req.TaskID)
	follow, _ := cmd.Flags().GetBool("follow")

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	a, err := app.Load(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := runner.New(a, runner.Options{NeedClient: req.TaskID == "", Follow: follow})
	if err != nil {
		return err
	}
	defer r.Close()

	var opts []tasksvc.Option
	if actions := r.Actions(); actions != nil {
		opts = append(opts, tasksvc.WithActions(actions))
	}
	svc := tasksvc.NewService(a.Records, a.Locks, r.Scheduler(), opts...)

	rec, err := svc.Track(ctx, req)
	if errors.Is(err, lock.ErrInProgress) {
		return fmt.Errorf("resource %s is busy: %w", req.ResourceID, err)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Tracking task #%d (%s on %s, task %s).\n", rec.ID, rec.Kind, rec.ResourceID, rec.ExternalTaskID)

	if !follow {
		if r.Detached() {
			fmt.Fprintf(cmd.ErrOrStderr(), "A running worker picks it up within seconds. Use 'vpsd tasks watch %d' to follow it.\n", rec.ID)
		}
		return nil
	}
	return Follow(ctx, cmd, r, rec.ID)
}

// Follow follows record id and prints its outcome. A failed record is an
// error so scripts can rely on the exit status.
func Follow(ctx context.Context, cmd *cobra.Command, r *runner.Runner, id int64) error {
	rec, err := r.Wait(ctx, id, cmd.ErrOrStderr())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\nStopped following task #%d; it is still tracked. Run 'vpsd worker' to keep monitoring it.\n", id)
			return nil
		}
		return err
	}
	return report(cmd, id, rec)
}
