package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"nathanbeddoewebdev/vpsd/cmd/commands/runner"
	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/taskstore"
	"nathanbeddoewebdev/vpsd/internal/tui"

	"golang.org/x/term"

	"github.com/spf13/cobra"
)

// WatchCommand returns the "tasks watch" command.
func WatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Watch a task until it settles",
		Long: `Show a live view of a tracked task until it completes or fails.

Watching only reads local records; a worker must be running for the task
to make progress. In a terminal a full-screen view is shown, otherwise
status changes are printed as they happen.

Example:
  vpsd tasks watch 12`,
		Args:         cobra.ExactArgs(1),
		RunE:         runWatch,
		SilenceUsage: true,
	}

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	id, err := ParseID(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	a, err := app.Load(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.Records.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("task #%d not found", id)
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		snap, err := tui.RunTaskWatch(id, runner.Snapshot(a, id))
		if err != nil {
			return fmt.Errorf("task watch failed: %w", err)
		}
		if snap != nil && snap.Record != nil {
			fmt.Fprintln(cmd.OutOrStdout(), summary(snap.Record))
		}
		return nil
	}

	rec, err = runner.Watch(ctx, a.Records, id, cmd.ErrOrStderr())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}
	return report(cmd, id, rec)
}

// WaitCommand returns the "tasks wait" command.
func WaitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait <id>",
		Short: "Block until a task settles",
		Long: `Block until a tracked task completes or fails. The exit status is
non-zero when the task failed or the timeout elapsed, which makes this
suitable for scripts.

Examples:
  vpsd tasks wait 12
  vpsd tasks wait 12 --timeout 30m`,
		Args:         cobra.ExactArgs(1),
		RunE:         runWait,
		SilenceUsage: true,
	}

	cmd.Flags().Duration("timeout", 0, "Give up after this long (0 waits forever)")

	return cmd
}

func runWait(cmd *cobra.Command, args []string) error {
	id, err := ParseID(args[0])
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	a, err := app.Load(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	var rec *taskstore.Record
	wait := func(ctx context.Context, w io.Writer) error {
		rec, err = runner.Watch(ctx, a.Records, id, w)
		return err
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		err = tui.WithSpinner(ctx, fmt.Sprintf("Waiting for task #%d...", id), func(ctx context.Context) error {
			return wait(ctx, io.Discard)
		})
	} else {
		err = wait(ctx, cmd.ErrOrStderr())
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("task #%d did not settle within %s", id, timeout)
	case errors.Is(err, tui.ErrAborted), errors.Is(err, context.Canceled):
		return fmt.Errorf("stopped waiting for task #%d", id)
	case err != nil:
		return err
	}
	return report(cmd, id, rec)
}

func report(cmd *cobra.Command, id int64, rec *taskstore.Record) error {
	if rec == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Task #%d was removed.\n", id)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary(rec))
	if rec.Status == taskstore.StatusFailed {
		return fmt.Errorf("task #%d failed", id)
	}
	return nil
}
