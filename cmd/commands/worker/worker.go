package worker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nathanbeddoewebdev/vpsd/cmd/commands/runner"
	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/telemetry"
	"nathanbeddoewebdev/vpsd/internal/worker"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long buffered spans may take to flush.
const shutdownTimeout = 5 * time.Second

// NewCommand returns the "worker" command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the monitoring worker",
		Long: `Run a long-lived worker that monitors tracked tasks until they settle.

On start the worker resumes every active record, then consumes the job
queue. It also samples resource usage on a timer and serves Prometheus
metrics and a health check on metrics-listen.

With the "memory" queue backend exactly one worker should run; it picks
up tasks tracked by other vpsd commands every few seconds. With "nats"
any number of workers can share the queue.

Examples:
  vpsd worker
  VPSD_QUEUE_BACKEND=nats VPSD_LOG_ENCODING=json vpsd worker
  vpsd worker --listen ""`,
		Args:         cobra.NoArgs,
		RunE:         runWorker,
		SilenceUsage: true,
	}

	cmd.Flags().String("listen", "", "Override metrics-listen (empty string disables the endpoint)")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.Load(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	shutdown, err := telemetry.InitTracing(ctx, "vpsd-worker", a.Config.Tracing.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := shutdown(sctx); err != nil {
			a.Log.Warn("could not flush traces", zap.Error(err))
		}
	}()

	client, err := a.Hypervisor(runner.Store())
	if err != nil {
		return err
	}

	q, err := a.Queue()
	if err != nil {
		return err
	}
	defer q.Close()

	var opts []worker.Option
	if cmd.Flags().Changed("listen") {
		listen, _ := cmd.Flags().GetString("listen")
		opts = append(opts, worker.WithListen(listen))
	}

	w, err := worker.New(a, client, q, opts...)
	if err != nil {
		return err
	}

	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
