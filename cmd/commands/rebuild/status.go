package rebuild

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"nathanbeddoewebdev/vpsd/cmd/commands/tasks"
	"nathanbeddoewebdev/vpsd/internal/app"
	rebuildsvc "nathanbeddoewebdev/vpsd/internal/services/rebuild"
	"nathanbeddoewebdev/vpsd/internal/steps"
	"nathanbeddoewebdev/vpsd/internal/stepstore"
	"nathanbeddoewebdev/vpsd/internal/taskstore"

	"github.com/spf13/cobra"
)

func StatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show the progress of a rebuild",
		Long: `Show a rebuild's current step, its overall progress and every step's
state.

Examples:
  vpsd rebuild status 12
  vpsd rebuild status 12 -o json`,
		Args:         cobra.ExactArgs(1),
		RunE:         runStatus,
		SilenceUsage: true,
	}

	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")

	return cmd
}

type statusJSON struct {
	*taskstore.Record
	Percent float64          `json:"percent"`
	Steps   []stepstore.Step `json:"steps"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := tasks.ParseID(args[0])
	if err != nil {
		return err
	}
	output, err := tasks.OutputFormat(cmd)
	if err != nil {
		return err
	}

	a, err := app.Load(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := rebuildsvc.NewService(a.Records, a.Steps, a.Locks, nil).Progress(cmd.Context(), id)
	if err != nil {
		return err
	}

	if output == "json" {
		list := p.Steps
		if list == nil {
			list = []stepstore.Step{}
		}
		return tasks.PrintJSON(cmd, statusJSON{Record: p.Record, Percent: p.Percent, Steps: list})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	tasks.PrintRecordDetail(out, p.Record)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  Overall:\t%s%%\n", strconv.FormatFloat(p.Percent, 'f', 1, 64))
	if !p.Record.IsTerminal() && p.Step != "" {
		state := "running"
		if p.Record.ExternalTaskID == "" {
			state = "waiting for 'vpsd rebuild advance'"
		}
		fmt.Fprintf(tw, "  Current:\t%s (%s)\n", steps.Label(p.Step), state)
	}
	tw.Flush()

	if len(p.Steps) > 0 {
		fmt.Fprintln(out)
		tasks.PrintSteps(out, p.Steps)
	}
	fmt.Fprintln(out)
	return nil
}
