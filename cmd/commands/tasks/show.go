package tasks

import (
	"fmt"

	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/eventlog"
	"nathanbeddoewebdev/vpsd/internal/stepstore"
	"nathanbeddoewebdev/vpsd/internal/taskstore"

	"github.com/spf13/cobra"
)

// ShowCommand returns the "tasks show" command.
func ShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a tracked task",
		Long: `Show a tracked task with its steps (for rebuilds) and its most recent
monitoring events.

Examples:
  vpsd tasks show 12
  vpsd tasks show 12 --events 50
  vpsd tasks show 12 -o json`,
		Args:         cobra.ExactArgs(1),
		RunE:         runShow,
		SilenceUsage: true,
	}

	cmd.Flags().Int("events", 10, "Number of recent events to show")
	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")

	return cmd
}

// taskDetail is the JSON shape of "tasks show".
type taskDetail struct {
	*taskstore.Record
	Steps  []stepstore.Step `json:"steps,omitempty"`
	Events []eventlog.Entry `json:"events"`
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := ParseID(args[0])
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("events")
	output, err := OutputFormat(cmd)
	if err != nil {
		return err
	}

	a, err := app.Load(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	rec, err := a.Records.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("task #%d not found", id)
	}

	detail := taskDetail{Record: rec, Events: []eventlog.Entry{}}
	if rec.Kind == taskstore.KindRebuild {
		if detail.Steps, err = a.Steps.ListByParent(ctx, rec.ID); err != nil {
			return err
		}
	}
	if limit > 0 {
		events, err := a.Events.ListByRecord(ctx, rec.ID, limit)
		if err != nil {
			return err
		}
		if events != nil {
			detail.Events = events
		}
	}

	if output == "json" {
		return PrintJSON(cmd, detail)
	}

	out := cmd.OutOrStdout()
	PrintRecordDetail(out, rec)
	if len(detail.Steps) > 0 {
		fmt.Fprintln(out, "\nSteps:")
		PrintSteps(out, detail.Steps)
	}
	if len(detail.Events) > 0 {
		fmt.Fprintln(out, "\nRecent events:")
		printEvents(out, detail.Events)
	}
	return nil
}
