package tasks

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"nathanbeddoewebdev/vpsd/internal/eventlog"
	"nathanbeddoewebdev/vpsd/internal/stepstore"
	"nathanbeddoewebdev/vpsd/internal/taskstore"
	"nathanbeddoewebdev/vpsd/internal/units"

	"github.com/spf13/cobra"
)

const timeFormat = "2006-01-02 15:04:05"

// PrintJSON encodes v as indented JSON to the command's stdout.
func PrintJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// OutputFormat reads the --output flag.
func OutputFormat(cmd *cobra.Command) (string, error) {
	output, _ := cmd.Flags().GetString("output")
	switch output {
	case "", "table":
		return "table", nil
	case "json":
		return "json", nil
	default:
		return "", fmt.Errorf("unsupported output format %q", output)
	}
}

// printRecords prints a table of records.
func printRecords(w io.Writer, records []taskstore.Record, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tRESOURCE\tTASK\tSTATUS\tPROGRESS\tAGE")
	for _, r := range records {
		status := r.Status
		if r.Step != "" && !r.IsTerminal() {
			status += " (" + r.Step + ")"
		}
		if r.Status == taskstore.StatusFailed && r.Error != "" {
			status = "failed: " + truncate(r.Error, 40)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Kind, r.ResourceID, orDash(r.ExternalTaskID), status,
			formatPercent(r.Progress), formatAge(now.Sub(r.CreatedAt)))
	}
	tw.Flush()
}

// PrintRecordDetail prints a vertical key-value table of a record.
func PrintRecordDetail(w io.Writer, r *taskstore.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "  ID:\t%d\n", r.ID)
	fmt.Fprintf(tw, "  Kind:\t%s\n", r.Kind)
	fmt.Fprintf(tw, "  Resource:\t%s\n", r.ResourceID)
	fmt.Fprintf(tw, "  Task:\t%s\n", orDash(r.ExternalTaskID))
	if r.Label != "" {
		fmt.Fprintf(tw, "  Label:\t%s\n", r.Label)
	}
	fmt.Fprintf(tw, "  Status:\t%s\n", r.Status)
	if r.Step != "" {
		fmt.Fprintf(tw, "  Step:\t%s\n", r.Step)
	}
	fmt.Fprintf(tw, "  Progress:\t%s\n", formatPercent(r.Progress))
	if r.SizeBytes != nil {
		fmt.Fprintf(tw, "  Size:\t%s\n", units.FormatBytes(*r.SizeBytes))
	}
	if r.Error != "" {
		fmt.Fprintf(tw, "  Error:\t%s\n", r.Error)
	}
	fmt.Fprintf(tw, "  Created:\t%s\n", r.CreatedAt.Local().Format(timeFormat))
	if r.StartedAt != nil {
		fmt.Fprintf(tw, "  Started:\t%s\n", r.StartedAt.Local().Format(timeFormat))
	}
	if r.CompletedAt != nil {
		fmt.Fprintf(tw, "  Completed:\t%s\n", r.CompletedAt.Local().Format(timeFormat))
	}

	tw.Flush()
}

// PrintSteps prints the steps of a rebuild.
func PrintSteps(w io.Writer, list []stepstore.Step) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  STEP\tSTATUS\tDURATION\tTASK")
	for i := range list {
		st := &list[i]
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", st.Name, st.Status, orDash(st.HumanDuration()), orDash(st.ExternalTaskID))
	}
	tw.Flush()
}

func printEvents(w io.Writer, entries []eventlog.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  TIME\tATTEMPT\tEVENT\tMESSAGE")
	for _, e := range entries {
		msg := e.Message
		if e.Percent != nil {
			msg = formatPercent(*e.Percent) + " " + msg
		}
		fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\n",
			e.Timestamp.Local().Format(timeFormat), e.Attempt, e.Type, orDash(truncate(msg, 60)))
	}
	tw.Flush()
}

// summary is the one-line outcome printed after following a record.
func summary(r *taskstore.Record) string {
	switch r.Status {
	case taskstore.StatusCompleted:
		s := fmt.Sprintf("Task #%d (%s on %s) completed", r.ID, r.Kind, r.ResourceID)
		if r.SizeBytes != nil {
			s += ", size " + units.FormatBytes(*r.SizeBytes)
		}
		return s + "."
	case taskstore.StatusFailed:
		return fmt.Sprintf("Task #%d (%s on %s) failed: %s", r.ID, r.Kind, r.ResourceID, r.Error)
	default:
		return fmt.Sprintf("Task #%d (%s on %s) is %s.", r.ID, r.Kind, r.ResourceID, r.Status)
	}
}

// ParseID parses a positive record id.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 0, 64) + "%"
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
