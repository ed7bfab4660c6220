package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/eventlog"

	"github.com/spf13/cobra"
)

func ListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent monitoring events",
		Long: `List recent monitoring events, newest first.

Examples:
  vpsd events list
  vpsd events list --limit 50
  vpsd events list --record 12
  vpsd events list -o json`,
		RunE:         runList,
		SilenceUsage: true,
	}

	cmd.Flags().Int("limit", 25, "Number of entries to display")
	cmd.Flags().Int64("record", 0, "Only show events of this task")
	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")

	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return fmt.Errorf("limit must be greater than 0")
	}

	recordID, _ := cmd.Flags().GetInt64("record")
	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = "table"
	}
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q", output)
	}

	a, err := app.Load(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	var entries []eventlog.Entry
	if recordID > 0 {
		entries, err = a.Events.ListByRecord(cmd.Context(), recordID, limit)
	} else {
		entries, err = a.Events.List(cmd.Context(), limit)
	}
	if err != nil {
		return err
	}

	if output == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No events found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tTASK\tATTEMPT\tEVENT\tDETAIL")
	fmt.Fprintln(w, "----\t----\t----\t-------\t-----\t------")
	for _, entry := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			entry.Timestamp.Local().Format("2006-01-02 15:04:05"),
			entry.Kind,
			formatTarget(entry),
			entry.Attempt,
			entry.Type,
			formatDetail(entry),
		)
	}
	w.Flush()
	return nil
}

// formatTarget names what the event was about: the record, the resource
// and the hypervisor task, whichever are known.
func formatTarget(entry eventlog.Entry) string {
	target := ""
	if entry.RecordID > 0 {
		target = "#" + strconv.FormatInt(entry.RecordID, 10)
	}
	if entry.ResourceID != "" {
		if target != "" {
			target += " "
		}
		target += entry.ResourceID
	}
	if entry.TaskID != "" {
		target += " (" + entry.TaskID + ")"
	}
	if target == "" {
		return "-"
	}
	return target
}

func formatDetail(entry eventlog.Entry) string {
	detail := entry.Message
	if entry.Percent != nil {
		pct := strconv.FormatFloat(*entry.Percent, 'f', 0, 64) + "%"
		if detail != "" {
			detail = pct + " " + detail
		} else {
			detail = pct
		}
	}
	if detail == "" {
		return "-"
	}
	if len(detail) > 60 {
		detail = detail[:57] + "..."
	}
	return detail
}
