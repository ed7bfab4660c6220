package tasks

import (
	"fmt"
	"strings"
	"time"

	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/taskstore"

	"github.com/spf13/cobra"
)

// ListCommand returns the "tasks list" command.
func ListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked tasks",
		Long: `List tracked tasks. By default only active tasks (pending, running or
deleting) are shown. Use --all to include finished tasks.

Examples:
  vpsd tasks list
  vpsd tasks list --all --limit 50
  vpsd tasks list --resource 101 -o json`,
		RunE:         runList,
		SilenceUsage: true,
	}

	cmd.Flags().Bool("all", false, "Include completed and failed tasks")
	cmd.Flags().Int("limit", 25, "Number of tasks to show with --all")
	cmd.Flags().String("resource", "", "Only show tasks for this resource")
	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")

	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	showAll, _ := cmd.Flags().GetBool("all")
	limit, _ := cmd.Flags().GetInt("limit")
	resource, _ := cmd.Flags().GetString("resource")
	resource = strings.TrimSpace(resource)
	if limit <= 0 {
		return fmt.Errorf("limit must be greater than 0")
	}
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
	var records []taskstore.Record
	switch {
	case resource != "":
		records, err = a.Records.ListByResource(ctx, resource)
		if err == nil && !showAll {
			records = activeOnly(records)
		}
	case showAll:
		records, err = a.Records.ListRecent(ctx, limit)
	default:
		records, err = a.Records.ListActive(ctx)
	}
	if err != nil {
		return err
	}

	if output == "json" {
		if records == nil {
			records = []taskstore.Record{}
		}
		return PrintJSON(cmd, records)
	}

	if len(records) == 0 {
		if showAll {
			fmt.Fprintln(cmd.OutOrStdout(), "No tasks found.")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "No active tasks.")
		}
		return nil
	}

	printRecords(cmd.OutOrStdout(), records, time.Now())
	return nil
}

func activeOnly(records []taskstore.Record) []taskstore.Record {
	out := records[:0]
	for _, r := range records {
		if !r.IsTerminal() {
			out = append(out, r)
		}
	}
	return out
}
