package usage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"nathanbeddoewebdev/vpsd/cmd/commands/tasks"
	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/tui/components"

	"golang.org/x/term"

	"github.com/spf13/cobra"
)

func ShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <resource>",
		Short: "Show stored usage samples for a resource",
		Long: `Summarise the usage samples stored for a resource. In a terminal each
series is drawn as a sparkline; otherwise current, minimum, maximum and
average values are printed.

Examples:
  vpsd usage show 101
  vpsd usage show 101 --since 7d
  vpsd usage show 101 -o json`,
		Args:         cobra.ExactArgs(1),
		RunE:         runShow,
		SilenceUsage: true,
	}

	cmd.Flags().String("since", "24h", "Only use samples newer than this (e.g. 6h, 7d)")
	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")

	return cmd
}

// series is one usage counter across samples.
type series struct {
	name   string
	format func(float64) string
	values []float64
}

func runShow(cmd *cobra.Command, args []string) error {
	resourceID := strings.TrimSpace(args[0])
	if resourceID == "" {
		return fmt.Errorf("resource id must not be empty")
	}
	sinceRaw, _ := cmd.Flags().GetString("since")
	window, err := tasks.ParseAge(strings.TrimSpace(sinceRaw))
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q", output)
	}

	a, err := app.Load(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	samples, err := a.Usage.ListByResource(cmd.Context(), resourceID, time.Now().Add(-window))
	if err != nil {
		return err
	}

	if output == "json" {
		if samples == nil {
			samples = []hypervisor.Usage{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(samples)
	}

	if len(samples) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No usage samples for %s in the last %s.\n", resourceID, sinceRaw)
		return nil
	}

	all := collect(samples)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		width, _, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil || width <= 0 {
			width = 80
		}
		printSparklines(cmd.OutOrStdout(), all, min(width-2, 100))
	} else {
		printSummary(cmd.OutOrStdout(), all)
	}
	last := samples[len(samples)-1].SampledAt.Local().Format("2006-01-02 15:04:05")
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d sample(s), last taken %s.\n", len(samples), last)
	return nil
}

func collect(samples []hypervisor.Usage) []series {
	all := []series{
		{name: "cpu", format: components.FormatPercent},
		{name: "disk read", format: components.FormatRate},
		{name: "disk write", format: components.FormatRate},
		{name: "network in", format: components.FormatRate},
		{name: "network out", format: components.FormatRate},
	}
	for _, u := range samples {
		all[0].values = append(all[0].values, u.CPUPercent)
		all[1].values = append(all[1].values, u.DiskRead)
		all[2].values = append(all[2].values, u.DiskWrite)
		all[3].values = append(all[3].values, u.NetworkIn)
		all[4].values = append(all[4].values, u.NetworkOut)
	}
	return all
}

func printSparklines(w io.Writer, all []series, width int) {
	for _, s := range all {
		fmt.Fprintln(w, components.Sparkline(s.name, s.values, width, s.format))
		fmt.Fprintln(w)
	}
}

// printSummary prints a table with per-series summaries.
func printSummary(w io.Writer, all []series) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tCUR\tMIN\tMAX\tAVG")
	fmt.Fprintln(tw, "------\t---\t---\t---\t---")
	for _, s := range all {
		cur, lo, hi, avg := computeStats(s.values)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.name, s.format(cur), s.format(lo), s.format(hi), s.format(avg))
	}
	tw.Flush()
}

// computeStats returns the last, minimum, maximum and mean of values.
func computeStats(values []float64) (cur, lo, hi, avg float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	cur = values[len(values)-1]
	lo, hi = values[0], values[0]
	var sum float64
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
		sum += v
	}
	return cur, lo, hi, sum / float64(len(values))
}
