package locks

import (
	"fmt"
	"text/tabwriter"

	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/lockstore"

	"github.com/spf13/cobra"
)

func ListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resource locks",
		Long: `List every stored lock. Expired locks are shown until the next
acquisition on the resource reclaims them.

Examples:
  vpsd locks list
  vpsd locks list -o json`,
		RunE:         runList,
		SilenceUsage: true,
	}

	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")

	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q", output)
	}

	a, err := app.Load(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	locks, err := a.Locks.List(cmd.Context())
	if err != nil {
		return err
	}
	if output == "json" {
		if locks == nil {
			locks = []lockstore.Lock{}
		}
		return printJSON(cmd, locks)
	}

	if len(locks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No locks held.")
		return nil
	}

	now := a.Locks.Now()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tSTATE\tOWNER\tACQUIRED\tEXPIRES IN")
	for i := range locks {
		l := &locks[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			l.ResourceID, lockState(l, now), owner(l),
			l.AcquiredAt.Local().Format("2006-01-02 15:04:05"), remaining(l, now))
	}
	w.Flush()
	return nil
}
