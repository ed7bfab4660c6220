package locks

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"nathanbeddoewebdev/vpsd/internal/app"

	"github.com/spf13/cobra"
)

func StatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <resource>",
		Short: "Show whether a resource is locked",
		Long: `Show whether a resource is locked and by whom.

Examples:
  vpsd locks status 101
  vpsd locks status 101 -o json`,
		Args:         cobra.ExactArgs(1),
		RunE:         runStatus,
		SilenceUsage: true,
	}

	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")

	return cmd
}

type lockStatus struct {
	ResourceID string `json:"resource_id"`
	Locked     bool   `json:"locked"`
	Owner      string `json:"owner,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	resourceID := strings.TrimSpace(args[0])
	if resourceID == "" {
		return fmt.Errorf("resource id must not be empty")
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

	l, err := a.Locks.Get(cmd.Context(), resourceID)
	if err != nil {
		return err
	}

	if output == "json" {
		st := lockStatus{ResourceID: resourceID, Locked: l != nil}
		if l != nil {
			st.Owner = l.Owner
			st.ExpiresAt = l.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		return printJSON(cmd, st)
	}

	if l == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Resource %s is not locked.\n", resourceID)
		return nil
	}

	now := a.Locks.Now()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  Resource:\t%s\n", l.ResourceID)
	fmt.Fprintf(w, "  Owner:\t%s\n", owner(l))
	fmt.Fprintf(w, "  Acquired:\t%s\n", l.AcquiredAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  Expires in:\t%s\n", remaining(l, now))
	w.Flush()
	return nil
}
