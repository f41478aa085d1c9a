package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/your-org/rollcall/pkg/dto"
)

var syncClassID string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a roster sync on the tracker",
	Long: `Run a roster sync on the tracker and wait for it to finish.

Without --class the tracker syncs staff and every class and reloads the
schedule. A sync already running on any replica is reported as a conflict.

Examples:
  rcctl sync
  rcctl sync --class 7A`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), globalFlags.timeout)
		defer cancel()

		resp, err := newClient().Sync(ctx, syncClassID)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		if globalFlags.json {
			return printJSON(resp)
		}
		printSummaries(resp.Scopes)
		for _, s := range resp.Scopes {
			if s.Error != "" {
				return fmt.Errorf("sync of %s failed: %s", s.Scope, s.Error)
			}
		}
		return nil
	},
}

func printSummaries(scopes []dto.ScopeSummary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCOPE\tADDED\tUPDATED\tUNCHANGED\tDELETED\tFAILURES\tBUILT\tERROR")
	for _, s := range scopes {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%t\t%s\n",
			s.Scope, s.Added, s.Updated, s.Unchanged, s.Deleted, s.AssetFailures, s.Built, s.Error)
	}
	w.Flush()
}

func init() {
	syncCmd.Flags().StringVar(&syncClassID, "class", "", "sync only this class")
	rootCmd.AddCommand(syncCmd)
}
