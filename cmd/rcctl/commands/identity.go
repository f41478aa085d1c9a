package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var identityCmd = &cobra.Command{
	Use:   "identity <scope> <external-id>",
	Short: "Show a synced identity and its reference media",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid external id %q", args[1])
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), globalFlags.timeout)
		defer cancel()

		resp, err := newClient().Identity(ctx, args[0], id)
		if err != nil {
			return err
		}
		if globalFlags.json {
			return printJSON(resp)
		}

		printInfo("%s (%s, %d) synced %s", resp.DisplayName, resp.IdentityType, resp.ExternalID, resp.SyncedAt)
		if resp.Version != nil {
			printInfo("Version: %s", strconv.FormatFloat(*resp.Version, 'f', -1, 64))
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TYPE\tFILE\tEMBEDDED\tERROR")
		for _, m := range resp.Media {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", m.AssetType, m.FileName, m.HasEmbedding, m.Error)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(identityCmd)
}
